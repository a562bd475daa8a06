package widevine_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/widevine"
	"cdmkit/internal/protocol/widevine/widevinetest"
)

func newCdm(t *testing.T, opts ...widevine.Option) (*widevine.Cdm, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts = append([]widevine.Option{
		widevine.WithLogger(logger),
		widevine.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	}, opts...)
	return widevine.New(newDevice(t, widevine.DeviceAndroid), opts...), hook
}

func TestSession_LicenseExchange(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	server := &widevinetest.Server{}

	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{16}0100000000000000$`, sess.ID())

	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageLicenseRequest, msg.Type)

	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	req := server.Requests()[0]
	assert.Equal(t, []byte(sess.ID()), req.ContentID.RequestID)
	assert.Equal(t, widevine.LicenseStreaming, req.ContentID.LicenseType)
	assert.Equal(t, widevine.ProtocolVersion21, req.ProtocolVersion)
	assert.Equal(t, int64(1700000000), req.RequestTime)
	assert.Nil(t, req.EncryptedClientID)

	res, err := sess.Update(ctx, resp)
	require.NoError(t, err)
	require.Len(t, res.Keys, len(widevinetest.DefaultKeys))
	for i, want := range widevinetest.DefaultKeys {
		assert.Equal(t, want.ID, res.Keys[i].ID)
		assert.Equal(t, want.Value, res.Keys[i].Value)
		assert.Equal(t, "CONTENT", res.Keys[i].Type)
		assert.Equal(t, "SW_SECURE_CRYPTO", res.Keys[i].SecurityLevel)
	}
	assert.Equal(t, res.Keys, sess.Keys())

	// keyed sessions close themselves
	_, err = sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSession_PersistentRequestsOfflineLicense(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	server := &widevinetest.Server{}
	sess, err := cdm.CreateSession(ctx, domain.SessionPersistent)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	_, err = server.Respond(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, widevine.LicenseOffline, server.Requests()[0].ContentID.LicenseType)
}

func TestSession_SignatureMismatchLeavesNoKeys(t *testing.T) {
	ctx := context.Background()
	cdm, hook := newCdm(t)
	server := &widevinetest.Server{Tamper: true}

	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)

	_, err = sess.Update(ctx, resp)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, sess.Keys())

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "license signature mismatch" {
			logged = true
			assert.Contains(t, e.Data, "calculated")
		}
	}
	assert.True(t, logged)
}

func TestSession_CorruptedResponseByte(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	resp, err := (&widevinetest.Server{}).Respond(msg.Data)
	require.NoError(t, err)

	signed, err := widevine.UnmarshalSignedMessage(resp)
	require.NoError(t, err)
	signed.Signature[0] ^= 0x01
	_, err = sess.Update(ctx, signed.Marshal())
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, sess.Keys())
}

func TestSession_UnknownRequestID(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	server := &widevinetest.Server{}

	first, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := first.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)

	second, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	_, err = second.Update(ctx, resp)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSession_PrivacyMode(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t, widevine.WithPrivacyMode(true), widevine.WithServiceRootKey(&widevinetest.RootKey().PublicKey))
	server := &widevinetest.Server{}

	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageIndividualizationRequest, msg.Type)
	assert.Equal(t, widevine.ServiceCertificateRequest, msg.Data)

	cert, err := server.Respond(msg.Data)
	require.NoError(t, err)
	res, err := sess.Update(ctx, cert)
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, domain.MessageLicenseRequest, res.Message.Type)
	assert.Empty(t, res.Keys)

	resp, err := server.Respond(res.Message.Data)
	require.NoError(t, err)
	req := server.Requests()[0]
	assert.Nil(t, req.ClientID)
	require.NotNil(t, req.EncryptedClientID)
	assert.Equal(t, "license.cdmkit.test", req.EncryptedClientID.ProviderID)

	res, err = sess.Update(ctx, resp)
	require.NoError(t, err)
	assert.Len(t, res.Keys, len(widevinetest.DefaultKeys))
}

func TestSession_ServiceCertificateRootMismatch(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t, widevine.WithServiceRootKey(&widevinetest.ServiceKey().PublicKey))
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)

	cert, err := widevinetest.ServiceCertificate()
	require.NoError(t, err)
	_, err = sess.Update(ctx, cert)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestSession_ServiceCertificateWithoutRootRejected(t *testing.T) {
	ctx := context.Background()
	cdm, hook := newCdm(t, widevine.WithPrivacyMode(true))
	server := &widevinetest.Server{}
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)

	cert, err := widevinetest.ServiceCertificate()
	require.NoError(t, err)
	assert.ErrorIs(t, sess.(*widevine.Session).SetServiceCertificate(cert), domain.ErrInvalidCertificate)

	var warned bool
	for _, e := range hook.AllEntries() {
		warned = warned || e.Level == logrus.WarnLevel
	}
	assert.True(t, warned)

	// the deferred license request never goes out in the clear
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageIndividualizationRequest, msg.Type)
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	res, err := sess.Update(ctx, resp)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificate)
	assert.Nil(t, res.Message)
	assert.Empty(t, server.Requests())
}

func TestSession_PauseResumeMidFlight(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	server := &widevinetest.Server{}

	sess, err := cdm.CreateSession(ctx, domain.SessionPersistent)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)

	state, err := sess.Pause(ctx)
	require.NoError(t, err)

	resumed, err := cdm.ResumeSession(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), resumed.ID())
	assert.Equal(t, domain.SessionPersistent, resumed.Type())
	assert.Equal(t, 1, resumed.(*widevine.Session).PendingRequests())
	assert.Equal(t, sess.(*widevine.Session).PendingRequests(), resumed.(*widevine.Session).PendingRequests())

	// the resumed session finishes the exchange the original started
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	res, err := resumed.Update(ctx, resp)
	require.NoError(t, err)
	assert.Len(t, res.Keys, len(widevinetest.DefaultKeys))
	assert.Equal(t, 0, resumed.(*widevine.Session).PendingRequests())
}

func TestSession_PauseKeepsServiceCertificate(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t, widevine.WithPrivacyMode(true), widevine.WithServiceRootKey(&widevinetest.RootKey().PublicKey))
	server := &widevinetest.Server{}

	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	cert, err := server.Respond(msg.Data)
	require.NoError(t, err)
	_, err = sess.Update(ctx, cert)
	require.NoError(t, err)

	state, err := sess.Pause(ctx)
	require.NoError(t, err)
	resumed, err := cdm.ResumeSession(ctx, state)
	require.NoError(t, err)

	// a fresh request from the resumed session is still encrypted
	require.NoError(t, resumed.Remove(ctx))
	again, err := cdm.ResumeSession(ctx, state)
	require.NoError(t, err)
	next, err := again.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageLicenseRequest, next.Type)
	_, err = server.Respond(next.Data)
	require.NoError(t, err)
	reqs := server.Requests()
	assert.NotNil(t, reqs[len(reqs)-1].EncryptedClientID)
}

func TestResumeSession_MissingFields(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	_, err = sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)
	state, err := sess.Pause(ctx)
	require.NoError(t, err)

	for _, field := range []string{"sessionId", "sessionType", "contexts", "keys"} {
		var m map[string]any
		require.NoError(t, json.Unmarshal(state, &m))
		delete(m, field)
		broken, err := json.Marshal(m)
		require.NoError(t, err)
		_, err = cdm.ResumeSession(ctx, broken)
		assert.ErrorIs(t, err, domain.ErrInvalidSession, field)
	}

	var m map[string]any
	require.NoError(t, json.Unmarshal(state, &m))
	for id := range m["contexts"].(map[string]any) {
		m["contexts"].(map[string]any)[id] = map[string]any{"enc": ""}
	}
	broken, err := json.Marshal(m)
	require.NoError(t, err)
	_, err = cdm.ResumeSession(ctx, broken)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSession_ChromeSessionID(t *testing.T) {
	cdm := widevine.New(newDevice(t, widevine.DeviceChrome))
	sess, err := cdm.CreateSession(context.Background(), domain.SessionTemporary)
	require.NoError(t, err)
	assert.Len(t, mustB64(t, sess.ID()), 16)
}

func TestSession_RemoveDropsState(t *testing.T) {
	ctx := context.Background()
	cdm, _ := newCdm(t)
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	_, err = sess.GenerateRequest(ctx, "cenc", []byte(testPssh))
	require.NoError(t, err)

	require.NoError(t, sess.Remove(ctx))
	require.NoError(t, sess.Remove(ctx))
	assert.Equal(t, 0, sess.(*widevine.Session).PendingRequests())
	_, err = sess.Update(ctx, []byte{0x08, 0x02})
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}
