package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/widevine"
	"cdmkit/internal/protocol/widevine/widevinetest"
	"cdmkit/internal/remote"
	"cdmkit/internal/server"
	"cdmkit/internal/services/license"
	"cdmkit/internal/services/session"
)

const secret = "s3cret"

func newRemote(t *testing.T, deviceType widevine.DeviceType, opts ...widevine.Option) *remote.Cdm {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	device, err := widevinetest.NewDevice(deviceType)
	require.NoError(t, err)

	srv := server.New(server.Deps{
		Devices: map[string]server.Device{
			"test_device": {Cdm: widevine.New(device, append([]widevine.Option{widevine.WithLogger(logger)}, opts...)...)},
		},
		Users:  map[string]domain.User{secret: {Name: "tester", Devices: []string{"test_device"}}},
		Logger: logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cdm, err := remote.Dial(context.Background(), ts.URL+"/", secret, "test_device",
		remote.WithHTTPClient(ts.Client()), remote.WithLogger(logger))
	require.NoError(t, err)
	return cdm
}

func TestDial(t *testing.T) {
	cdm := newRemote(t, widevine.DeviceAndroid)
	assert.Equal(t, domain.KeySystemWidevine, cdm.KeySystem())

	devices, err := cdm.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "test_device", devices[0].Name)
}

func TestDial_UnknownDeviceOrSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := server.New(server.Deps{Users: map[string]domain.User{secret: {Name: "x"}}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := remote.Dial(context.Background(), ts.URL, secret, "nope")
	assert.Error(t, err)

	_, err = remote.Dial(context.Background(), ts.URL, "wrong", "nope")
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 401, re.Status)
}

func TestRemote_LicenseFetch(t *testing.T) {
	// chrome ids are base64 and exercise path escaping
	cdm := newRemote(t, widevine.DeviceChrome)
	lic := httptest.NewServer(&widevinetest.Server{})
	defer lic.Close()

	logger, _ := test.NewNullLogger()
	keys, err := license.New(license.WithLogger(logger)).Fetch(context.Background(), cdm, domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      lic.URL,
	})
	require.NoError(t, err)
	require.Len(t, keys, len(widevinetest.DefaultKeys))
	assert.Equal(t, widevinetest.DefaultKeys[0].ID, keys[0].ID)
	assert.Equal(t, widevinetest.DefaultKeys[0].Value, keys[0].Value)
}

func TestRemote_PrivacyModeIndividualization(t *testing.T) {
	cdm := newRemote(t, widevine.DeviceAndroid, widevine.WithPrivacyMode(true),
		widevine.WithServiceRootKey(&widevinetest.RootKey().PublicKey))
	wv := &widevinetest.Server{}
	lic := httptest.NewServer(wv)
	defer lic.Close()

	keys, err := license.New().Fetch(context.Background(), cdm, domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      lic.URL,
	})
	require.NoError(t, err)
	assert.Len(t, keys, len(widevinetest.DefaultKeys))
	require.Len(t, wv.Requests(), 1)
	assert.NotNil(t, wv.Requests()[0].EncryptedClientID)
}

func TestRemote_ErrorsKeepKind(t *testing.T) {
	ctx := context.Background()
	cdm := newRemote(t, widevine.DeviceAndroid)
	sess, err := cdm.CreateSession(ctx, domain.SessionTemporary)
	require.NoError(t, err)

	_, err = sess.GenerateRequest(ctx, "cenc", []byte("garbage"))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	msg, err := sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	require.NoError(t, err)
	resp, err := (&widevinetest.Server{Tamper: true}).Respond(msg.Data)
	require.NoError(t, err)
	_, err = sess.Update(ctx, resp)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, sess.Keys())
}

func TestRemote_PauseResumeThroughSessionService(t *testing.T) {
	ctx := context.Background()
	cdm := newRemote(t, widevine.DeviceAndroid)
	svc := session.New(cdm)
	lic := &widevinetest.Server{}

	sess, err := svc.Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	require.NoError(t, err)

	state, err := sess.Pause(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Remove(ctx))
	require.NoError(t, sess.Remove(ctx))

	resumed, err := svc.Resume(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), resumed.ID())

	resp, err := lic.Respond(msg.Data)
	require.NoError(t, err)
	_, err = resumed.Update(ctx, resp)
	require.NoError(t, err)

	keys, err := resumed.WaitForKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(widevinetest.DefaultKeys))

	fetched, err := resumed.Engine().(*remote.Session).FetchKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys, fetched)
	require.NoError(t, resumed.Close(ctx))
}
