package license_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/playready"
	"cdmkit/internal/protocol/playready/playreadytest"
	"cdmkit/internal/protocol/widevine"
	"cdmkit/internal/protocol/widevine/widevinetest"
	"cdmkit/internal/services/license"
)

// recorder remembers the headers of every request it forwards.
type recorder struct {
	next    http.Handler
	mu      sync.Mutex
	headers []http.Header
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.headers = append(r.headers, req.Header.Clone())
	r.mu.Unlock()
	r.next.ServeHTTP(w, req)
}

func newService() *license.Service {
	logger, _ := test.NewNullLogger()
	return license.New(license.WithLogger(logger))
}

func widevineCdm(t *testing.T, opts ...widevine.Option) *widevine.Cdm {
	t.Helper()
	device, err := widevinetest.NewDevice(widevine.DeviceAndroid)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	return widevine.New(device, append([]widevine.Option{widevine.WithLogger(logger)}, opts...)...)
}

func TestFetch_Widevine(t *testing.T) {
	wv := &widevinetest.Server{}
	rec := &recorder{next: wv}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	keys, err := newService().Fetch(context.Background(), widevineCdm(t), domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      srv.URL,
		Headers:  http.Header{"X-Token": {"abc"}},
	})
	require.NoError(t, err)
	require.Len(t, keys, len(widevinetest.DefaultKeys))
	assert.Equal(t, widevinetest.DefaultKeys[1].Value, keys[1].Value)

	require.Len(t, rec.headers, 1)
	assert.Equal(t, "application/octet-stream", rec.headers[0].Get("Content-Type"))
	assert.Equal(t, "abc", rec.headers[0].Get("X-Token"))
}

func TestFetch_CallerContentTypeWins(t *testing.T) {
	rec := &recorder{next: &widevinetest.Server{}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	_, err := newService().Fetch(context.Background(), widevineCdm(t), domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      srv.URL,
		Headers:  http.Header{"Content-Type": {"application/x-custom"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"application/x-custom"}, rec.headers[0].Values("Content-Type"))
}

func TestFetch_WidevinePrivacyModeIndividualizes(t *testing.T) {
	wv := &widevinetest.Server{}
	rec := &recorder{next: wv}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cdm := widevineCdm(t, widevine.WithPrivacyMode(true), widevine.WithServiceRootKey(&widevinetest.RootKey().PublicKey))
	keys, err := newService().Fetch(context.Background(), cdm, domain.FetchParams{
		InitData:    widevinetest.InitData(),
		URL:         srv.URL,
		SessionType: domain.SessionPersistent,
	})
	require.NoError(t, err)
	assert.Len(t, keys, len(widevinetest.DefaultKeys))

	// certificate request, then the license request
	assert.Len(t, rec.headers, 2)
	reqs := wv.Requests()
	require.Len(t, reqs, 1)
	assert.NotNil(t, reqs[0].EncryptedClientID)
	assert.Equal(t, widevine.LicenseOffline, reqs[0].ContentID.LicenseType)
}

func TestFetch_WidevineServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newService().Fetch(context.Background(), widevineCdm(t), domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      srv.URL,
	})
	var se *license.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Contains(t, se.Body, "nope")
}

func TestFetch_WidevineTamperedLicense(t *testing.T) {
	srv := httptest.NewServer(&widevinetest.Server{Tamper: true})
	defer srv.Close()

	_, err := newService().Fetch(context.Background(), widevineCdm(t), domain.FetchParams{
		InitData: widevinetest.InitData(),
		URL:      srv.URL,
	})
	assert.Error(t, err)
}

func playreadyCdm(t *testing.T, server *playreadytest.Server) *playready.Cdm {
	t.Helper()
	h, err := playreadytest.NewHierarchy()
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	return playready.New(h.Device, playready.WithLogger(logger), playready.WithServerKey(server.Key.Point()))
}

func TestFetch_PlayReady(t *testing.T) {
	pr, err := playreadytest.NewServer()
	require.NoError(t, err)
	rec := &recorder{next: pr}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	keys, err := newService().Fetch(context.Background(), playreadyCdm(t, pr), domain.FetchParams{
		InitData: playreadytest.InitData(),
		URL:      srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, pr.Issued()[0].Value, keys[0].Value)
	assert.Equal(t, "6f651ae1dbe44434bcb4690d1564c41c", keys[0].KeyIDHex())
	assert.Equal(t, "text/xml; charset=utf-8", rec.headers[0].Get("Content-Type"))
}

func TestFetch_PlayReadyFault(t *testing.T) {
	pr, err := playreadytest.NewServer()
	require.NoError(t, err)
	pr.FaultStatus = "0x8004c065"
	srv := httptest.NewServer(pr)
	defer srv.Close()

	_, err = newService().Fetch(context.Background(), playreadyCdm(t, pr), domain.FetchParams{
		InitData: playreadytest.InitData(),
		URL:      srv.URL,
	})
	var se *playready.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "0x8004c065", se.StatusCode)
	assert.Contains(t, se.Message, "License denied")
}

func TestFetch_NoURL(t *testing.T) {
	_, err := newService().Fetch(context.Background(), widevineCdm(t), domain.FetchParams{InitData: widevinetest.InitData()})
	assert.Error(t, err)
}
