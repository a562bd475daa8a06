package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdmkit/internal/domain"
	"cdmkit/internal/protocol/widevine"
	"cdmkit/internal/protocol/widevine/widevinetest"
	"cdmkit/internal/services/session"
)

type memStates struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (s *memStates) SaveState(_ context.Context, id string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string][]byte{}
	}
	s.m[id] = state
	return nil
}

func (s *memStates) LoadState(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[id]
	return b, ok, nil
}

func (s *memStates) DeleteState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

func newService(t *testing.T, opts ...session.Option) *session.Service {
	t.Helper()
	device, err := widevinetest.NewDevice(widevine.DeviceAndroid)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	return session.New(widevine.New(device, widevine.WithLogger(logger)), append([]session.Option{session.WithLogger(logger)}, opts...)...)
}

func TestSession_WaitersSeeRequestAndKeys(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc := newService(t)
	server := &widevinetest.Server{}

	sess, err := svc.Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	assert.Equal(t, session.StateIdle, sess.State())

	got := make(chan []domain.Key, 1)
	go func() {
		keys, err := sess.WaitForKeys(ctx)
		if err == nil {
			got <- keys
		}
		close(got)
	}()

	// the request is produced on another goroutine and picked up here
	go func() { _, _ = sess.GenerateRequest(ctx, "", widevinetest.InitData()) }()
	msg, err := sess.WaitForLicenseRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageLicenseRequest, msg.Type)

	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	_, err = sess.Update(ctx, resp)
	require.NoError(t, err)
	assert.Equal(t, session.StateKeyed, sess.State())

	keys := <-got
	require.Len(t, keys, len(widevinetest.DefaultKeys))
	assert.Equal(t, widevinetest.DefaultKeys[0].Value, keys[0].Value)

	// already keyed: returns at once
	again, err := sess.WaitForKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, keys, again)
}

func TestSession_UpdateBeforeGenerateRequest(t *testing.T) {
	ctx := context.Background()
	sess, err := newService(t).Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)

	_, err = sess.Update(ctx, []byte{0x08, 0x02})
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestSession_CloseReleasesWaitersAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sess, err := newService(t).Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := sess.WaitForKeys(ctx)
		done <- err
	}()

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Remove(ctx))
	assert.Equal(t, session.StateClosed, sess.State())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released")
	}

	_, err = sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestSession_WaitHonoursContext(t *testing.T) {
	sess, err := newService(t).Create(context.Background(), domain.SessionTemporary)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sess.WaitForLicenseRequest(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_SaveRestore(t *testing.T) {
	ctx := context.Background()
	states := &memStates{}
	svc := newService(t, session.WithStateStore(states))
	server := &widevinetest.Server{}

	sess, err := svc.Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	require.NoError(t, err)
	require.NoError(t, svc.Save(ctx, sess))

	resumed, err := svc.Restore(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), resumed.ID())
	assert.Equal(t, session.StateAwaitingResponse, resumed.State())

	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	_, err = resumed.Update(ctx, resp)
	require.NoError(t, err)
	assert.Len(t, resumed.Keys(), len(widevinetest.DefaultKeys))

	require.NoError(t, svc.Forget(ctx, sess.ID()))
	_, err = svc.Restore(ctx, sess.ID())
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestService_ResumeKeyedSession(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	server := &widevinetest.Server{}

	sess, err := svc.Create(ctx, domain.SessionPersistent)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	require.NoError(t, err)
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)
	_, err = sess.Update(ctx, resp)
	require.NoError(t, err)

	state, err := sess.Pause(ctx)
	require.NoError(t, err)
	resumed, err := svc.Resume(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, session.StateKeyed, resumed.State())

	keys, err := resumed.WaitForKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, len(widevinetest.DefaultKeys))
}

func TestService_SaveWithoutStore(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	sess, err := svc.Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Save(ctx, sess), domain.ErrUnsupported)
	_, err = svc.Restore(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestSession_KeysDuringUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc := newService(t)
	server := &widevinetest.Server{}

	sess, err := svc.Create(ctx, domain.SessionTemporary)
	require.NoError(t, err)
	msg, err := sess.GenerateRequest(ctx, "cenc", widevinetest.InitData())
	require.NoError(t, err)
	resp, err := server.Respond(msg.Data)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = sess.Keys()
			}
		}
	}()

	res, err := sess.Update(ctx, resp)
	close(done)
	wg.Wait()
	require.NoError(t, err)
	assert.Len(t, res.Keys, len(widevinetest.DefaultKeys))
	assert.Len(t, sess.Keys(), len(widevinetest.DefaultKeys))
}
