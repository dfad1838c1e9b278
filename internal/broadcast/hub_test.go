package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSub struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (f *fakeSub) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeSub) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestSendToAllReachesStudentAndAdmins(t *testing.T) {
	h := NewHub(zap.NewNop())
	student := &fakeSub{}
	other := &fakeSub{}
	admin := &fakeSub{}
	require.NoError(t, h.SubscribeStudent("s1", student))
	require.NoError(t, h.SubscribeStudent("s2", other))
	require.NoError(t, h.SubscribeAdmin(admin))

	h.SendToAll("s1", Message{Type: "notification", Data: map[string]any{"id": "n1"}})

	assert.Equal(t, 1, student.count())
	assert.Equal(t, 1, admin.count())
	assert.Equal(t, 0, other.count(), "other students' channels must not receive")

	var env Message
	require.NoError(t, json.Unmarshal(student.payloads[0], &env))
	assert.Equal(t, "notification", env.Type)
}

func TestSendFailurePrunesWithoutAbortingDelivery(t *testing.T) {
	h := NewHub(zap.NewNop())
	bad := &fakeSub{fail: true}
	good := &fakeSub{}
	admin := &fakeSub{}
	require.NoError(t, h.SubscribeStudent("s1", bad))
	require.NoError(t, h.SubscribeStudent("s1", good))
	require.NoError(t, h.SubscribeAdmin(admin))

	h.SendToAll("s1", Message{Type: "notice"})

	assert.Equal(t, 1, good.count())
	assert.Equal(t, 1, admin.count())
	assert.True(t, bad.closed)

	// The dead subscriber is gone from every channel: a second send only
	// reaches the survivors.
	h.SendToAll("s1", Message{Type: "notice"})
	assert.Equal(t, 2, good.count())
	assert.Equal(t, 2, admin.count())
}

func TestUnsubscribeRemovesFromAllChannels(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := &fakeSub{}
	require.NoError(t, h.SubscribeStudent("s1", s))
	h.Unsubscribe(s)
	h.SendToAll("s1", Message{Type: "logout"})
	assert.Equal(t, 0, s.count())
}

func TestShutdownClosesAndRejects(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := &fakeSub{}
	admin := &fakeSub{}
	require.NoError(t, h.SubscribeStudent("s1", s))
	require.NoError(t, h.SubscribeAdmin(admin))

	h.Shutdown()

	assert.True(t, s.closed)
	assert.True(t, admin.closed)
	assert.ErrorIs(t, h.SubscribeAdmin(&fakeSub{}), ErrHubClosed)
	assert.ErrorIs(t, h.SubscribeStudent("s1", &fakeSub{}), ErrHubClosed)

	// Idempotent.
	h.Shutdown()
}

func TestConcurrentSendsAndSubscribes(t *testing.T) {
	h := NewHub(zap.NewNop())
	admin := &fakeSub{}
	require.NoError(t, h.SubscribeAdmin(admin))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := &fakeSub{}
			_ = h.SubscribeStudent("s1", sub)
			h.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			h.SendToAll("s1", Message{Type: "notification"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, admin.count())
}
