package shred

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleTextDispatchesNotificationToManager(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()
	h := NewHandler(m)

	h.HandleText([]byte(`{"jsonrpc":"2.0","method":"rise_subscription","params":{"subscription":"0xabc","result":{"block_number":50,"shred_idx":0,"transactions":[],"state_changes":{}}}}`))

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.blocks[50]
		return ok
	}, time.Second, time.Millisecond)
}

func TestHandleTextIgnoresSubscriptionAck(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()
	h := NewHandler(m)

	h.HandleText([]byte(`{"jsonrpc":"2.0","id":1,"result":"0xabc123"}`))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.blocks)
}

func TestHandleTextIgnoresMalformedFrame(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()
	h := NewHandler(m)

	h.HandleText([]byte(`not json`))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.blocks)
}

func TestHandleTextLogsProviderErrorWithoutPanicking(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()
	h := NewHandler(m)

	h.HandleText([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32000,"message":"subscription failed"}}`))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.blocks)
}
