package state

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySessionManager_AddEvictsDuplicate(t *testing.T) {
	m := NewInMemorySessionManager(slog.Default())

	first := m.AddSession("100500")
	second := m.AddSession("100500")

	select {
	case <-first.Closed():
	default:
		t.Fatal("expected first session to be closed by eviction")
	}
	assert.Same(t, second, m.RetrieveSession("100500"))
}

func TestInMemorySessionManager_RemoveGuardsIdentity(t *testing.T) {
	m := NewInMemorySessionManager(slog.Default())

	evicted := m.AddSession("100500")
	replacement := m.AddSession("100500")

	// the evicted connection's cleanup must not unregister the replacement
	m.RemoveSession(evicted)
	assert.Same(t, replacement, m.RetrieveSession("100500"))

	m.RemoveSession(replacement)
	assert.Nil(t, m.RetrieveSession("100500"))
	select {
	case <-replacement.Closed():
	default:
		t.Fatal("expected removed session to be closed")
	}
}

func TestInMemorySessionManager_AllSessions(t *testing.T) {
	m := NewInMemorySessionManager(slog.Default())
	m.AddSession("100500")
	m.AddSession("100501")

	sessions := m.AllSessions()
	require.Len(t, sessions, 2)

	uins := map[string]bool{}
	for _, sess := range sessions {
		uins[sess.UIN()] = true
	}
	assert.True(t, uins["100500"])
	assert.True(t, uins["100501"])
}

func TestSession_RelayAfterCloseFails(t *testing.T) {
	sess := NewSession("100500")
	sess.Close()
	sess.Close() // idempotent

	status := sess.RelayMessage(wireMsg())
	assert.Equal(t, SessSendClosed, status)
}

func TestSession_RelayDelivers(t *testing.T) {
	sess := NewSession("100500")

	require.Equal(t, SessSendOK, sess.RelayMessage(wireMsg()))
	select {
	case <-sess.ReceiveMessage():
	default:
		t.Fatal("expected queued message")
	}
}
