package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/testutil"
)

// createTestStore creates a store in a temp directory driven by a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// createTestRecord builds a minimal finding.
func createTestRecord(agentID, messageType string, payload record.Payload) record.Record {
	return record.Record{
		AgentID:     agentID,
		AgentType:   "test",
		MessageType: messageType,
		Payload:     payload,
	}
}
