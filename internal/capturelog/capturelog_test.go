package capturelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "captures.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, Attempt{
		ProjectPath:  "/work/app",
		SessionID:    "s1",
		TriggerEvent: "PreCompact",
		Status:       StatusAccepted,
	}))
	require.NoError(t, l.Record(ctx, Attempt{
		ProjectPath: "/work/app",
		Status:      StatusFailed,
		Detail:      "connection refused",
	}))

	attempts, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	// Newest first.
	assert.Equal(t, StatusFailed, attempts[0].Status)
	assert.Equal(t, "connection refused", attempts[0].Detail)
	assert.Equal(t, StatusAccepted, attempts[1].Status)
	assert.Equal(t, "s1", attempts[1].SessionID)
	assert.False(t, attempts[1].Timestamp.IsZero())
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "captures.db")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	attempts, err := l.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
