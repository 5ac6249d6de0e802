package pg

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

func TestGetOrCreateDefinitionRetriesVersionCollision(t *testing.T) {
	// Two writers insert different configs of the same type concurrently.
	// The loser hits the (agent_type, version) unique index, finds no row
	// for its own hash, and must re-read the version high-water mark.
	db, conn := scriptedDB(t, []scriptStep{
		{wantSQL: "WHERE config_hash", cols: []string{"id"}},
		{wantSQL: "SELECT version, id", cols: []string{"version", "id"},
			rows: [][]driver.Value{{int64(1), int64(10)}}},
		{wantSQL: "INSERT INTO agent_definitions", err: &pgconn.PgError{Code: "23505"}},
		{wantSQL: "WHERE config_hash", cols: []string{"id"}},
		{wantSQL: "SELECT version, id", cols: []string{"version", "id"},
			rows: [][]driver.Value{{int64(2), int64(11)}}},
		{wantSQL: "INSERT INTO agent_definitions", cols: []string{"id"},
			rows: [][]driver.Value{{int64(12)}}},
	})

	def := &store.AgentDefinition{
		AgentType:  "code-reviewer",
		Model:      "sonnet",
		ConfigHash: "hash-b",
	}
	id, created, err := NewAgentStore(db).GetOrCreateDefinition(context.Background(), def)

	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.True(t, created)
	assert.Equal(t, 3, def.Version)
	require.NotNil(t, def.ParentID)
	assert.Equal(t, int64(11), *def.ParentID)
	assert.Equal(t, len(conn.steps), conn.pos, "script not fully consumed")
}

func TestGetOrCreateDefinitionResolvesSameHashRace(t *testing.T) {
	// The unique violation came from our own hash racing in first; the
	// re-lookup resolves to the winner's row instead of retrying.
	db, conn := scriptedDB(t, []scriptStep{
		{wantSQL: "WHERE config_hash", cols: []string{"id"}},
		{wantSQL: "SELECT version, id", cols: []string{"version", "id"}},
		{wantSQL: "INSERT INTO agent_definitions", err: &pgconn.PgError{Code: "23505"}},
		{wantSQL: "WHERE config_hash", cols: []string{"id"},
			rows: [][]driver.Value{{int64(42)}}},
	})

	def := &store.AgentDefinition{AgentType: "researcher", ConfigHash: "hash-a"}
	id, created, err := NewAgentStore(db).GetOrCreateDefinition(context.Background(), def)

	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.False(t, created)
	assert.Equal(t, len(conn.steps), conn.pos, "script not fully consumed")
}

func TestGetOrCreateDefinitionGivesUpAfterRepeatedCollisions(t *testing.T) {
	collide := []scriptStep{
		{wantSQL: "SELECT version, id", cols: []string{"version", "id"},
			rows: [][]driver.Value{{int64(1), int64(10)}}},
		{wantSQL: "INSERT INTO agent_definitions", err: &pgconn.PgError{Code: "23505"}},
		{wantSQL: "WHERE config_hash", cols: []string{"id"}},
	}
	steps := []scriptStep{{wantSQL: "WHERE config_hash", cols: []string{"id"}}}
	for i := 0; i < 3; i++ {
		steps = append(steps, collide...)
	}
	db, _ := scriptedDB(t, steps)

	def := &store.AgentDefinition{AgentType: "code-reviewer", ConfigHash: "hash-c"}
	_, _, err := NewAgentStore(db).GetOrCreateDefinition(context.Background(), def)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "version contention")
}
