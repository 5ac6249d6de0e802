package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// AgentStore implements store.AgentStore on Postgres.
type AgentStore struct {
	db *sql.DB
}

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

// GetOrCreateDefinition deduplicates on config_hash. A new definition takes
// the next version number for its agent_type and links to the previous
// version; a concurrent insert of the same hash resolves to the winner's row.
func (s *AgentStore) GetOrCreateDefinition(ctx context.Context, def *store.AgentDefinition) (int64, bool, error) {
	if def.ConfigHash == "" {
		return 0, false, fmt.Errorf("agent definition: empty config hash")
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM agent_definitions WHERE config_hash = $1`, def.ConfigHash,
	).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("agent definition lookup: %w", err)
	}

	// The next version is read without a lock, so two concurrent first
	// inserts of different configs of the same type can collide on
	// (agent_type, version). That loser retries with a fresh read.
	for attempt := 0; attempt < 3; attempt++ {
		id, created, retry, err := s.insertDefinition(ctx, def)
		if retry {
			continue
		}
		return id, created, err
	}
	return 0, false, fmt.Errorf("agent definition insert: version contention for %q", def.AgentType)
}

func (s *AgentStore) insertDefinition(ctx context.Context, def *store.AgentDefinition) (id int64, created, retry bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, false, fmt.Errorf("agent definition: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		version  int
		parentID sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT version, id FROM agent_definitions
		WHERE agent_type = $1
		ORDER BY version DESC
		LIMIT 1`, def.AgentType,
	).Scan(&version, &parentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, fmt.Errorf("agent definition: version: %w", err)
	}
	version++

	cfg := def.Configuration
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO agent_definitions (
			agent_type, agent_name, system_message, configuration_params,
			tools_available, model_used, version, parent_definition_id,
			description, created_at, created_by, config_hash
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8,
		          NULLIF($9, ''), now(), $10, $11)
		RETURNING id`,
		def.AgentType, def.AgentName, def.SystemMessage, []byte(cfg),
		jsonArray(def.Tools), def.Model, version, parentID,
		def.Description, def.CreatedBy, def.ConfigHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			tx.Rollback()
			// Same hash raced in first: resolve to the winner's row.
			if lerr := s.db.QueryRowContext(ctx,
				`SELECT id FROM agent_definitions WHERE config_hash = $1`, def.ConfigHash,
			).Scan(&id); lerr == nil {
				return id, false, false, nil
			}
			// A different config took our version number; allocate again.
			return 0, false, true, nil
		}
		return 0, false, false, fmt.Errorf("agent definition insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, false, fmt.Errorf("agent definition: commit: %w", err)
	}

	def.Version = version
	if parentID.Valid {
		def.ParentID = &parentID.Int64
	}
	return id, true, false, nil
}

// InsertWork writes one agent execution, ignoring duplicates on
// (agent_id, parent_session_id). Returns false when the row already existed.
func (s *AgentStore) InsertWork(ctx context.Context, work *store.AgentWork) (int64, bool, error) {
	if err := checkDimensions(work.Embedding); err != nil {
		return 0, false, err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	wc, err := json.Marshal(coalesceMessages(work.WorkContext))
	if err != nil {
		return 0, false, fmt.Errorf("insert work: marshal context: %w", err)
	}
	tools, err := json.Marshal(coalesceToolCounts(work.ToolsUsed))
	if err != nil {
		return 0, false, fmt.Errorf("insert work: marshal tools: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO agent_work (
			request_id, parent_snapshot_id, parent_session_id,
			agent_definition_id, agent_id, agent_type, agent_request,
			agent_transcript_path, work_context, tools_used, files_examined,
			urls_fetched, result_summary, timestamp_start, timestamp_end,
			embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11,
		          $12, NULLIF($13, ''), $14, $15, NULLIF($16, '')::vector)
		ON CONFLICT (agent_id, parent_session_id) DO NOTHING
		RETURNING id`,
		work.RequestID, work.ParentSnapshotID, work.ParentSessionID,
		work.DefinitionID, work.AgentID, work.AgentType, work.Request,
		work.TranscriptPath, wc, tools, jsonArray(work.FilesExamined),
		jsonArray(work.URLsFetched), work.ResultSummary,
		work.StartedAt, work.EndedAt, vectorLiteral(work.Embedding),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: DO NOTHING returns no row.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert work: %w", err)
	}
	return id, true, nil
}

func (s *AgentStore) HasWork(ctx context.Context, agentID, parentSessionID string) (bool, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agent_work
			WHERE agent_id = $1 AND parent_session_id = $2
		)`, agentID, parentSessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has work: %w", err)
	}
	return exists, nil
}

const workHeadColumns = `
	id, agent_id, agent_type, parent_session_id, agent_request,
	COALESCE(result_summary, ''), timestamp_start,
	COALESCE(EXTRACT(EPOCH FROM (timestamp_end - timestamp_start)), 0)`

func (s *AgentStore) RecentWork(ctx context.Context, limit int) ([]store.AgentWorkHead, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workHeadColumns+`, 0::float8
		FROM agent_work
		ORDER BY COALESCE(timestamp_start, 'epoch'::timestamptz) DESC, id DESC
		LIMIT $1`,
		boundLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("recent work: %w", err)
	}
	defer rows.Close()
	return scanWorkHeads(rows)
}

func (s *AgentStore) SemanticSearchWork(ctx context.Context, query []float32, limit int) ([]store.AgentWorkHead, error) {
	if len(query) != store.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", store.ErrBadEmbedding, len(query), store.EmbeddingDimensions)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workHeadColumns+`, embedding <=> $1::vector AS distance
		FROM agent_work
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`,
		vectorLiteral(query), boundLimit(limit, 5))
	if err != nil {
		return nil, fmt.Errorf("semantic work search: %w", err)
	}
	defer rows.Close()
	return scanWorkHeads(rows)
}

func (s *AgentStore) LexicalSearchWork(ctx context.Context, query string, limit int) ([]store.AgentWorkHead, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workHeadColumns+`, 0::float8
		FROM agent_work
		WHERE agent_request ILIKE '%' || $1 || '%'
		   OR result_summary ILIKE '%' || $1 || '%'
		ORDER BY COALESCE(timestamp_start, 'epoch'::timestamptz) DESC
		LIMIT $2`,
		query, boundLimit(limit, 5))
	if err != nil {
		return nil, fmt.Errorf("lexical work search: %w", err)
	}
	defer rows.Close()
	return scanWorkHeads(rows)
}

// Performance aggregates executions per definition version. Success means
// the run produced a result summary.
func (s *AgentStore) Performance(ctx context.Context, agentType string) ([]store.AgentPerformanceRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.agent_type, d.version,
		       count(w.id),
		       COALESCE(avg(EXTRACT(EPOCH FROM (w.timestamp_end - w.timestamp_start))), 0),
		       COALESCE(avg(jsonb_array_length(w.work_context)), 0),
		       COALESCE(avg(CASE WHEN COALESCE(w.result_summary, '') <> '' THEN 1.0 ELSE 0.0 END), 0)
		FROM agent_definitions d
		LEFT JOIN agent_work w ON w.agent_definition_id = d.id
		WHERE ($1 = '' OR d.agent_type = $1)
		GROUP BY d.id, d.agent_type, d.version
		ORDER BY d.agent_type, d.version DESC`,
		agentType)
	if err != nil {
		return nil, fmt.Errorf("agent performance: %w", err)
	}
	defer rows.Close()

	var out []store.AgentPerformanceRow
	for rows.Next() {
		var r store.AgentPerformanceRow
		if err := rows.Scan(&r.DefinitionID, &r.AgentType, &r.Version, &r.TimesUsed,
			&r.AvgDurationSec, &r.AvgMessageCount, &r.SuccessRate); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ToolUsage flattens the per-run tool histograms into a per-type rollup.
func (s *AgentStore) ToolUsage(ctx context.Context, agentType string) ([]store.ToolUsageRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.agent_type, t.key, sum((t.value)::int), count(DISTINCT w.id)
		FROM agent_work w,
		     jsonb_each_text(w.tools_used) AS t(key, value)
		WHERE ($1 = '' OR w.agent_type = $1)
		GROUP BY w.agent_type, t.key
		ORDER BY sum((t.value)::int) DESC`,
		agentType)
	if err != nil {
		return nil, fmt.Errorf("tool usage: %w", err)
	}
	defer rows.Close()

	var out []store.ToolUsageRow
	for rows.Next() {
		var r store.ToolUsageRow
		if err := rows.Scan(&r.AgentType, &r.Tool, &r.Calls, &r.Runs); err != nil {
			return nil, fmt.Errorf("scan tool usage: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompareConfigs pairs each definition version with its predecessor and
// reports the average-duration delta. The percentage is nil when the
// previous version has no timed runs.
func (s *AgentStore) CompareConfigs(ctx context.Context, agentType string) ([]store.ConfigComparisonRow, error) {
	perf, err := s.Performance(ctx, agentType)
	if err != nil {
		return nil, err
	}

	// Performance returns versions descending per type, so the next row of
	// the same type is the predecessor.
	var out []store.ConfigComparisonRow
	for i, cur := range perf {
		if i+1 >= len(perf) || perf[i+1].AgentType != cur.AgentType {
			continue
		}
		prev := perf[i+1]
		row := store.ConfigComparisonRow{
			AgentType:          cur.AgentType,
			Version:            cur.Version,
			PrevVersion:        prev.Version,
			AvgDurationSec:     cur.AvgDurationSec,
			PrevAvgDurationSec: prev.AvgDurationSec,
		}
		if prev.AvgDurationSec > 0 {
			pct := (cur.AvgDurationSec - prev.AvgDurationSec) / prev.AvgDurationSec * 100
			row.DurationChangePct = &pct
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *AgentStore) Stats(ctx context.Context) (*store.AgentStats, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var (
		st   store.AgentStats
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM agent_work),
			(SELECT count(*) FROM agent_definitions),
			(SELECT count(DISTINCT agent_type) FROM agent_definitions),
			(SELECT max(timestamp_start) FROM agent_work)`,
	).Scan(&st.WorkRows, &st.Definitions, &st.AgentTypes, &last)
	if err != nil {
		return nil, fmt.Errorf("agent stats: %w", err)
	}
	if last.Valid {
		st.LastCapture = &last.Time
	}
	return &st, nil
}

func coalesceMessages(ms []store.Message) []store.Message {
	if ms == nil {
		return []store.Message{}
	}
	return ms
}

func coalesceToolCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func scanWorkHeads(rows *sql.Rows) ([]store.AgentWorkHead, error) {
	var heads []store.AgentWorkHead
	for rows.Next() {
		var (
			h       store.AgentWorkHead
			started sql.NullTime
		)
		if err := rows.Scan(&h.ID, &h.AgentID, &h.AgentType, &h.ParentSessionID,
			&h.Request, &h.ResultSummary, &started, &h.DurationSec, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan work head: %w", err)
		}
		if started.Valid {
			t := started.Time
			h.StartedAt = &t
		}
		heads = append(heads, h)
	}
	return heads, rows.Err()
}
