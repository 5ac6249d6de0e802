package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// SnapshotStore implements store.SnapshotStore on Postgres.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

const pgUniqueViolation = "23505"

// Persist upserts a snapshot inside one transaction. The match on
// session_id or transcript_path runs with FOR UPDATE so concurrent captures
// of the same session serialize on the row; an insert race surfaces as
// store.ErrConflict, which the pipeline retries once (the retry then takes
// the update path).
func (s *SnapshotStore) Persist(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error) {
	if err := checkDimensions(snap.Embedding); err != nil {
		return nil, err
	}
	if len(snap.RawContext) == 0 {
		return nil, fmt.Errorf("persist: empty raw context")
	}

	ctx, cancel := opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: begin: %w", err)
	}
	defer tx.Rollback()

	var existingID int64
	found := false
	if snap.SessionID != "" || snap.TranscriptPath != "" {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM context_snapshots
			WHERE (session_id = $1 AND $1 <> '')
			   OR (transcript_path = $2 AND $2 <> '')
			ORDER BY id
			LIMIT 1
			FOR UPDATE`,
			snap.SessionID, snap.TranscriptPath,
		).Scan(&existingID)
		switch {
		case err == nil:
			found = true
		case errors.Is(err, sql.ErrNoRows):
		default:
			return nil, fmt.Errorf("persist: match: %w", err)
		}
	}

	raw, err := json.Marshal(snap.RawContext)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal raw context: %w", err)
	}

	var id int64
	action := store.ActionInserted
	if found {
		action = store.ActionUpdated
		_, err = tx.ExecContext(ctx, `
			UPDATE context_snapshots SET
				project_path = $2,
				session_id = NULLIF($3, ''),
				transcript_path = NULLIF($4, ''),
				timestamp = now(),
				trigger_event = $5,
				message_count = $6,
				raw_context = $7,
				summary = $8,
				embedding = NULLIF($9, '')::vector,
				tags = $10,
				mentioned_files = $11,
				key_decisions = $12,
				bugs_fixed = $13,
				git_commit_hash = NULLIF($14, ''),
				git_branch = NULLIF($15, ''),
				context_size_bytes = $16
			WHERE id = $1`,
			existingID, snap.ProjectPath, snap.SessionID, snap.TranscriptPath,
			snap.TriggerEvent, snap.MessageCount, raw, snap.Summary,
			vectorLiteral(snap.Embedding), jsonArray(snap.Tags),
			jsonArray(snap.MentionedFiles), jsonArray(snap.KeyDecisions),
			jsonArray(snap.BugsFixed), snap.GitCommitHash, snap.GitBranch,
			snap.ContextSizeBytes,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				// The row matched on one key but another row already owns
				// the other (say, the new transcript_path). Same retryable
				// shape as an insert race.
				return nil, store.ErrConflict
			}
			return nil, fmt.Errorf("persist: update: %w", err)
		}
		id = existingID
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO context_snapshots (
				project_path, session_id, transcript_path, timestamp,
				trigger_event, message_count, raw_context, summary, embedding,
				tags, mentioned_files, key_decisions, bugs_fixed,
				git_commit_hash, git_branch, context_size_bytes
			) VALUES (
				$1, NULLIF($2, ''), NULLIF($3, ''), now(),
				$4, $5, $6, $7, NULLIF($8, '')::vector,
				$9, $10, $11, $12,
				NULLIF($13, ''), NULLIF($14, ''), $15
			) RETURNING id`,
			snap.ProjectPath, snap.SessionID, snap.TranscriptPath,
			snap.TriggerEvent, snap.MessageCount, raw, snap.Summary,
			vectorLiteral(snap.Embedding), jsonArray(snap.Tags),
			jsonArray(snap.MentionedFiles), jsonArray(snap.KeyDecisions),
			jsonArray(snap.BugsFixed), snap.GitCommitHash, snap.GitBranch,
			snap.ContextSizeBytes,
		).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return nil, store.ErrConflict
			}
			return nil, fmt.Errorf("persist: insert: %w", err)
		}
	}

	// Same-transaction read-back. A missing row here means the write did
	// not take effect and the whole capture must abort.
	var ts time.Time
	if err := tx.QueryRowContext(ctx,
		`SELECT timestamp FROM context_snapshots WHERE id = $1`, id,
	).Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrVerification
		}
		return nil, fmt.Errorf("persist: verify: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("persist: commit: %w", err)
	}
	return &store.PersistResult{ID: id, Timestamp: ts, Action: action}, nil
}

// RewriteSummary replaces the summary and optionally the embedding of an
// existing snapshot (the enhanced-summary path).
func (s *SnapshotStore) RewriteSummary(ctx context.Context, id int64, summary string, embedding []float32) error {
	if err := checkDimensions(embedding); err != nil {
		return err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE context_snapshots
		SET summary = $2,
		    embedding = COALESCE(NULLIF($3, '')::vector, embedding)
		WHERE id = $1`,
		id, summary, vectorLiteral(embedding),
	)
	if err != nil {
		return fmt.Errorf("rewrite summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, id int64) (*store.Snapshot, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), COALESCE(transcript_path, ''),
		       timestamp, trigger_event, message_count, raw_context, summary,
		       COALESCE(embedding::text, ''), tags, mentioned_files, key_decisions,
		       bugs_fixed, COALESCE(git_commit_hash, ''), COALESCE(git_branch, ''),
		       context_size_bytes
		FROM context_snapshots WHERE id = $1`, id)

	var (
		snap    store.Snapshot
		raw     []byte
		embText string
		tags    []byte
		files   []byte
		decs    []byte
		bugs    []byte
	)
	err := row.Scan(&snap.ID, &snap.ProjectPath, &snap.SessionID, &snap.TranscriptPath,
		&snap.Timestamp, &snap.TriggerEvent, &snap.MessageCount, &raw, &snap.Summary,
		&embText, &tags, &files, &decs, &bugs, &snap.GitCommitHash, &snap.GitBranch,
		&snap.ContextSizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &snap.RawContext); err != nil {
		return nil, fmt.Errorf("get snapshot: decode raw context: %w", err)
	}
	if snap.Embedding, err = parseVector(embText); err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Tags = decodeStrings(tags)
	snap.MentionedFiles = decodeStrings(files)
	snap.KeyDecisions = decodeStrings(decs)
	snap.BugsFixed = decodeStrings(bugs)
	return &snap, nil
}

func (s *SnapshotStore) Recent(ctx context.Context, projectPath string, limit int) ([]store.SnapshotHead, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), timestamp, trigger_event,
		       message_count, summary, tags
		FROM context_snapshots
		WHERE ($1 = '' OR project_path = $1)
		ORDER BY timestamp DESC
		LIMIT $2`,
		projectPath, boundLimit(limit, 10))
	if err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", err)
	}
	defer rows.Close()
	return scanHeads(rows)
}

// LatestBefore returns the most recent snapshot for a project, skipping the
// session currently being captured so a recapture never cites itself.
func (s *SnapshotStore) LatestBefore(ctx context.Context, projectPath, excludeSessionID string) (*store.SnapshotRef, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, summary, tags
		FROM context_snapshots
		WHERE project_path = $1
		  AND ($2 = '' OR session_id IS DISTINCT FROM $2)
		ORDER BY timestamp DESC
		LIMIT 1`,
		projectPath, excludeSessionID)

	var (
		ref  store.SnapshotRef
		tags []byte
	)
	err := row.Scan(&ref.ID, &ref.Timestamp, &ref.Summary, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	ref.Tags = decodeStrings(tags)
	return &ref, nil
}

func (s *SnapshotStore) MissingEmbeddings(ctx context.Context, limit int) ([]store.SnapshotHead, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), timestamp, trigger_event,
		       message_count, summary, tags
		FROM context_snapshots
		WHERE embedding IS NULL AND summary <> ''
		ORDER BY timestamp DESC
		LIMIT $1`,
		boundLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	defer rows.Close()
	return scanHeads(rows)
}

func (s *SnapshotStore) UpdateEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if err := checkDimensions(embedding); err != nil {
		return err
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE context_snapshots SET embedding = NULLIF($2, '')::vector WHERE id = $1`,
		id, vectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SnapshotStore) Stats(ctx context.Context) (*store.EngineStats, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var (
		st   store.EngineStats
		last sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM context_snapshots),
			(SELECT count(DISTINCT project_path) FROM context_snapshots),
			(SELECT count(*) FROM context_snapshots WHERE embedding IS NOT NULL),
			(SELECT count(*) FROM agent_work),
			(SELECT count(*) FROM agent_definitions),
			(SELECT max(timestamp) FROM context_snapshots)`,
	).Scan(&st.Snapshots, &st.Projects, &st.WithEmbedding, &st.AgentWorkRows, &st.AgentDefs, &last)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if last.Valid {
		st.LastCapture = &last.Time
	}
	return &st, nil
}

// --- shared row helpers ---

func jsonArray(ss []string) []byte {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return b
}

func decodeStrings(b []byte) []string {
	var ss []string
	if len(b) > 0 {
		json.Unmarshal(b, &ss)
	}
	if ss == nil {
		ss = []string{}
	}
	return ss
}

func boundLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func scanHeads(rows *sql.Rows) ([]store.SnapshotHead, error) {
	var heads []store.SnapshotHead
	for rows.Next() {
		var (
			h    store.SnapshotHead
			tags []byte
		)
		if err := rows.Scan(&h.ID, &h.ProjectPath, &h.SessionID, &h.Timestamp,
			&h.TriggerEvent, &h.MessageCount, &h.Summary, &tags); err != nil {
			return nil, fmt.Errorf("scan snapshot head: %w", err)
		}
		h.Tags = decodeStrings(tags)
		heads = append(heads, h)
	}
	return heads, rows.Err()
}
