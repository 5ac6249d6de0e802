package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// SemanticSearch orders snapshots by cosine distance to the query vector.
// Rows without an embedding never match.
func (s *SnapshotStore) SemanticSearch(ctx context.Context, query []float32, projectPath string, limit int) ([]store.SearchHit, error) {
	if len(query) != store.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", store.ErrBadEmbedding, len(query), store.EmbeddingDimensions)
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), timestamp, trigger_event,
		       message_count, summary, tags,
		       embedding <=> $1::vector AS distance
		FROM context_snapshots
		WHERE embedding IS NOT NULL
		  AND ($2 = '' OR project_path = $2)
		ORDER BY distance
		LIMIT $3`,
		vectorLiteral(query), projectPath, boundLimit(limit, 5))
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// LexicalSearch is the substring fallback used when no query embedding is
// available.
func (s *SnapshotStore) LexicalSearch(ctx context.Context, query, projectPath string, limit int) ([]store.SearchHit, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), timestamp, trigger_event,
		       message_count, summary, tags,
		       0::float8 AS distance
		FROM context_snapshots
		WHERE summary ILIKE '%' || $1 || '%'
		  AND ($2 = '' OR project_path = $2)
		ORDER BY timestamp DESC
		LIMIT $3`,
		query, projectPath, boundLimit(limit, 5))
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()
	return scanHits(rows)
}

// rawCandidate is a snapshot whose serialized conversation contains the
// query; the per-message match runs in Go so snippet windows can cross
// word boundaries cleanly.
type rawCandidate struct {
	id          int64
	projectPath string
	timestamp   sql.NullTime
	raw         []byte
}

// SearchRawMessages greps inside the stored conversations. Postgres
// narrows to candidate snapshots; snippet extraction with surrounding
// context happens per message here.
func (s *SnapshotStore) SearchRawMessages(ctx context.Context, query, projectPath string, limit, contextChars int) ([]store.RawMessageHit, error) {
	if query == "" {
		return nil, nil
	}
	if contextChars <= 0 {
		contextChars = 100
	}
	limit = boundLimit(limit, 10)

	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, timestamp, raw_context
		FROM context_snapshots
		WHERE raw_context::text ILIKE '%' || $1 || '%'
		  AND ($2 = '' OR project_path = $2)
		ORDER BY timestamp DESC
		LIMIT $3`,
		query, projectPath, limit*4)
	if err != nil {
		return nil, fmt.Errorf("raw message search: %w", err)
	}
	defer rows.Close()

	var hits []store.RawMessageHit
	for rows.Next() {
		var c rawCandidate
		if err := rows.Scan(&c.id, &c.projectPath, &c.timestamp, &c.raw); err != nil {
			return nil, fmt.Errorf("scan raw candidate: %w", err)
		}
		var msgs []store.Message
		if err := json.Unmarshal(c.raw, &msgs); err != nil {
			continue
		}
		for i, m := range msgs {
			mStart, mEnd := indexFold(m.Content, query)
			if mStart < 0 {
				continue
			}
			hits = append(hits, store.RawMessageHit{
				SnapshotID:   c.id,
				ProjectPath:  c.projectPath,
				Timestamp:    c.timestamp.Time,
				Role:         m.Role,
				MessageIndex: i,
				Snippet:      snippet(m.Content, mStart, mEnd, contextChars),
			})
			if len(hits) >= limit {
				return hits, rows.Err()
			}
		}
	}
	return hits, rows.Err()
}

// SearchExactPhrase matches assistant messages only, case-insensitively.
// Finding "what did I say about X" means finding the answer, not the
// question that contained the same words.
func (s *SnapshotStore) SearchExactPhrase(ctx context.Context, phrase, projectPath string, limit int) ([]store.RawMessageHit, error) {
	if phrase == "" {
		return nil, nil
	}
	limit = boundLimit(limit, 10)

	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, timestamp, raw_context
		FROM context_snapshots
		WHERE raw_context::text ILIKE '%' || $1 || '%'
		  AND ($2 = '' OR project_path = $2)
		ORDER BY timestamp DESC
		LIMIT $3`,
		phrase, projectPath, limit*4)
	if err != nil {
		return nil, fmt.Errorf("exact phrase search: %w", err)
	}
	defer rows.Close()

	var hits []store.RawMessageHit
	for rows.Next() {
		var c rawCandidate
		if err := rows.Scan(&c.id, &c.projectPath, &c.timestamp, &c.raw); err != nil {
			return nil, fmt.Errorf("scan phrase candidate: %w", err)
		}
		var msgs []store.Message
		if err := json.Unmarshal(c.raw, &msgs); err != nil {
			continue
		}
		for i, m := range msgs {
			if m.Role != "assistant" {
				continue
			}
			mStart, mEnd := indexFold(m.Content, phrase)
			if mStart < 0 {
				continue
			}
			hits = append(hits, store.RawMessageHit{
				SnapshotID:   c.id,
				ProjectPath:  c.projectPath,
				Timestamp:    c.timestamp.Time,
				Role:         m.Role,
				MessageIndex: i,
				Snippet:      snippet(m.Content, mStart, mEnd, 150),
			})
			if len(hits) >= limit {
				return hits, rows.Err()
			}
		}
	}
	return hits, rows.Err()
}

// indexFold reports the byte range of the first case-insensitive occurrence
// of needle in haystack. Folding is done rune by rune so the returned offsets
// index the original string even when lowercasing changes byte length.
// Returns (-1, -1) when needle is absent.
func indexFold(haystack, needle string) (int, int) {
	var want []rune
	for _, r := range needle {
		want = append(want, unicode.ToLower(r))
	}
	if len(want) == 0 {
		return 0, 0
	}
	runes := []rune(haystack)
	offs := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offs[i] = pos
		pos += utf8.RuneLen(r)
	}
	offs[len(runes)] = pos
	for i := 0; i+len(want) <= len(runes); i++ {
		ok := true
		for j, w := range want {
			if unicode.ToLower(runes[i+j]) != w {
				ok = false
				break
			}
		}
		if ok {
			return offs[i], offs[i+len(want)]
		}
	}
	return -1, -1
}

// snippet cuts a window of up to ctxChars runes on each side of the
// [matchStart, matchEnd) byte range, with ellipses when the window is
// interior. The window grows rune by rune so multibyte characters are
// never split.
func snippet(content string, matchStart, matchEnd, ctxChars int) string {
	start := matchStart
	for i := 0; i < ctxChars && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}
	end := matchEnd
	for i := 0; i < ctxChars && end < len(content); i++ {
		_, size := utf8.DecodeRuneInString(content[end:])
		end += size
	}
	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out = out + "..."
	}
	return out
}

func scanHits(rows *sql.Rows) ([]store.SearchHit, error) {
	var hits []store.SearchHit
	for rows.Next() {
		var (
			h    store.SearchHit
			tags []byte
		)
		if err := rows.Scan(&h.ID, &h.ProjectPath, &h.SessionID, &h.Timestamp,
			&h.TriggerEvent, &h.MessageCount, &h.Summary, &tags, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		h.Tags = decodeStrings(tags)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
