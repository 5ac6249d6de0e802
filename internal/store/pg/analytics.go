package pg

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// Timeline lists captures chronologically with their trigger classification.
func (s *SnapshotStore) Timeline(ctx context.Context, projectPath string, limit int) ([]store.TimelineRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, COALESCE(session_id, ''), timestamp, trigger_event,
		       message_count, summary
		FROM context_snapshots
		WHERE ($1 = '' OR project_path = $1)
		ORDER BY timestamp DESC
		LIMIT $2`,
		projectPath, boundLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var out []store.TimelineRow
	for rows.Next() {
		var r store.TimelineRow
		if err := rows.Scan(&r.SnapshotID, &r.ProjectPath, &r.SessionID, &r.Timestamp,
			&r.TriggerEvent, &r.MessageCount, &r.Summary); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		r.TriggerKind = classifyTrigger(r.TriggerEvent)
		out = append(out, r)
	}
	return out, rows.Err()
}

func classifyTrigger(event string) string {
	e := strings.ToLower(event)
	switch {
	case strings.Contains(e, "precompact") || strings.Contains(e, "pre-compact") || strings.Contains(e, "pre_compact"):
		return "auto-compact"
	case strings.Contains(e, "postcompact") || strings.Contains(e, "post-compact") || strings.Contains(e, "post_compact"):
		return "post-compact"
	case strings.Contains(e, "manual"):
		return "manual"
	default:
		return "other"
	}
}

// Quality reads the snapshot_quality view and rolls results into buckets.
// The 0-10 rubric lives in the view definition; store.QualityScore is the
// in-process mirror of it.
func (s *SnapshotStore) Quality(ctx context.Context, minScore, limit int) (*store.QualityReport, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, project_path, timestamp, quality_score,
		       summary_chars, message_count, has_embedding
		FROM snapshot_quality
		WHERE quality_score >= $1
		ORDER BY quality_score DESC, timestamp DESC
		LIMIT $2`,
		minScore, boundLimit(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("quality report: %w", err)
	}
	defer rows.Close()

	report := &store.QualityReport{}
	for rows.Next() {
		var r store.QualityRow
		if err := rows.Scan(&r.SnapshotID, &r.ProjectPath, &r.Timestamp, &r.Score,
			&r.SummaryChars, &r.MessageCount, &r.HasEmbedding); err != nil {
			return nil, fmt.Errorf("scan quality row: %w", err)
		}
		report.Rows = append(report.Rows, r)
		switch {
		case r.Score >= 8:
			report.High++
		case r.Score >= 5:
			report.Medium++
		default:
			report.Low++
		}
	}
	return report, rows.Err()
}

func (s *SnapshotStore) ProjectStats(ctx context.Context, projectPath string) ([]store.ProjectStatsRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cs.project_path,
		       count(*),
		       count(DISTINCT cs.session_id),
		       COALESCE(sum(cs.message_count), 0),
		       COALESCE(avg(sq.quality_score), 0),
		       min(cs.timestamp),
		       max(cs.timestamp),
		       COALESCE(sum(cs.context_size_bytes), 0)
		FROM context_snapshots cs
		JOIN snapshot_quality sq ON sq.snapshot_id = cs.id
		WHERE ($1 = '' OR cs.project_path = $1)
		GROUP BY cs.project_path
		ORDER BY max(cs.timestamp) DESC`,
		projectPath)
	if err != nil {
		return nil, fmt.Errorf("project stats: %w", err)
	}
	defer rows.Close()

	var out []store.ProjectStatsRow
	for rows.Next() {
		var r store.ProjectStatsRow
		if err := rows.Scan(&r.ProjectPath, &r.Snapshots, &r.Sessions, &r.TotalMessages,
			&r.AvgQuality, &r.FirstCapture, &r.LastCapture, &r.TotalSizeBytes); err != nil {
			return nil, fmt.Errorf("scan project stats: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Decisions flattens the key_decisions arrays, optionally filtered by a
// case-insensitive keyword.
func (s *SnapshotStore) Decisions(ctx context.Context, keyword string, limit int) ([]store.DecisionRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cs.id, cs.project_path, cs.timestamp, d.value
		FROM context_snapshots cs,
		     jsonb_array_elements_text(cs.key_decisions) AS d(value)
		WHERE ($1 = '' OR d.value ILIKE '%' || $1 || '%')
		ORDER BY cs.timestamp DESC
		LIMIT $2`,
		keyword, boundLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("decisions: %w", err)
	}
	defer rows.Close()

	var out []store.DecisionRow
	for rows.Next() {
		var r store.DecisionRow
		if err := rows.Scan(&r.SnapshotID, &r.ProjectPath, &r.Timestamp, &r.Decision); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Bugs flattens the bugs_fixed arrays and classifies each line by keyword.
// Classification runs here rather than in SQL so the category rules stay in
// one testable place.
func (s *SnapshotStore) Bugs(ctx context.Context, category string, limit int) ([]store.BugRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cs.id, cs.project_path, cs.timestamp, b.value
		FROM context_snapshots cs,
		     jsonb_array_elements_text(cs.bugs_fixed) AS b(value)
		ORDER BY cs.timestamp DESC
		LIMIT $1`,
		boundLimit(limit, 50)*4)
	if err != nil {
		return nil, fmt.Errorf("bugs: %w", err)
	}
	defer rows.Close()

	limit = boundLimit(limit, 50)
	var out []store.BugRow
	for rows.Next() {
		var r store.BugRow
		if err := rows.Scan(&r.SnapshotID, &r.ProjectPath, &r.Timestamp, &r.Bug); err != nil {
			return nil, fmt.Errorf("scan bug: %w", err)
		}
		r.Category = ClassifyBug(r.Bug)
		if category != "" && r.Category != category {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// bugCategories is checked in order; the first keyword match wins.
var bugCategories = []struct {
	name     string
	keywords []string
}{
	{"security", []string{"injection", "vulnerab", "xss", "csrf", "auth bypass", "leak"}},
	{"concurrency", []string{"race", "deadlock", "goroutine", "mutex", "concurren"}},
	{"data", []string{"database", "migration", "corrupt", "constraint", "null pointer", "nil pointer"}},
	{"performance", []string{"slow", "timeout", "memory", "latency", "n+1"}},
	{"logic", []string{"off-by-one", "wrong", "incorrect", "edge case", "regression"}},
}

// ClassifyBug assigns a coarse category from keywords in the bug line.
func ClassifyBug(bug string) string {
	b := strings.ToLower(bug)
	for _, c := range bugCategories {
		for _, k := range c.keywords {
			if strings.Contains(b, k) {
				return c.name
			}
		}
	}
	return "other"
}

// FileActivity rolls up mentioned_files across snapshots.
func (s *SnapshotStore) FileActivity(ctx context.Context, fileType string, minMentions, limit int) ([]store.FileActivityRow, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.value, count(*), count(DISTINCT cs.id), max(cs.timestamp)
		FROM context_snapshots cs,
		     jsonb_array_elements_text(cs.mentioned_files) AS f(value)
		GROUP BY f.value
		HAVING count(*) >= $1
		ORDER BY count(*) DESC, max(cs.timestamp) DESC
		LIMIT $2`,
		max(minMentions, 1), boundLimit(limit, 30)*2)
	if err != nil {
		return nil, fmt.Errorf("file activity: %w", err)
	}
	defer rows.Close()

	limit = boundLimit(limit, 30)
	var out []store.FileActivityRow
	for rows.Next() {
		var r store.FileActivityRow
		if err := rows.Scan(&r.File, &r.Mentions, &r.Snapshots, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("scan file activity: %w", err)
		}
		r.FileType = FileType(r.File)
		if fileType != "" && r.FileType != fileType {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// fileTypes maps extensions to the coarse buckets the dashboard filters on.
var fileTypes = map[string]string{
	".go": "source", ".py": "source", ".js": "source", ".ts": "source",
	".tsx": "source", ".jsx": "source", ".rs": "source", ".java": "source",
	".c": "source", ".cpp": "source", ".h": "source", ".rb": "source",
	".sh": "script", ".bash": "script", ".ps1": "script",
	".sql": "sql",
	".json": "config", ".yaml": "config", ".yml": "config", ".toml": "config",
	".ini": "config", ".env": "config",
	".md": "docs", ".rst": "docs", ".txt": "docs",
	".html": "markup", ".css": "markup", ".scss": "markup",
}

// FileType buckets a path by extension.
func FileType(file string) string {
	if t, ok := fileTypes[strings.ToLower(path.Ext(file))]; ok {
		return t
	}
	return "other"
}
