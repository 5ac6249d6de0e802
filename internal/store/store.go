package store

import "context"

// SnapshotStore persists and reads conversation snapshots.
//
// Persist is the single write entry point and enforces the upsert invariant:
// a record whose session_id or transcript_path matches an existing row
// updates that row in place; otherwise a new row is inserted. The
// match-and-write runs inside one transaction.
type SnapshotStore interface {
	Persist(ctx context.Context, snap *Snapshot) (*PersistResult, error)

	// RewriteSummary replaces the summary (and optionally the embedding) of
	// an existing snapshot. Used by the enhanced-summary utility.
	RewriteSummary(ctx context.Context, id int64, summary string, embedding []float32) error

	Get(ctx context.Context, id int64) (*Snapshot, error)
	Recent(ctx context.Context, projectPath string, limit int) ([]SnapshotHead, error)

	// LatestBefore returns the most recent snapshot for a project,
	// excluding the given session. ErrNotFound when the project has none.
	LatestBefore(ctx context.Context, projectPath, excludeSessionID string) (*SnapshotRef, error)

	// SemanticSearch orders by cosine distance to the query vector,
	// ascending. Rows without an embedding are skipped.
	SemanticSearch(ctx context.Context, query []float32, projectPath string, limit int) ([]SearchHit, error)

	// LexicalSearch is the ILIKE fallback over summaries.
	LexicalSearch(ctx context.Context, query, projectPath string, limit int) ([]SearchHit, error)

	SearchRawMessages(ctx context.Context, query, projectPath string, limit, contextChars int) ([]RawMessageHit, error)
	SearchExactPhrase(ctx context.Context, phrase, projectPath string, limit int) ([]RawMessageHit, error)

	Timeline(ctx context.Context, projectPath string, limit int) ([]TimelineRow, error)
	Quality(ctx context.Context, minScore, limit int) (*QualityReport, error)
	ProjectStats(ctx context.Context, projectPath string) ([]ProjectStatsRow, error)
	Decisions(ctx context.Context, keyword string, limit int) ([]DecisionRow, error)
	Bugs(ctx context.Context, category string, limit int) ([]BugRow, error)
	FileActivity(ctx context.Context, fileType string, minMentions, limit int) ([]FileActivityRow, error)
	Stats(ctx context.Context) (*EngineStats, error)

	// MissingEmbeddings and UpdateEmbedding support the maintenance backfill.
	MissingEmbeddings(ctx context.Context, limit int) ([]SnapshotHead, error)
	UpdateEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// AgentStore persists and reads agent-work rows and their definitions.
type AgentStore interface {
	// GetOrCreateDefinition deduplicates on config_hash. A new definition
	// gets the next version for its agent_type. Returns the definition id
	// and whether a row was created.
	GetOrCreateDefinition(ctx context.Context, def *AgentDefinition) (int64, bool, error)

	// InsertWork inserts an agent-work row, ignoring duplicates on
	// (agent_id, parent_session_id). Returns false when the row already
	// existed.
	InsertWork(ctx context.Context, work *AgentWork) (int64, bool, error)

	HasWork(ctx context.Context, agentID, parentSessionID string) (bool, error)
	RecentWork(ctx context.Context, limit int) ([]AgentWorkHead, error)
	SemanticSearchWork(ctx context.Context, query []float32, limit int) ([]AgentWorkHead, error)
	LexicalSearchWork(ctx context.Context, query string, limit int) ([]AgentWorkHead, error)
	Performance(ctx context.Context, agentType string) ([]AgentPerformanceRow, error)
	ToolUsage(ctx context.Context, agentType string) ([]ToolUsageRow, error)
	CompareConfigs(ctx context.Context, agentType string) ([]ConfigComparisonRow, error)
	Stats(ctx context.Context) (*AgentStats, error)
}

// Stores bundles the concrete store implementations handed to the server
// and pipeline at startup.
type Stores struct {
	Snapshots SnapshotStore
	Agents    AgentStore
}
