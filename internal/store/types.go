package store

import (
	"encoding/json"
	"time"
)

// EmbeddingDimensions is the fixed width of every stored vector.
// Matches all-MiniLM-L6-v2 output; the vector(384) column enforces it.
const EmbeddingDimensions = 384

// Message is one entry of a captured conversation, reduced to role/content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snapshot is one persisted conversation slice with its derived metadata.
type Snapshot struct {
	ID               int64     `json:"id"`
	ProjectPath      string    `json:"project_path"`
	SessionID        string    `json:"session_id,omitempty"`
	TranscriptPath   string    `json:"transcript_path,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	TriggerEvent     string    `json:"trigger_event"`
	MessageCount     int       `json:"message_count"`
	RawContext       []Message `json:"raw_context"`
	Summary          string    `json:"summary"`
	Embedding        []float32 `json:"embedding,omitempty"`
	Tags             []string  `json:"tags"`
	MentionedFiles   []string  `json:"mentioned_files"`
	KeyDecisions     []string  `json:"key_decisions"`
	BugsFixed        []string  `json:"bugs_fixed"`
	GitCommitHash    string    `json:"git_commit_hash,omitempty"`
	GitBranch        string    `json:"git_branch,omitempty"`
	ContextSizeBytes int64     `json:"context_size_bytes"`
}

// PersistAction reports whether Persist inserted a new row or updated an existing one.
type PersistAction string

const (
	ActionInserted PersistAction = "inserted"
	ActionUpdated  PersistAction = "updated"
)

// PersistResult is the outcome of a snapshot write.
type PersistResult struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Action    PersistAction `json:"action"`
}

// SnapshotRef is a lightweight reference to a prior snapshot, used by the
// session-aware summarizer to prime the prompt with previous context.
type SnapshotRef struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
	Tags      []string  `json:"tags"`
}

// SnapshotHead is the listing row for recent-capture feeds.
type SnapshotHead struct {
	ID           int64     `json:"id"`
	ProjectPath  string    `json:"project_path"`
	SessionID    string    `json:"session_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TriggerEvent string    `json:"trigger_event"`
	MessageCount int       `json:"message_count"`
	Summary      string    `json:"summary"`
	Tags         []string  `json:"tags"`
}

// SearchHit is one semantic or lexical search result.
type SearchHit struct {
	SnapshotHead
	Distance float64 `json:"distance,omitempty"`
}

// RawMessageHit is a substring match inside the raw conversation document.
type RawMessageHit struct {
	SnapshotID   int64     `json:"snapshot_id"`
	ProjectPath  string    `json:"project_path"`
	Timestamp    time.Time `json:"timestamp"`
	Role         string    `json:"role"`
	MessageIndex int       `json:"message_index"`
	Snippet      string    `json:"snippet"`
}

// QualityRow is one row of the snapshot quality view (0-10 rubric).
type QualityRow struct {
	SnapshotID   int64     `json:"snapshot_id"`
	ProjectPath  string    `json:"project_path"`
	Timestamp    time.Time `json:"timestamp"`
	Score        int       `json:"score"`
	SummaryChars int       `json:"summary_chars"`
	MessageCount int       `json:"message_count"`
	HasEmbedding bool      `json:"has_embedding"`
}

// QualityReport is the quality rows plus aggregate buckets.
type QualityReport struct {
	Rows   []QualityRow `json:"rows"`
	High   int          `json:"high"`   // score >= 8
	Medium int          `json:"medium"` // 5..7
	Low    int          `json:"low"`    // < 5
}

// ProjectStatsRow is a per-project dashboard aggregate.
type ProjectStatsRow struct {
	ProjectPath    string    `json:"project_path"`
	Snapshots      int       `json:"snapshots"`
	Sessions       int       `json:"sessions"`
	TotalMessages  int       `json:"total_messages"`
	AvgQuality     float64   `json:"avg_quality"`
	FirstCapture   time.Time `json:"first_capture"`
	LastCapture    time.Time `json:"last_capture"`
	TotalSizeBytes int64     `json:"total_size_bytes"`
}

// DecisionRow is one flattened key decision.
type DecisionRow struct {
	SnapshotID  int64     `json:"snapshot_id"`
	ProjectPath string    `json:"project_path"`
	Timestamp   time.Time `json:"timestamp"`
	Decision    string    `json:"decision"`
}

// BugRow is one flattened fixed-bug line with its keyword category.
type BugRow struct {
	SnapshotID  int64     `json:"snapshot_id"`
	ProjectPath string    `json:"project_path"`
	Timestamp   time.Time `json:"timestamp"`
	Bug         string    `json:"bug"`
	Category    string    `json:"category"`
}

// FileActivityRow is a per-file mention rollup.
type FileActivityRow struct {
	File      string    `json:"file"`
	FileType  string    `json:"file_type"`
	Mentions  int       `json:"mentions"`
	Snapshots int       `json:"snapshots"`
	LastSeen  time.Time `json:"last_seen"`
}

// TimelineRow is a chronological capture row with trigger classification.
type TimelineRow struct {
	SnapshotID   int64     `json:"snapshot_id"`
	ProjectPath  string    `json:"project_path"`
	SessionID    string    `json:"session_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TriggerEvent string    `json:"trigger_event"`
	TriggerKind  string    `json:"trigger_kind"` // auto-compact, post-compact, manual, other
	MessageCount int       `json:"message_count"`
	Summary      string    `json:"summary"`
}

// EngineStats is the system-status rollup served at /api/stats.
type EngineStats struct {
	Snapshots     int        `json:"snapshots"`
	Projects      int        `json:"projects"`
	AgentWorkRows int        `json:"agent_work_rows"`
	AgentDefs     int        `json:"agent_definitions"`
	WithEmbedding int        `json:"with_embedding"`
	LastCapture   *time.Time `json:"last_capture,omitempty"`
}

// AgentDefinition is the reusable blueprint an agent execution ran with.
type AgentDefinition struct {
	ID            int64           `json:"id"`
	AgentType     string          `json:"agent_type"`
	AgentName     string          `json:"agent_name,omitempty"`
	SystemMessage string          `json:"system_message,omitempty"`
	Configuration json.RawMessage `json:"configuration_params,omitempty"`
	Tools         []string        `json:"tools_available"`
	Model         string          `json:"model_used"`
	Version       int             `json:"version"`
	ParentID      *int64          `json:"parent_definition_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
	ConfigHash    string          `json:"config_hash"`
}

// AgentWork is one delegated sub-task execution inside a parent conversation.
type AgentWork struct {
	ID               int64          `json:"id"`
	RequestID        string         `json:"request_id"`
	ParentSnapshotID *int64         `json:"parent_snapshot_id,omitempty"`
	ParentSessionID  string         `json:"parent_session_id"`
	DefinitionID     int64          `json:"agent_definition_id"`
	AgentID          string         `json:"agent_id"`
	AgentType        string         `json:"agent_type"`
	Request          string         `json:"agent_request"`
	TranscriptPath   string         `json:"agent_transcript_path,omitempty"`
	WorkContext      []Message      `json:"work_context"`
	ToolsUsed        map[string]int `json:"tools_used"`
	FilesExamined    []string       `json:"files_examined"`
	URLsFetched      []string       `json:"urls_fetched"`
	ResultSummary    string         `json:"result_summary,omitempty"`
	StartedAt        *time.Time     `json:"timestamp_start,omitempty"`
	EndedAt          *time.Time     `json:"timestamp_end,omitempty"`
	Embedding        []float32      `json:"embedding,omitempty"`
}

// DurationSeconds derives the execution duration from the timestamp pair.
// Returns 0 when either endpoint is missing or the pair is inverted.
func (w *AgentWork) DurationSeconds() float64 {
	if w.StartedAt == nil || w.EndedAt == nil {
		return 0
	}
	d := w.EndedAt.Sub(*w.StartedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// AgentWorkHead is the listing row for agent-work feeds.
type AgentWorkHead struct {
	ID              int64      `json:"id"`
	AgentID         string     `json:"agent_id"`
	AgentType       string     `json:"agent_type"`
	ParentSessionID string     `json:"parent_session_id"`
	Request         string     `json:"agent_request"`
	ResultSummary   string     `json:"result_summary,omitempty"`
	StartedAt       *time.Time `json:"timestamp_start,omitempty"`
	DurationSec     float64    `json:"duration_seconds"`
	Distance        float64    `json:"distance,omitempty"`
}

// AgentPerformanceRow aggregates executions per definition.
type AgentPerformanceRow struct {
	DefinitionID    int64   `json:"definition_id"`
	AgentType       string  `json:"agent_type"`
	Version         int     `json:"version"`
	TimesUsed       int     `json:"times_used"`
	AvgDurationSec  float64 `json:"avg_duration_seconds"`
	AvgMessageCount float64 `json:"avg_message_count"`
	SuccessRate     float64 `json:"success_rate"`
}

// ToolUsageRow is a per-agent-type tool usage rollup.
type ToolUsageRow struct {
	AgentType string `json:"agent_type"`
	Tool      string `json:"tool"`
	Calls     int    `json:"calls"`
	Runs      int    `json:"runs"`
}

// ConfigComparisonRow compares a definition version against its predecessor.
type ConfigComparisonRow struct {
	AgentType          string   `json:"agent_type"`
	Version            int      `json:"version"`
	PrevVersion        int      `json:"prev_version"`
	AvgDurationSec     float64  `json:"avg_duration_seconds"`
	PrevAvgDurationSec float64  `json:"prev_avg_duration_seconds"`
	DurationChangePct  *float64 `json:"duration_change_pct,omitempty"`
}

// AgentStats is the agent-side rollup served at /api/agents/stats.
type AgentStats struct {
	WorkRows    int        `json:"work_rows"`
	Definitions int        `json:"definitions"`
	AgentTypes  int        `json:"agent_types"`
	LastCapture *time.Time `json:"last_capture,omitempty"`
}
