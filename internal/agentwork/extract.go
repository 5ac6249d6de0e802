// Package agentwork extracts delegated sub-agent executions from
// agent-*.jsonl transcripts: what was asked, which tools ran, what came
// back, and the configuration blueprint the agent executed under.
package agentwork

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/transcript"
)

const (
	resultSummaryMax   = 1000
	selfDescriptionMax = 500
)

// Extraction is everything pulled out of one agent transcript.
type Extraction struct {
	AgentID       string
	AgentType     string
	Model         string
	Request       string
	SelfDesc      string
	ResultSummary string
	WorkContext   []store.Message
	ToolsUsed     map[string]int
	ToolsList     []string
	FilesExamined []string
	URLsFetched   []string
	Configuration json.RawMessage
	ConfigHash    string
	StartedAt     *time.Time
	EndedAt       *time.Time
}

// FromFile extracts agent work from a transcript on disk.
func FromFile(path string) (*Extraction, error) {
	entries, err := transcript.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ex, err := FromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	ex.AgentID = AgentIDFromPath(path)
	return ex, nil
}

// FromEntries extracts agent work from parsed transcript entries.
// The caller sets AgentID, which comes from the filename.
func FromEntries(entries []transcript.Entry) (*Extraction, error) {
	msgs := transcript.Messages(entries)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no messages in agent transcript")
	}

	ex := &Extraction{
		Model:       transcript.Model(entries),
		WorkContext: msgs,
		ToolsUsed:   map[string]int{},
	}

	filesSeen := map[string]bool{}
	urlsSeen := map[string]bool{}
	hadErrors := false
	for _, e := range entries {
		for _, b := range transcript.Blocks(e) {
			switch b.Type {
			case "tool_use":
				if b.Name == "" {
					continue
				}
				ex.ToolsUsed[b.Name]++
				switch b.Name {
				case "Read":
					if p := inputField(b.Input, "file_path"); p != "" && !filesSeen[p] {
						filesSeen[p] = true
						ex.FilesExamined = append(ex.FilesExamined, p)
					}
				case "WebFetch":
					if u := inputField(b.Input, "url"); u != "" && !urlsSeen[u] {
						urlsSeen[u] = true
						ex.URLsFetched = append(ex.URLsFetched, u)
					}
				}
			case "tool_result":
				if b.IsError {
					hadErrors = true
				}
			}
		}
	}

	for name := range ex.ToolsUsed {
		ex.ToolsList = append(ex.ToolsList, name)
	}
	sort.Strings(ex.ToolsList)

	for _, m := range msgs {
		if m.Role == "user" {
			ex.Request = m.Content
			break
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			ex.ResultSummary = truncate(msgs[i].Content, resultSummaryMax)
			break
		}
	}
	ex.SelfDesc = selfDescription(msgs)
	ex.AgentType = InferType(ex.Request, ex.SelfDesc)
	ex.StartedAt, ex.EndedAt = timeRange(entries)

	userCount := 0
	for _, m := range msgs {
		if m.Role == "user" {
			userCount++
		}
	}
	totalCalls := 0
	for _, n := range ex.ToolsUsed {
		totalCalls += n
	}
	cfg, _ := json.Marshal(map[string]interface{}{
		"tools_used_count":   len(ex.ToolsUsed),
		"total_tool_calls":   totalCalls,
		"conversation_turns": userCount,
		"had_tool_errors":    hadErrors,
	})
	ex.Configuration = cfg
	ex.ConfigHash = ConfigHash(ex.AgentType, ex.Model, ex.ToolsList, ex.SelfDesc)

	return ex, nil
}

// AgentIDFromPath strips the agent- prefix and extension from the filename.
func AgentIDFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(name, "agent-")
}

// selfDescription finds the agent introducing itself in an early assistant
// turn. Used as the definition's system message stand-in.
func selfDescription(msgs []store.Message) string {
	indicators := []string{
		"i'm ready", "i understand", "i can", "my tools",
		"read-only mode", "i have access to",
	}
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, ind := range indicators {
			if strings.Contains(lower, ind) {
				return truncate(m.Content, selfDescriptionMax)
			}
		}
	}
	return ""
}

// typeRules is checked in order; the first keyword hit wins.
var typeRules = []struct {
	agentType string
	keywords  []string
}{
	{"Explore", []string{"explore", "find", "search", "locate"}},
	{"Plan", []string{"plan", "design", "architect", "strategy"}},
	{"WebFetch", []string{"fetch", "scrape", "download", "retrieve url"}},
	{"ReadOnly", []string{"read-only", "readonly"}},
}

// InferType guesses the agent type from its request and self-description.
func InferType(request, selfDesc string) string {
	text := strings.ToLower(request + " " + selfDesc)
	if strings.TrimSpace(text) == "" {
		return "general-purpose"
	}
	for _, r := range typeRules {
		for _, k := range r.keywords {
			if strings.Contains(text, k) {
				return r.agentType
			}
		}
	}
	return "general-purpose"
}

// ConfigHash is the dedup key of an agent definition: sha256 over a
// canonical JSON document of type, model, sorted tool list and system
// prompt. Run-derived statistics stay out of the hash so identical
// agents dedup across executions.
func ConfigHash(agentType, model string, tools []string, systemPrompt string) string {
	if model == "" {
		model = "unknown"
	}
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	doc, _ := json.Marshal(struct {
		AgentType    string   `json:"agent_type"`
		ModelUsed    string   `json:"model_used"`
		Tools        []string `json:"tools_available"`
		SystemPrompt string   `json:"system_prompt,omitempty"`
	}{agentType, model, sorted, systemPrompt})
	sum := sha256.Sum256(doc)
	return hex.EncodeToString(sum[:])
}

func inputField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return ""
	}
	var s string
	if json.Unmarshal(m[key], &s) != nil {
		return ""
	}
	return s
}

func timeRange(entries []transcript.Entry) (*time.Time, *time.Time) {
	var first, last *time.Time
	for _, e := range entries {
		if e.Timestamp == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			continue
		}
		if first == nil || t.Before(*first) {
			tt := t
			first = &tt
		}
		if last == nil || t.After(*last) {
			tt := t
			last = &tt
		}
	}
	return first, last
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
