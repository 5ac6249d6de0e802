// Package transcript reads assistant transcript files: one JSON object per
// line, interleaving user turns, assistant turns, and tool-use records whose
// exact shape varies between versions. The reader is deliberately permissive
// and extracts only role/content-shaped messages.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// Entry is one raw transcript line. Unknown fields are retained so callers
// like the agent-work extractor can dig into tool_use blocks.
type Entry struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// innerMessage is the nested assistant payload: content is a block list.
type innerMessage struct {
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ContentBlock is one element of an assistant content block list.
type ContentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// ReadFile parses a JSONL transcript from disk into raw entries.
// Malformed lines are skipped with a warning; they are not reconstructible.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Read(f, path)
}

// Read parses entries from r. The name is used only for log context.
func Read(r io.Reader, name string) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	skipped := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if skipped > 0 {
		slog.Warn("transcript.malformed_lines_skipped", "file", name, "skipped", skipped, "total", line)
	}
	return entries, nil
}

// Messages reduces raw entries to the role/content sequence the pipeline
// operates on. User content may be a plain string or a nested message;
// assistant content is the concatenation of its text blocks. Tool-use and
// unknown entry shapes are dropped.
func Messages(entries []Entry) []store.Message {
	var msgs []store.Message
	for _, e := range entries {
		switch e.Type {
		case "user":
			if content := userContent(e); content != "" {
				msgs = append(msgs, store.Message{Role: "user", Content: content})
			}
		case "assistant":
			if content := assistantContent(e); content != "" {
				msgs = append(msgs, store.Message{Role: "assistant", Content: content})
			}
		}
	}
	return msgs
}

func userContent(e Entry) string {
	// Direct string content first.
	var s string
	if len(e.Content) > 0 && json.Unmarshal(e.Content, &s) == nil {
		return s
	}
	// Nested message form: {"message": {"content": "..."}}
	var inner struct {
		Content json.RawMessage `json:"content"`
	}
	if len(e.Message) > 0 && json.Unmarshal(e.Message, &inner) == nil {
		if json.Unmarshal(inner.Content, &s) == nil {
			return s
		}
	}
	return ""
}

func assistantContent(e Entry) string {
	var inner innerMessage
	if len(e.Message) == 0 || json.Unmarshal(e.Message, &inner) != nil {
		return ""
	}
	var blocks []ContentBlock
	if json.Unmarshal(inner.Content, &blocks) != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// Model returns the model name recorded on the first assistant entry that
// carries one.
func Model(entries []Entry) string {
	for _, e := range entries {
		if e.Type != "assistant" || len(e.Message) == 0 {
			continue
		}
		var inner innerMessage
		if json.Unmarshal(e.Message, &inner) == nil && inner.Model != "" {
			return inner.Model
		}
	}
	return ""
}

// Blocks returns the content block list of an assistant entry, or nil.
func Blocks(e Entry) []ContentBlock {
	if e.Type != "assistant" || len(e.Message) == 0 {
		return nil
	}
	var inner innerMessage
	if json.Unmarshal(e.Message, &inner) != nil {
		return nil
	}
	var blocks []ContentBlock
	if json.Unmarshal(inner.Content, &blocks) != nil {
		return nil
	}
	return blocks
}
