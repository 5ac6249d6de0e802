package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/capturelog"
	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/transcript"
)

// captureCmd is the hook-side client: it forwards the hook payload to the
// processor and records the attempt locally for diagnosis.
func captureCmd() *cobra.Command {
	var (
		transcriptPath string
		sessionID      string
		cwd            string
		trigger        string
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Submit a transcript for capture (hook client)",
		Long:  "Reads the hook payload from stdin (or flags) and posts it to the capture server. The attempt is logged to ~/.claude/memory-captures.db either way.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			payload := hookPayload{
				SessionID:      sessionID,
				TranscriptPath: transcriptPath,
				CWD:            cwd,
				HookEventName:  trigger,
			}
			// Hook invocations pipe the payload on stdin; flags override.
			if fi, err := os.Stdin.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
				var stdin hookPayload
				if err := json.NewDecoder(os.Stdin).Decode(&stdin); err == nil {
					payload.merge(stdin)
				}
			}
			if payload.TranscriptPath == "" || payload.CWD == "" {
				return fmt.Errorf("transcript_path and cwd are required (stdin payload or flags)")
			}
			if payload.HookEventName == "" {
				payload.HookEventName = "PreCompact"
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			status, detail := postCapture(ctx, cfg.Server.CaptureURL()+"/capture", captureBody(payload))
			logAttempt(ctx, payload, status, detail)

			if status != capturelog.StatusAccepted {
				return fmt.Errorf("capture %s: %s", status, detail)
			}
			fmt.Printf("capture accepted for %s\n", payload.CWD)
			return nil
		},
	}

	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "transcript file path")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().StringVar(&cwd, "cwd", "", "project path")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger event name (default PreCompact)")
	return cmd
}

type hookPayload struct {
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name,omitempty"`
}

func (p *hookPayload) merge(other hookPayload) {
	if p.SessionID == "" {
		p.SessionID = other.SessionID
	}
	if p.TranscriptPath == "" {
		p.TranscriptPath = other.TranscriptPath
	}
	if p.CWD == "" {
		p.CWD = other.CWD
	}
	if p.HookEventName == "" {
		p.HookEventName = other.HookEventName
	}
}

// capturePayload is the stable ingestion body the server accepts.
type capturePayload struct {
	ProjectPath      string            `json:"project_path"`
	Trigger          string            `json:"trigger"`
	SessionID        string            `json:"session_id,omitempty"`
	TranscriptPath   string            `json:"transcript_path,omitempty"`
	ConversationData *conversationData `json:"conversation_data,omitempty"`
}

type conversationData struct {
	Messages []store.Message `json:"messages"`
}

// captureBody translates the hook payload into the ingestion body,
// parsing the transcript locally and sending the conversation inline.
// When the transcript cannot be read here the path alone is sent and
// the server reads it instead.
func captureBody(payload hookPayload) capturePayload {
	body := capturePayload{
		ProjectPath:    payload.CWD,
		Trigger:        fmt.Sprintf("auto-compact-%s-%s", payload.HookEventName, time.Now().Format("2006-01-02-15-04")),
		SessionID:      payload.SessionID,
		TranscriptPath: payload.TranscriptPath,
	}
	if entries, err := transcript.ReadFile(payload.TranscriptPath); err == nil {
		if msgs := transcript.Messages(entries); len(msgs) > 0 {
			body.ConversationData = &conversationData{Messages: msgs}
		}
	}
	return body
}

func postCapture(ctx context.Context, url string, payload capturePayload) (status, detail string) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return capturelog.StatusFailed, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return capturelog.StatusFailed, err.Error()
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusAccepted:
		return capturelog.StatusAccepted, ""
	case http.StatusTooManyRequests:
		return capturelog.StatusRejected, "server busy: " + string(data)
	default:
		return capturelog.StatusRejected, fmt.Sprintf("status %d: %s", resp.StatusCode, data)
	}
}

// logAttempt best-effort records the attempt; a broken local log must not
// turn a successful capture into a hook failure.
func logAttempt(ctx context.Context, payload hookPayload, status, detail string) {
	path, err := capturelog.DefaultPath()
	if err != nil {
		return
	}
	l, err := capturelog.Open(path)
	if err != nil {
		return
	}
	defer l.Close()
	l.Record(ctx, capturelog.Attempt{
		ProjectPath:  payload.CWD,
		SessionID:    payload.SessionID,
		TriggerEvent: payload.HookEventName,
		Status:       status,
		Detail:       detail,
	})
}
