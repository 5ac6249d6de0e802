package summarize

import "github.com/nextlevelbuilder/memclaw/internal/store"

// Selection strategies reported alongside the chosen messages.
const (
	StrategyFull    = "full"
	StrategySampled = "sampled"
)

// TruncationMarker is appended to message content cut at MaxMessageChars.
const TruncationMarker = "... [truncated]"

// MaxMessageChars caps each message's contribution to the model prompt.
const MaxMessageChars = 500

// SelectionConfig bounds the head/middle/tail sample. The defaults are
// policy, not constants: they are overridable from configuration.
type SelectionConfig struct {
	FirstN  int
	MiddleN int
	LastN   int
}

// DefaultSelection returns the 20/30/50 policy defaults.
func DefaultSelection() SelectionConfig {
	return SelectionConfig{FirstN: 20, MiddleN: 30, LastN: 50}
}

// Select picks the messages fed to the model. Short conversations pass
// through whole; long ones keep the first FirstN, an evenly spaced sample
// of up to MiddleN from the middle band, and the last LastN, in that order.
func Select(msgs []store.Message, cfg SelectionConfig) ([]store.Message, string) {
	total := cfg.FirstN + cfg.MiddleN + cfg.LastN
	if len(msgs) <= total {
		return msgs, StrategyFull
	}

	out := make([]store.Message, 0, total)
	out = append(out, msgs[:cfg.FirstN]...)

	middle := msgs[cfg.FirstN : len(msgs)-cfg.LastN]
	if cfg.MiddleN > 0 && len(middle) > 0 {
		if len(middle) <= cfg.MiddleN {
			out = append(out, middle...)
		} else {
			// Evenly spaced sample across the middle band.
			step := float64(len(middle)) / float64(cfg.MiddleN)
			for i := 0; i < cfg.MiddleN; i++ {
				out = append(out, middle[int(float64(i)*step)])
			}
		}
	}

	out = append(out, msgs[len(msgs)-cfg.LastN:]...)
	return out, StrategySampled
}

// capContent suffix-truncates content at MaxMessageChars with an explicit
// marker so the model knows text was cut.
func capContent(s string) string {
	t := truncateRunes(s, MaxMessageChars)
	if len(t) == len(s) {
		return s
	}
	return t + TruncationMarker
}

// truncateRunes cuts s after at most max runes, never splitting a
// multibyte character.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
