// Package extract derives tags, file mentions, decision phrases, and
// bug phrases from the textual content of a captured conversation. The
// extractor is pure: the same message sequence always yields the same
// metadata.
package extract

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

const (
	maxTags      = 10
	maxFiles     = 50
	maxDecisions = 10
	maxBugs      = 10

	// Captures longer than this are noise, not phrases; they are dropped
	// outright rather than truncated.
	maxPhraseLen = 200
)

// Metadata is the extractor output consumed by the summarizer and the store.
type Metadata struct {
	Tags           []string
	MentionedFiles []string
	KeyDecisions   []string
	BugsFixed      []string
	GitCommitHash  string
	GitBranch      string
	MessageCount   int
}

// tagRules maps keyword sets to tag names, scanned in declaration order.
// A tag is emitted iff any of its keywords occurs in the conversation text.
var tagRules = []struct {
	tag      string
	keywords []string
}{
	{"bug-fix", []string{"fix", "fixed", "bug", "resolved", "patch"}},
	{"security", []string{"security", "vulnerability", "injection", "xss", "csrf", "sanitize"}},
	{"feature", []string{"feature", "implement", "new functionality"}},
	{"refactor", []string{"refactor", "restructure", "clean up", "cleanup"}},
	{"database", []string{"database", "sql", "migration", "postgres", "schema"}},
	{"testing", []string{"test", "coverage", "assertion"}},
	{"performance", []string{"performance", "optimize", "latency", "slow"}},
	{"api", []string{"api", "endpoint", "rest", "graphql"}},
	{"frontend", []string{"frontend", "css", "component", "react"}},
	{"deployment", []string{"deploy", "docker", "kubernetes", "pipeline"}},
	{"documentation", []string{"readme", "documentation", "docstring"}},
	{"configuration", []string{"config", "environment variable", "env var", "settings"}},
	{"debugging", []string{"debug", "stack trace", "breakpoint"}},
	{"git", []string{"git ", "commit", "branch", "merge"}},
}

var (
	filePattern = regexp.MustCompile(
		`[\w./~-]+\.(?:go|js|jsx|ts|tsx|py|java|rb|rs|c|cpp|h|hpp|cs|php|swift|kt|css|scss|html|json|ya?ml|toml|xml|md|rst|sql|sh|bash|zsh|env|cfg|conf|ini|txt|lock|mod|sum)\b`)

	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`decided to ([^.\n]+)`),
		regexp.MustCompile(`chose to ([^.\n]+)`),
		regexp.MustCompile(`implemented ([^.\n]+)`),
		regexp.MustCompile(`will use ([^.\n]+)`),
		regexp.MustCompile(`using ([^.\n]+)`),
		regexp.MustCompile(`(?:approach|solution|strategy):\s*([^.\n]+)`),
	}

	bugPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:fixed|resolved|bug:)\s*([^.\n]+)`),
		regexp.MustCompile(`(?:error|issue):\s*([^.\n]+)`),
	}
)

// FromMessages runs the full rule set over a conversation. Git state is not
// populated here; see gitinfo.Lookup, which needs filesystem access.
func FromMessages(msgs []store.Message) Metadata {
	text := foldText(msgs)

	return Metadata{
		Tags:           matchTags(text),
		MentionedFiles: matchFiles(text),
		KeyDecisions:   matchPhrases(text, decisionPatterns, maxDecisions),
		BugsFixed:      matchPhrases(text, bugPatterns, maxBugs),
		MessageCount:   len(msgs),
	}
}

// foldText concatenates message content, case-folded, for keyword scans.
func foldText(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return strings.ToLower(b.String())
}

func matchTags(text string) []string {
	var tags []string
	for _, rule := range tagRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				tags = append(tags, rule.tag)
				break
			}
		}
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func matchFiles(text string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, m := range filePattern.FindAllString(text, -1) {
		f := strings.Trim(m, ".,;:()[]{}\"'`")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		files = append(files, f)
		if len(files) == maxFiles {
			break
		}
	}
	return files
}

func matchPhrases(text string, patterns []*regexp.Regexp, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			phrase := strings.TrimSpace(m[1])
			if phrase == "" || len(phrase) > maxPhraseLen || seen[phrase] {
				continue
			}
			seen[phrase] = true
			out = append(out, phrase)
			if len(out) == max {
				return out
			}
		}
	}
	return out
}
