// Package gitinfo resolves the VCS state of a project directory at capture
// time. Failures are silent: a capture outside a repository simply records
// no commit hash.
package gitinfo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const lookupTimeout = 3 * time.Second

// State is the recorded VCS position.
type State struct {
	CommitHash string
	Branch     string
}

// Lookup returns the HEAD commit and current branch of the repository
// containing dir. Relative paths are resolved against workspaceRoot.
// Returns the zero State when dir is not inside an accessible repository.
func Lookup(ctx context.Context, dir, workspaceRoot string) State {
	if dir == "" {
		return State{}
	}
	if !filepath.IsAbs(dir) && workspaceRoot != "" {
		dir = filepath.Join(workspaceRoot, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return State{}
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	hash := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if hash == "" {
		return State{}
	}
	return State{
		CommitHash: hash,
		Branch:     gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"),
	}
}

func gitOutput(ctx context.Context, dir string, args ...string) string {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
