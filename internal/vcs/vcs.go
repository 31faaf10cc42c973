// Package vcs answers one question for the self-heal controller: does the
// working tree have uncommitted modifications right now? Nothing here
// mutates the tree.
package vcs

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrNotARepository is returned when the directory is not inside a repository.
var ErrNotARepository = errors.New("not a repository")

// Backend names accepted by New.
const (
	BackendGit   = "git"
	BackendGoGit = "go-git"
)

// Detector reports working-tree status.
type Detector interface {
	// Status returns the current uncommitted changes.
	Status(ctx context.Context) (*Status, error)
	// HasChanges reports whether Status is non-empty.
	HasChanges(ctx context.Context) (bool, error)
}

// Status is a parsed working-tree status.
type Status struct {
	Modified  []string `json:"modified,omitempty"`
	Added     []string `json:"added,omitempty"`
	Deleted   []string `json:"deleted,omitempty"`
	Renamed   []string `json:"renamed,omitempty"`
	Untracked []string `json:"untracked,omitempty"`
}

// HasChanges reports whether any path is listed.
func (s *Status) HasChanges() bool {
	return s.Count() > 0
}

// Count returns the number of listed paths.
func (s *Status) Count() int {
	return len(s.Modified) + len(s.Added) + len(s.Deleted) + len(s.Renamed) + len(s.Untracked)
}

// Paths returns every listed path, sorted.
func (s *Status) Paths() []string {
	var all []string
	for _, group := range [][]string{s.Modified, s.Added, s.Deleted, s.Renamed, s.Untracked} {
		all = append(all, group...)
	}
	sort.Strings(all)
	return all
}

// New returns the detector for backend rooted at dir.
func New(backend string, dir string) (Detector, error) {
	switch backend {
	case "", BackendGit:
		return NewGitCLI(&ExecGit{}, dir), nil
	case BackendGoGit:
		return NewGoGit(dir), nil
	default:
		return nil, errors.Newf("unknown change detector %q", backend)
	}
}
