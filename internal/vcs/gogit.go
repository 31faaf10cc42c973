package vcs

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	git "github.com/go-git/go-git/v5"
)

// GoGit detects changes in-process with go-git, for hosts without a git binary.
type GoGit struct {
	dir string
}

// NewGoGit creates a detector for the repository containing dir.
func NewGoGit(dir string) *GoGit {
	return &GoGit{dir: dir}
}

func (g *GoGit) Status(ctx context.Context) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(g.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, errors.Mark(errors.Wrapf(err, "open %s", g.dir), ErrNotARepository)
		}
		return nil, errors.Wrapf(err, "open %s", g.dir)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "open worktree")
	}
	fs, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, "query working tree status")
	}

	st := &Status{}
	for path, f := range fs {
		switch {
		case f.Staging == git.Untracked || f.Worktree == git.Untracked:
			st.Untracked = append(st.Untracked, path)
		case f.Staging == git.Renamed || f.Worktree == git.Renamed:
			st.Renamed = append(st.Renamed, path)
		case f.Staging == git.Added:
			st.Added = append(st.Added, path)
		case f.Staging == git.Deleted || f.Worktree == git.Deleted:
			st.Deleted = append(st.Deleted, path)
		case f.Staging == git.Unmodified && f.Worktree == git.Unmodified:
		default:
			st.Modified = append(st.Modified, path)
		}
	}
	for _, group := range [][]string{st.Modified, st.Added, st.Deleted, st.Renamed, st.Untracked} {
		sort.Strings(group)
	}
	return st, nil
}

func (g *GoGit) HasChanges(ctx context.Context) (bool, error) {
	st, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.HasChanges(), nil
}
