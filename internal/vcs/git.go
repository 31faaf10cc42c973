package vcs

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext. Output is returned
// untrimmed because porcelain lines start with significant spaces.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if strings.Contains(stderr, "not a git repository") {
				return "", errors.Mark(errors.Newf("git %s: %s", strings.Join(args, " "), stderr), ErrNotARepository)
			}
			return "", errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), stderr)
		}
		return "", errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return string(out), nil
}

// GitCLI detects changes with `git status --porcelain`.
type GitCLI struct {
	git GitRunner
	dir string
}

// NewGitCLI creates a detector for the repository containing dir.
func NewGitCLI(git GitRunner, dir string) *GitCLI {
	return &GitCLI{git: git, dir: dir}
}

func (g *GitCLI) Status(ctx context.Context) (*Status, error) {
	out, err := g.git.Run(ctx, g.dir, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, errors.Wrap(err, "query working tree status")
	}
	return ParsePorcelain(out)
}

func (g *GitCLI) HasChanges(ctx context.Context) (bool, error) {
	st, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.HasChanges(), nil
}

// ParsePorcelain parses `git status --porcelain` (v1) output.
func ParsePorcelain(out string) (*Status, error) {
	st := &Status{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		code, path := line[0:2], line[3:]

		switch {
		case code == "??":
			st.Untracked = append(st.Untracked, path)
		case code[0] == 'R' || code[1] == 'R':
			if i := strings.Index(path, " -> "); i >= 0 {
				path = path[i+4:]
			}
			st.Renamed = append(st.Renamed, path)
		case code[0] == 'A':
			st.Added = append(st.Added, path)
		case code[0] == 'D' || code[1] == 'D':
			st.Deleted = append(st.Deleted, path)
		default:
			// M, T, C, U and anything newer git invents
			st.Modified = append(st.Modified, path)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "parse git status")
	}
	return st, nil
}
