package command

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrTimeout is returned when a command is killed because its deadline expired.
var ErrTimeout = errors.New("command timed out")

// DefaultTimeout bounds a single command when the caller does not set one.
const DefaultTimeout = 10 * time.Minute

// Exit codes the POSIX shell uses when it cannot run the requested program.
const (
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

// Runner abstracts command execution for testability.
type Runner interface {
	// Run executes command in dir and returns its exit status. A non-zero
	// exit is not an error; err is set only when the command could not be
	// started or was killed after timeout.
	Run(ctx context.Context, dir string, command string, timeout time.Duration) (exitCode int, err error)
}

// ExecRunner implements Runner by shelling out through sh -c. Output goes to
// Stdout/Stderr as it is produced; nil writers fall back to the process streams.
// Commands run non-interactively.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// The shell leads its own process group so a timeout or interrupt kills
	// everything it spawned, not just sh. A background group cannot read the
	// terminal, so commands get no stdin.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Stdout = e.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = e.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// Give the child a moment to exit on SIGKILL before Wait gives up on its pipes.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1, errors.Wrapf(ErrTimeout, "%q after %s", command, timeout)
	}
	if ctx.Err() != nil {
		return -1, errors.Wrapf(ctx.Err(), "exec %q", command)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrapf(err, "exec %q", command)
}

// Unavailable reports whether an exit code means the shell could not find or
// execute the program, as opposed to the program itself failing.
func Unavailable(exitCode int) bool {
	return exitCode == ExitNotExecutable || exitCode == ExitNotFound
}
