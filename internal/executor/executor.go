// Package executor abstracts subprocess execution so callers can be tested
// against scripted fakes.
package executor

import (
	"context"
	"os"
	"os/exec"
)

// Executor creates commands.
type Executor interface {
	Command(ctx context.Context, bin string, args ...string) Cmd
}

// Cmd is a prepared command.
type Cmd interface {
	SetDir(dir string)
	// SetEnv appends KEY=VALUE pairs to the inherited environment.
	SetEnv(env ...string)
	CombinedOutput() ([]byte, error)
}

var _ Executor = BinaryFileExecutor{}

// BinaryFileExecutor runs real binaries through os/exec. Cancelling the
// context kills the process.
type BinaryFileExecutor struct{}

func (BinaryFileExecutor) Command(ctx context.Context, bin string, args ...string) Cmd {
	return &BinaryFileCmd{cmd: exec.CommandContext(ctx, bin, args...)}
}

// BinaryFileCmd wraps exec.Cmd.
type BinaryFileCmd struct {
	cmd *exec.Cmd
}

func (b *BinaryFileCmd) SetDir(dir string) {
	b.cmd.Dir = dir
}

func (b *BinaryFileCmd) SetEnv(env ...string) {
	if b.cmd.Env == nil {
		b.cmd.Env = os.Environ()
	}

	b.cmd.Env = append(b.cmd.Env, env...)
}

func (b *BinaryFileCmd) CombinedOutput() ([]byte, error) {
	return b.cmd.CombinedOutput()
}
