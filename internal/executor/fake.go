package executor

import (
	"context"
	"sync"
)

var _ Executor = &Fake{}

// Invocation records one command run through a Fake.
type Invocation struct {
	Bin  string
	Args []string
	Dir  string
	Env  []string
}

// FakeRun produces the output of a faked command. It may create files, block
// on ctx, or fail.
type FakeRun func(ctx context.Context, inv Invocation) ([]byte, error)

// Fake is a scripted Executor for tests. Runs are looked up by binary name;
// Default handles everything else.
type Fake struct {
	Runs    map[string]FakeRun
	Default FakeRun

	mu          sync.Mutex
	invocations []Invocation
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{Runs: map[string]FakeRun{}}
}

// On registers run for bin and returns f for chaining.
func (f *Fake) On(bin string, run FakeRun) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Runs == nil {
		f.Runs = map[string]FakeRun{}
	}

	f.Runs[bin] = run

	return f
}

func (f *Fake) Command(ctx context.Context, bin string, args ...string) Cmd {
	return &fakeCmd{
		fake: f,
		ctx:  ctx,
		inv:  Invocation{Bin: bin, Args: append([]string(nil), args...)},
	}
}

// Invocations returns the commands run so far.
func (f *Fake) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]Invocation(nil), f.invocations...)
}

func (f *Fake) record(inv Invocation) FakeRun {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.invocations = append(f.invocations, inv)
	if run, ok := f.Runs[inv.Bin]; ok {
		return run
	}

	return f.Default
}

type fakeCmd struct {
	fake *Fake
	ctx  context.Context
	inv  Invocation
}

func (c *fakeCmd) SetDir(dir string) { c.inv.Dir = dir }

func (c *fakeCmd) SetEnv(env ...string) { c.inv.Env = append(c.inv.Env, env...) }

func (c *fakeCmd) CombinedOutput() ([]byte, error) {
	run := c.fake.record(c.inv)
	if run == nil {
		return nil, &NotFoundError{Bin: c.inv.Bin}
	}

	return run(c.ctx, c.inv)
}

// NotFoundError is returned by a Fake for binaries it has no run for.
type NotFoundError struct {
	Bin string
}

func (e *NotFoundError) Error() string {
	return "executor: no fake registered for " + e.Bin
}
