package executor

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestBinaryFileExecutorRuns(t *testing.T) {
	requireBinary(t, "sh")

	dir := t.TempDir()
	cmd := BinaryFileExecutor{}.Command(context.Background(), "sh", "-c", "pwd; echo $KARAOKE_TEST")
	cmd.SetDir(dir)
	cmd.SetEnv("KARAOKE_TEST=hello")

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("CombinedOutput() error = %v (%s)", err, out)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], filepath.Base(dir)) || lines[1] != "hello" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBinaryFileExecutorCancellationKills(t *testing.T) {
	requireBinary(t, "sleep")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := BinaryFileExecutor{}.Command(ctx, "sleep", "5").CombinedOutput()
	if err == nil {
		t.Fatal("expected error from killed process")
	}

	if time.Since(start) > 3*time.Second {
		t.Fatal("process was not killed on context expiry")
	}
}

func TestFakeRecordsInvocations(t *testing.T) {
	f := NewFake().On("crepe", func(_ context.Context, inv Invocation) ([]byte, error) {
		return []byte(strings.Join(inv.Args, " ")), nil
	})

	cmd := f.Command(context.Background(), "crepe", "--step-size", "10")
	cmd.SetDir("/tmp/x")
	cmd.SetEnv("A=1")

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("CombinedOutput() error = %v", err)
	}

	if string(out) != "--step-size 10" {
		t.Fatalf("output = %q", out)
	}

	invs := f.Invocations()
	if len(invs) != 1 || invs[0].Dir != "/tmp/x" || len(invs[0].Env) != 1 || invs[0].Env[0] != "A=1" {
		t.Fatalf("invocations = %+v", invs)
	}
}

func TestFakeUnknownBinary(t *testing.T) {
	_, err := NewFake().Command(context.Background(), "nope").CombinedOutput()

	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Bin != "nope" {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}
