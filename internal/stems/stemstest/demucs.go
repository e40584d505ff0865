// Package stemstest provides scripted Demucs runs for executor fakes.
package stemstest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-karaoke/internal/executor"
)

// ErrExit stands in for a non-zero exit status.
var ErrExit = errors.New("exit status 1")

// ArgAfter returns the value following flag in args.
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}

	return ""
}

// Demucs answers "-m demucs --help" and otherwise writes one file per stem
// where Demucs would put it: <out>/<model>/<input base>/<stem>.<ext>.
func Demucs(stems ...string) executor.FakeRun {
	return func(ctx context.Context, inv executor.Invocation) ([]byte, error) {
		if ArgAfter(inv.Args, "-m") != "demucs" {
			return nil, os.ErrInvalid
		}

		if len(inv.Args) > 2 && inv.Args[2] == "--help" {
			return []byte("usage: demucs"), nil
		}

		ext := ".wav"
		if ArgAfter(inv.Args, "--mp3-bitrate") != "" {
			ext = ".mp3"
		}

		input := inv.Args[len(inv.Args)-1]
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		dir := filepath.Join(ArgAfter(inv.Args, "-o"), ArgAfter(inv.Args, "-n"), base)

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		for _, stem := range stems {
			if err := os.WriteFile(filepath.Join(dir, stem+ext), []byte("stem "+stem), 0o644); err != nil {
				return nil, err
			}
		}

		return []byte("Separated tracks will be stored in " + dir), nil
	}
}

// Blocking waits until the command context ends.
func Blocking(ctx context.Context, _ executor.Invocation) ([]byte, error) {
	<-ctx.Done()
	return []byte("killed"), ctx.Err()
}

// Failing exits non-zero with output.
func Failing(output string) executor.FakeRun {
	return func(context.Context, executor.Invocation) ([]byte, error) {
		return []byte(output), ErrExit
	}
}

// Silent succeeds without producing stems.
func Silent(context.Context, executor.Invocation) ([]byte, error) {
	return []byte("done"), nil
}
