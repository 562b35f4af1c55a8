package appshell

import (
	"context"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunMainDefaultsToHelp(t *testing.T) {
	var got []string
	code := runMain(func(_ context.Context, argv []string, _, _ io.Writer) int {
		got = argv
		return 0
	}, nil, io.Discard, io.Discard)
	assert.Zero(t, code)
	assert.Equal(t, []string{"--help"}, got)
}

func TestRunMainInterrupted(t *testing.T) {
	code := runMain(func(ctx context.Context, _ []string, _, _ io.Writer) int {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Error("context not cancelled")
		}
		return 0
	}, []string{"classify"}, io.Discard, io.Discard)
	assert.Equal(t, 130, code)
}
