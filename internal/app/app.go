// Package app wires the ktax commands to the core packages.
package app

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"

	"ktax/internal/appcore"
	"ktax/internal/cli"
	"ktax/internal/cmdutil"
)

// env is what a command needs from the process.
type env struct {
	stdout io.Writer
	stderr io.Writer
}

func (e env) logger(opt *cli.Options) *logrus.Logger {
	return cmdutil.NewLogger(e.stderr, opt.Verbose, opt.Quiet)
}

func threads(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Run executes one ktax invocation and returns its exit code.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	e := env{stdout: stdout, stderr: stderr}
	root := cli.NewRoot(cli.Actions{
		Index: func(ctx context.Context, opt *cli.Options) error {
			return runIndex(ctx, e, opt)
		},
		Classify: func(ctx context.Context, opt *cli.Options) error {
			return runClassify(ctx, e, opt)
		},
	}, stdout, stderr)

	err := cli.Execute(ctx, root, argv)
	code := appcore.ExitCode(err)
	switch code {
	case appcore.ExitOK:
	case appcore.ExitUsage:
		fmt.Fprintf(stderr, "Error: %v\nRun 'ktax --help' for usage.\n", err)
	case appcore.ExitCancelled:
		fmt.Fprintln(stderr, "interrupted")
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}
