// Package appcore holds the run plumbing shared by the ktax commands: exit
// code mapping and the output destination.
package appcore

import (
	"context"
	"errors"
	"io"
	"os"

	"ktax/internal/cli"
	"ktax/internal/writers"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitRuntime   = 3
	ExitCancelled = 130
)

// ExitCode maps the outcome of a command to the process exit code. A reader
// closing our stdout early is not a failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case cli.IsUsage(err):
		return ExitUsage
	case writers.IsBrokenPipe(err):
		return ExitOK
	}
	return ExitRuntime
}

// Output is the destination of the result stream.
type Output struct {
	dst writers.Destination
	f   *os.File
}

// OpenOutput resolves path ("-" or "" is stdout). Stream formats get a
// created file; file-backed formats (sqlite) get the path and open it
// themselves.
func OpenOutput(path string, stdout io.Writer, fileBacked, header bool) (*Output, error) {
	o := &Output{dst: writers.Destination{Header: header}}
	switch {
	case path == "" || path == "-":
		o.dst.W = stdout
	case fileBacked:
		o.dst.Path = path
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		o.f = f
		o.dst.W = f
		o.dst.Path = path
	}
	return o, nil
}

func (o *Output) Destination() writers.Destination { return o.dst }

// Close closes a created file. Sinks flush their own buffers first.
func (o *Output) Close() error {
	if o.f == nil {
		return nil
	}
	return o.f.Close()
}
