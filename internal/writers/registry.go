// internal/writers/registry.go
package writers

import (
	"fmt"
	"io"
	"sort"

	"ktax/core/classify"
)

// Destination says where a sink writes. Stream formats use W; file-backed
// formats such as sqlite need Path.
type Destination struct {
	W      io.Writer
	Path   string
	Header bool
}

// Sink consumes results in order. Close flushes and finalizes the output.
type Sink interface {
	Write(r classify.Result) error
	Close() error
}

// Opener creates a Sink for one format.
type Opener func(dst Destination) (Sink, error)

// Writer registry (format -> opener). Register in init() blocks of the
// per-format files.
var sinks = map[string]Opener{}

// Register is idempotent last-wins.
func Register(format string, fn Opener) { sinks[format] = fn }

// Formats lists the registered format names, sorted.
func Formats() []string {
	out := make([]string, 0, len(sinks))
	for f := range sinks {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Open creates the sink registered for format.
func Open(format string, dst Destination) (Sink, error) {
	fn, ok := sinks[format]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (no writer registered)", format)
	}
	return fn(dst)
}

// Start spins up a writer goroutine for format. Send results on the
// returned channel and close it; the error channel yields exactly once.
// Broken pipes are reported as success.
func Start(format string, dst Destination, bufSize int) (chan<- classify.Result, <-chan error) {
	if bufSize <= 0 {
		bufSize = 64
	}
	in := make(chan classify.Result, bufSize)
	done := make(chan error, 1)

	go func() {
		sink, err := Open(format, dst)
		if err != nil {
			for range in {
			}
			done <- err
			return
		}
		for r := range in {
			if err == nil {
				err = sink.Write(r)
			}
		}
		if cerr := sink.Close(); err == nil {
			err = cerr
		}
		if IsBrokenPipe(err) {
			err = nil
		}
		done <- err
	}()
	return in, done
}
