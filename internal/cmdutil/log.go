// Package cmdutil holds process plumbing shared by the commands: the logger,
// progress bars and resource reports.
package cmdutil

import (
	"io"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/mem"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a text logger on w. quiet keeps errors only; verbose
// adds debug detail.
func NewLogger(w io.Writer, verbose, quiet bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  "15:04:05",
		QuoteEmptyFields: true,
	})
	switch {
	case quiet:
		log.SetLevel(logrus.ErrorLevel)
	case verbose:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Warnf logs a warning unless quiet is set.
func Warnf(log logrus.FieldLogger, quiet bool, format string, a ...any) {
	if quiet {
		return
	}
	log.Warnf(format, a...)
}

// LogMemory reports the Go heap and, when available, system memory.
func LogMemory(log logrus.FieldLogger, stage string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fields := logrus.Fields{
		"stage":     stage,
		"heap":      humanize.IBytes(ms.HeapAlloc),
		"sys":       humanize.IBytes(ms.Sys),
		"gc_cycles": ms.NumGC,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["host_used"] = humanize.IBytes(vm.Used)
		fields["host_total"] = humanize.IBytes(vm.Total)
	}
	log.WithFields(fields).Info("memory")
}
