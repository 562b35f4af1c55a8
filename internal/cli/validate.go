package cli

import (
	"errors"
	"fmt"

	"ktax/core/classify"
	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/internal/cliutil"
	"ktax/internal/writers"
)

// expandInputs appends positional arguments to the command's input list and
// expands globs in every entry.
func expandInputs(opt *Options, args []string) error {
	switch opt.Command {
	case CmdIndex:
		in, err := cliutil.ExpandPositionals(append(opt.Ref, args...))
		if err != nil {
			return err
		}
		opt.Ref = in
	case CmdClassify:
		in, err := cliutil.ExpandPositionals(append(opt.Reads, args...))
		if err != nil {
			return err
		}
		opt.Reads = in
	}
	return nil
}

// Validate applies the invariants of the selected command.
func Validate(opt *Options) error {
	if opt.Threads < 0 {
		return errors.New("--threads must be >= 0")
	}
	if opt.Quiet && opt.Verbose {
		return errors.New("--quiet conflicts with --verbose")
	}
	if err := validateSampling(opt); err != nil {
		return err
	}
	switch opt.Command {
	case CmdIndex:
		return validateIndex(opt)
	case CmdClassify:
		return validateClassify(opt)
	}
	return fmt.Errorf("unknown command %q", opt.Command)
}

func validateSampling(opt *Options) error {
	if opt.K < 1 || opt.K > kmer.MaxK {
		return fmt.Errorf("-k/--kmer must be in [1, %d], got %d", kmer.MaxK, opt.K)
	}
	if opt.Stride < 1 {
		return fmt.Errorf("--inv must be >= 1, got %d", opt.Stride)
	}
	if _, err := kmer.ParsePolicy(opt.Policy); err != nil {
		return fmt.Errorf("--policy: %w", err)
	}
	return nil
}

func validateIndex(opt *Options) error {
	switch {
	case opt.Index == "":
		return errors.New("-x/--index is required")
	case opt.Gids == "":
		return errors.New("--gids is required")
	case opt.Tids == "":
		return errors.New("--tids is required")
	case len(opt.Ref) == 0:
		return errors.New("at least one --ref file is required")
	}
	for _, f := range opt.Ref {
		if f == "-" {
			return errors.New("--ref cannot read stdin")
		}
	}
	if _, err := index.ParseCodec(opt.Codec); err != nil {
		return fmt.Errorf("--codec: %w", err)
	}
	return nil
}

func validateClassify(opt *Options) error {
	if opt.Index == "" && opt.KVDir == "" {
		return errors.New("-x/--index or --kv-dir is required")
	}
	if len(opt.Reads) == 0 {
		return errors.New("at least one --reads file is required")
	}
	if opt.Paired && len(opt.Reads) != 2 {
		return fmt.Errorf("--paired needs exactly two --reads files, got %d", len(opt.Reads))
	}
	if opt.Iterations < 1 {
		return fmt.Errorf("--iteration must be >= 1, got %d", opt.Iterations)
	}
	if opt.BatchSize < 1 {
		return fmt.Errorf("--batch-size must be >= 1, got %d", opt.BatchSize)
	}
	cc := classify.Config{MinHits: opt.MinHits, MinHitFraction: opt.MinHitFraction, Iterations: opt.Iterations}
	if err := cc.Validate(); err != nil {
		return err
	}
	known := false
	for _, f := range writers.Formats() {
		known = known || f == opt.Format
	}
	if !known {
		return fmt.Errorf("invalid --format %q", opt.Format)
	}
	if opt.Format == "sqlite" && (opt.Output == "" || opt.Output == "-") {
		return errors.New("--format sqlite needs a file path in -o/--output")
	}
	return nil
}
