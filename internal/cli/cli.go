// Package cli defines the ktax command tree. It parses flags and the optional
// YAML config into Options and hands them to the caller's actions; it never
// touches index or read files itself.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ktax/internal/config"
	"ktax/internal/version"
	"ktax/internal/writers"
)

const (
	CmdIndex    = "index"
	CmdClassify = "classify"
)

// Options is the resolved configuration of one invocation.
type Options struct {
	config.Config
	Command    string
	ConfigFile string
	// Set holds the keys given explicitly on the command line or in the
	// config file.
	Set map[string]bool
}

// Explicit reports whether key was given by the user rather than defaulted.
func (o *Options) Explicit(key string) bool { return o.Set[key] }

// Actions are invoked once flags are parsed and validated.
type Actions struct {
	Index    func(ctx context.Context, opt *Options) error
	Classify func(ctx context.Context, opt *Options) error
}

// UsageError marks a bad command line or config file.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// IsUsage reports whether err stems from flag parsing or validation.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

type actionError struct{ err error }

func (e *actionError) Error() string { return e.err.Error() }

// Execute runs root with argv. Errors returned by an action come back
// unchanged; every other failure is a *UsageError.
func Execute(ctx context.Context, root *cobra.Command, argv []string) error {
	root.SetArgs(argv)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var ae *actionError
	if errors.As(err, &ae) {
		return ae.err
	}
	if IsUsage(err) {
		return err
	}
	return &UsageError{Err: err}
}

// NewRoot builds the command tree writing help to stdout and errors to stderr.
func NewRoot(act Actions, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "ktax",
		Short: "k-mer taxonomic classification of sequencing reads",
		Long: `ktax: k-mer taxonomic classification of sequencing reads

Reference genomes are reduced to sampled canonical k-mers, each labelled with
the lowest common ancestor of every taxon it occurs in. Reads are classified
by voting over the k-mers they share with the index.

Version: ` + version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetGlobalNormalizationFunc(normalize)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	def := config.Default()
	opt := &Options{Config: def}
	pf := root.PersistentFlags()
	pf.StringVar(&opt.ConfigFile, "config", "", "YAML config file; flags given on the command line win")
	pf.IntVarP(&opt.Threads, "threads", "t", def.Threads, "worker threads (0 = all CPUs)")
	pf.BoolVar(&opt.Progress, "progress", def.Progress, "show a progress bar on stderr")
	pf.BoolVarP(&opt.Quiet, "quiet", "q", def.Quiet, "only log errors")
	pf.BoolVarP(&opt.Verbose, "verbose", "v", def.Verbose, "log debug detail")

	root.AddCommand(
		newIndexCmd(opt, act.Index),
		newClassifyCmd(opt, act.Classify),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "ktax %s\n", version.Version)
			},
		},
	)
	return root
}

// normalize accepts --stride as the long form of --inv.
func normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if name == "stride" {
		name = "inv"
	}
	return pflag.NormalizedName(name)
}

func samplingFlags(fs *pflag.FlagSet, opt *Options, def config.Config) {
	fs.IntVarP(&opt.K, "kmer", "k", def.K, "k-mer size (1..255; <= 32 uses packed integers)")
	fs.IntVar(&opt.Stride, "inv", def.Stride, "sampling stride (alias --stride)")
	fs.Uint32Var(&opt.Seed, "seed", def.Seed, "sampling seed")
	fs.StringVar(&opt.Policy, "policy", def.Policy, "sampling policy: modulo | minimizer | position")
}

func newIndexCmd(opt *Options, run func(context.Context, *Options) error) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "index --gids MAP --tids NODES --ref FILE... -x DIR",
		Short: "Build a k-mer index from reference genomes",
		Long: `Build a k-mer index from reference genomes

Every record of the reference files is a genome; its id is looked up in the
--gids mapping (genome_id<TAB>taxon_id). Genomes without a mapping, or
mapped to a taxon missing from --tids, are skipped with a warning.
Positional arguments are extra reference files (globs are expanded).
`,
	}
	fs := cmd.Flags()
	samplingFlags(fs, opt, def)
	fs.StringVarP(&opt.Index, "index", "x", def.Index, "index directory to write")
	fs.StringVar(&opt.Gids, "gids", def.Gids, "genome to taxon mapping file")
	fs.StringVar(&opt.Tids, "tids", def.Tids, "taxonomy: NCBI nodes.dmp or taxid<TAB>parent")
	fs.StringSliceVar(&opt.Ref, "ref", def.Ref, "reference FASTA/FASTQ file(s), repeatable")
	fs.StringVar(&opt.Codec, "codec", def.Codec, "table compression: zstd | xz | none")
	fs.StringVar(&opt.KVDir, "kv-dir", def.KVDir, "also mirror the index into a badger store here")
	wire(cmd, opt, CmdIndex, run)
	return cmd
}

func newClassifyCmd(opt *Options, run func(context.Context, *Options) error) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "classify -x DIR --reads FILE...",
		Short: "Classify reads against an index",
		Long: `Classify reads against an index

Output columns (tsv):

    1. status,    C (classified) | U (unclassified) | S (skipped)
    2. read_id,   read or pair id
    3. taxon_id,  assigned taxon, 0 when not classified
    4. votes,     hits supporting the taxon
    5. sampled,   valid sampled k-mers of the read or pair
    6. hits,      sampled k-mers found in the index
    7. passes,    refinement passes performed
    8. reason,    why a record was skipped

The sampling parameters come from the index; -k/--inv/--seed/--policy are
only checked against it. With --paired, --reads takes exactly two mate
files (R1 then R2).
Positional arguments are extra read files (globs are expanded).
`,
	}
	fs := cmd.Flags()
	samplingFlags(fs, opt, def)
	fs.StringVarP(&opt.Index, "index", "x", def.Index, "index directory")
	fs.StringVar(&opt.KVDir, "kv-dir", def.KVDir, "load the index from a badger mirror instead of -x")
	fs.StringVar(&opt.Tids, "tids", def.Tids, "override the taxonomy stored in the index")
	fs.StringSliceVar(&opt.Reads, "reads", def.Reads, "read FASTA/FASTQ file(s), repeatable")
	fs.BoolVar(&opt.Paired, "paired", def.Paired, "reads are paired: --reads names the R1 and R2 files")
	fs.IntVar(&opt.Iterations, "iteration", def.Iterations, "maximum refinement passes (>= 1)")
	fs.IntVar(&opt.MinHits, "min-hits", def.MinHits, "minimum votes to classify")
	fs.Float64Var(&opt.MinHitFraction, "min-hit-fraction", def.MinHitFraction, "minimum votes as a fraction of sampled k-mers")
	fs.IntVar(&opt.BatchSize, "batch-size", def.BatchSize, "reads per dispatch batch")
	fs.StringVarP(&opt.Output, "output", "o", def.Output, `output file ("-" for stdout)`)
	fs.StringVar(&opt.Format, "format", def.Format, "output format: "+strings.Join(writers.Formats(), " | "))
	fs.BoolVar(&opt.Header, "header", def.Header, "write a header line (tsv)")
	fs.StringVar(&opt.Summary, "summary", def.Summary, "write the run summary as JSON to this file")
	wire(cmd, opt, CmdClassify, run)
	return cmd
}

// wire installs the shared pre-run (config overlay, globs, validation) and
// the action on cmd.
func wire(cmd *cobra.Command, opt *Options, name string, run func(context.Context, *Options) error) {
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		opt.Command = name
		opt.Set = map[string]bool{}
		flags := cmd.Flags()
		flags.Visit(func(f *pflag.Flag) { opt.Set[f.Name] = true })

		if opt.ConfigFile != "" {
			file, err := config.Load(opt.ConfigFile)
			if err != nil {
				return &UsageError{Err: err}
			}
			// only keys this command knows about are taken from the file
			config.Overlay(&opt.Config, file.Config, func(key string) bool {
				return flags.Lookup(key) == nil || flags.Changed(key)
			})
			for key, given := range file.Given {
				if given && flags.Lookup(key) != nil {
					opt.Set[key] = true
				}
			}
		}
		if err := expandInputs(opt, args); err != nil {
			return &UsageError{Err: err}
		}
		if err := Validate(opt); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if run == nil {
			return &actionError{err: fmt.Errorf("%s: not available", name)}
		}
		if err := run(cmd.Context(), opt); err != nil {
			return &actionError{err: err}
		}
		return nil
	}
}
