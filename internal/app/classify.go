package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ktax/core/classify"
	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/core/taxonomy"
	"ktax/internal/appcore"
	"ktax/internal/cli"
	"ktax/internal/cmdutil"
	"ktax/internal/dispatch"
	"ktax/internal/kvstore"
	"ktax/internal/seqio"
	"ktax/internal/writers"
	"ktax/pkg/api"
)

func runClassify(ctx context.Context, e env, opt *cli.Options) error {
	log := e.logger(opt)
	start := time.Now()

	ix, err := loadIndex(opt, log)
	if err != nil {
		return err
	}
	if err := checkSampling(opt, ix.Sampler().Options()); err != nil {
		return err
	}
	tax := ix.Taxonomy()
	if opt.Tids != "" {
		if tax, err = taxonomy.LoadFile(opt.Tids); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"file": opt.Tids, "nodes": tax.Len()}).Info("taxonomy override loaded")
	}
	eng, err := classify.New(ix, tax, classify.Config{
		MinHits:        opt.MinHits,
		MinHitFraction: opt.MinHitFraction,
		Iterations:     opt.Iterations,
	})
	if err != nil {
		return &cli.UsageError{Err: err}
	}

	src, err := seqio.OpenReads(opt.Reads, opt.Paired)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := appcore.OpenOutput(opt.Output, e.stdout, opt.Format == "sqlite", opt.Header)
	if err != nil {
		return errors.Wrap(err, "open output")
	}
	n := threads(opt.Threads)
	in, done := writers.Start(opt.Format, out.Destination(), n*4)

	bar := cmdutil.NewProgress(e.stderr, opt.Progress, "reads", 0)
	sum, runErr := dispatch.Run(ctx, dispatch.Config{
		Threads:   n,
		BatchSize: opt.BatchSize,
		OnBatch:   bar.Add,
	}, src, eng, func(r classify.Result) error {
		select {
		case in <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(in)
	werr := <-done
	bar.Done()
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}
	if runErr != nil {
		return runErr
	}
	if werr != nil {
		return errors.Wrap(werr, "write results")
	}

	logSummary(log, sum, time.Since(start))
	if opt.Summary != "" {
		if err := writeSummary(opt.Summary, sum); err != nil {
			return err
		}
	}
	return nil
}

func loadIndex(opt *cli.Options, log logrus.FieldLogger) (*index.Index, error) {
	if opt.KVDir != "" {
		store, err := kvstore.Open(kvstore.Config{Dir: opt.KVDir, Logger: log})
		if err != nil {
			return nil, err
		}
		defer store.Close()
		ix, err := index.LoadKV(store)
		if err != nil {
			return nil, errors.Wrapf(err, "load index from %s", opt.KVDir)
		}
		log.WithFields(logrus.Fields{"kv-dir": opt.KVDir, "entries": humanize.Comma(int64(ix.Len()))}).Info("index loaded")
		return ix, nil
	}
	ix, info, err := index.Load(opt.Index)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"dir":     opt.Index,
		"k":       info.K,
		"policy":  info.Policy,
		"entries": humanize.Comma(int64(info.Entries)),
		"genomes": info.Genomes,
	}).Info("index loaded")
	return ix, nil
}

// checkSampling rejects sampling flags that were given explicitly and
// disagree with the index.
func checkSampling(opt *cli.Options, got kmer.Options) error {
	var bad []string
	if opt.Explicit("kmer") && opt.K != got.K {
		bad = append(bad, fmt.Sprintf("-k %d (index: %d)", opt.K, got.K))
	}
	if opt.Explicit("inv") && opt.Stride != got.Stride {
		bad = append(bad, fmt.Sprintf("--inv %d (index: %d)", opt.Stride, got.Stride))
	}
	if opt.Explicit("seed") && uint64(opt.Seed) != got.Seed {
		bad = append(bad, fmt.Sprintf("--seed %d (index: %d)", opt.Seed, got.Seed))
	}
	if opt.Explicit("policy") {
		if p, err := kmer.ParsePolicy(opt.Policy); err != nil || p != got.Policy {
			bad = append(bad, fmt.Sprintf("--policy %s (index: %s)", opt.Policy, got.Policy))
		}
	}
	if len(bad) > 0 {
		return &cli.UsageError{Err: fmt.Errorf("sampling parameters differ from the index: %s", strings.Join(bad, ", "))}
	}
	return nil
}

func logSummary(log logrus.FieldLogger, sum *dispatch.Summary, elapsed time.Duration) {
	log.WithFields(logrus.Fields{
		"reads":        humanize.Comma(int64(sum.Total)),
		"classified":   humanize.Comma(int64(sum.Classified)),
		"unclassified": humanize.Comma(int64(sum.Unclassified)),
		"skipped":      humanize.Comma(int64(sum.Skipped)),
		"invalid":      humanize.Comma(int64(sum.InvalidWindows)),
		"digest":       fmt.Sprintf("%016x", sum.Digest()),
		"elapsed":      elapsed.Round(time.Millisecond),
	}).Info("classification done")
	for _, r := range sum.Reasons() {
		log.WithFields(logrus.Fields{"reason": r, "records": sum.SkipReasons[r]}).Warn("skipped records")
	}
	if sum.Skipped > 0 {
		first, _ := sum.SkippedAt.Select(0)
		log.WithField("first", first).Debug("position of the first skipped record")
	}
}

// SummaryV1 converts a run summary to its stable wire form.
func SummaryV1(sum *dispatch.Summary) api.SummaryV1 {
	return api.SummaryV1{
		Total:          sum.Total,
		Classified:     sum.Classified,
		Unclassified:   sum.Unclassified,
		Skipped:        sum.Skipped,
		InvalidWindows: sum.InvalidWindows,
		SkipReasons:    sum.SkipReasons,
		Digest:         fmt.Sprintf("%016x", sum.Digest()),
	}
}

func writeSummary(path string, sum *dispatch.Summary) error {
	b, err := json.MarshalIndent(SummaryV1(sum), "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, append(b, '\n'), 0o644), "write summary")
}
