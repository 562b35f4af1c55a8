package app

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/core/taxonomy"
	"ktax/internal/cli"
	"ktax/internal/cmdutil"
	"ktax/internal/kvstore"
	"ktax/internal/seqio"
)

func runIndex(ctx context.Context, e env, opt *cli.Options) error {
	log := e.logger(opt)
	start := time.Now()

	tax, err := taxonomy.LoadFile(opt.Tids)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"file": opt.Tids, "nodes": tax.Len()}).Info("taxonomy loaded")

	mapping, mst, err := seqio.LoadMapping(opt.Gids, log)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"file":       opt.Gids,
		"genomes":    len(mapping),
		"malformed":  mst.Malformed,
		"duplicates": mst.Duplicates,
	}).Info("genome mapping loaded")

	policy, err := kmer.ParsePolicy(opt.Policy)
	if err != nil {
		return err
	}
	smp, err := kmer.NewSampler(kmer.Options{K: opt.K, Stride: opt.Stride, Seed: uint64(opt.Seed), Policy: policy})
	if err != nil {
		return err
	}
	codec, err := index.ParseCodec(opt.Codec)
	if err != nil {
		return err
	}

	b := index.NewBuilder(smp, tax, mapping, log)
	bar := cmdutil.NewProgress(e.stderr, opt.Progress, "reference files", int64(len(opt.Ref)))
	seen := make(map[string]bool, len(mapping))
	current := ""
	err = seqio.ForEachGenome(opt.Ref, func(file string, g index.Genome) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if file != current {
			if current != "" {
				bar.Add(1)
			}
			current = file
		}
		seen[g.ID] = true
		_, err := b.Add(g)
		return err
	})
	if current != "" {
		bar.Add(1)
	}
	bar.Done()
	if err != nil {
		return err
	}
	warnMissing(log, opt.Quiet, mapping, seen)

	ix, err := b.Build()
	if err != nil {
		return err
	}
	stats := b.Stats()
	info, err := index.Save(opt.Index, ix, index.SaveOptions{Codec: codec, Stats: &stats})
	if err != nil {
		return err
	}
	if opt.KVDir != "" {
		if err := mirror(opt.KVDir, ix, log); err != nil {
			return err
		}
	}

	log.WithFields(logrus.Fields{
		"dir":       opt.Index,
		"genomes":   stats.Genomes,
		"skipped":   len(stats.Skipped),
		"sampled":   humanize.Comma(stats.SampledKmers),
		"invalid":   humanize.Comma(stats.InvalidWindows),
		"entries":   humanize.Comma(int64(info.Entries)),
		"collapsed": humanize.Comma(int64(info.Collapsed)),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("index written")
	cmdutil.LogMemory(log, "index")
	return nil
}

// warnMissing reports mapped genomes that no reference record provided.
func warnMissing(log logrus.FieldLogger, quiet bool, mapping index.Mapping, seen map[string]bool) {
	var missing []string
	for id := range mapping {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)
	cmdutil.Warnf(log, quiet, "%d mapped genome(s) not found in the reference files", len(missing))
	for _, id := range missing {
		log.WithField("genome", id).Debug("mapped genome has no sequence")
	}
}

// mirror replaces the content of the badger store at dir with ix.
func mirror(dir string, ix *index.Index, log logrus.FieldLogger) error {
	store, err := kvstore.Open(kvstore.Config{Dir: dir, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()
	for _, p := range index.KVPrefixes() {
		if err := store.DropPrefix(p); err != nil {
			return errors.Wrapf(err, "clear %s", dir)
		}
	}
	if err := index.SaveKV(store, ix); err != nil {
		return errors.Wrapf(err, "mirror index into %s", dir)
	}
	_, writes := store.Counters()
	log.WithFields(logrus.Fields{"dir": dir, "keys": humanize.Comma(int64(writes))}).Info("kv mirror written")
	return nil
}
