// internal/seqio/mapping.go
package seqio

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"ktax/core/index"
)

// MappingStats counts lines of a mapping file that were not taken as-is.
type MappingStats struct {
	Lines      int
	Malformed  int
	Duplicates int
}

// LoadMapping reads "genome_id<TAB>taxon_id" lines. Blank lines and '#'
// comments are ignored. Malformed lines are skipped with a warning; a
// repeated genome id keeps the last taxon and warns. Only I/O errors fail.
func LoadMapping(path string, log logrus.FieldLogger) (index.Mapping, MappingStats, error) {
	var st MappingStats
	fh, err := os.Open(path)
	if err != nil {
		return nil, st, errors.Wrap(err, "open mapping")
	}
	defer func() { _ = fh.Close() }()

	m := make(index.Mapping)
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		st.Lines++
		f := strings.Fields(line)
		if len(f) < 2 {
			st.Malformed++
			log.Warnf("%s:%d: expected genome id and taxon id; skipping", path, ln)
			continue
		}
		tid, err := strconv.ParseUint(f[1], 10, 32)
		if err != nil || tid == 0 {
			st.Malformed++
			log.Warnf("%s:%d: bad taxon id %q; skipping", path, ln, f[1])
			continue
		}
		if prev, dup := m[f[0]]; dup && prev != uint32(tid) {
			st.Duplicates++
			log.Warnf("%s:%d: genome %s remapped from taxon %d to %d", path, ln, f[0], prev, tid)
		}
		m[f[0]] = uint32(tid)
	}
	if err := sc.Err(); err != nil {
		return nil, st, errors.Wrapf(err, "read %s", path)
	}
	return m, st, nil
}
