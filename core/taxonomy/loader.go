// core/taxonomy/loader.go
package taxonomy

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shenwei356/bio/taxdump"
)

// LoadFile reads a taxonomy from path. NCBI nodes.dmp files (fields joined
// by "\t|\t") go through taxdump; anything else is read as
// "taxid<TAB>parent" lines with '#' comments. Any malformed line is fatal.
func LoadFile(path string) (*Taxonomy, error) {
	ncbi, err := looksLikeNCBI(path)
	if err != nil {
		return nil, err
	}
	if ncbi {
		return LoadNCBI(path)
	}
	return LoadTSV(path)
}

// LoadNCBI reads an NCBI nodes.dmp file.
func LoadNCBI(path string) (*Taxonomy, error) {
	tx, err := taxdump.NewTaxonomyFromNCBI(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return New(tx.Nodes)
}

// LoadTSV reads two-column child/parent lines.
func LoadTSV(path string) (*Taxonomy, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	parents := make(map[uint32]uint32)
	sc := bufio.NewScanner(fh)
	ln := 0
	for sc.Scan() {
		ln++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			return nil, fmt.Errorf("%s:%d bad field count", path, ln)
		}
		c, err := strconv.ParseUint(f[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d bad taxid: %v", path, ln, err)
		}
		p, err := strconv.ParseUint(f[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d bad parent: %v", path, ln, err)
		}
		if prev, dup := parents[uint32(c)]; dup && prev != uint32(p) {
			return nil, fmt.Errorf("%s:%d taxid %d has two parents (%d, %d)", path, ln, c, prev, p)
		}
		parents[uint32(c)] = uint32(p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return New(parents)
}

func looksLikeNCBI(path string) (bool, error) {
	fh, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = fh.Close() }()
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return strings.Contains(line, "\t|\t"), nil
	}
	return false, sc.Err()
}
