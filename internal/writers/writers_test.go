package writers

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktax/core/classify"
	"ktax/pkg/api"
)

var sample = []classify.Result{
	{ID: "r1", Status: classify.StatusClassified, Taxon: 562, Votes: 9, Sampled: 12, Hits: 10, Passes: 1},
	{ID: "r2", Status: classify.StatusUnclassified, Sampled: 3},
	classify.Skipped("r3", "mate ids differ"),
}

func run(t *testing.T, format string, dst Destination) error {
	t.Helper()
	in, done := Start(format, dst, 1)
	for _, r := range sample {
		in <- r
	}
	close(in)
	return <-done
}

func TestTSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(t, "tsv", Destination{W: &buf, Header: true}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, TSVHeader, lines[0])
	assert.Equal(t, "C\tr1\t562\t9\t12\t10\t1\t", lines[1])
	assert.Equal(t, "U\tr2\t0\t0\t3\t0\t0\t", lines[2])
	assert.Equal(t, "S\tr3\t0\t0\t0\t0\t0\tmate ids differ", lines[3])
	for _, l := range lines {
		assert.Len(t, strings.Split(l, "\t"), 8)
	}
}

func TestJSONLStreamsValidV1(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(t, "jsonl", Destination{W: &buf}))
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	var got []api.ResultV1
	for sc.Scan() {
		var v api.ResultV1
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v), sc.Text())
		got = append(got, v)
	}
	require.Len(t, got, 3)
	assert.Equal(t, api.ResultV1{ReadID: "r1", Status: "C", TaxonID: 562, Votes: 9, Sampled: 12, Hits: 10, Passes: 1}, got[0])
	assert.Equal(t, "U", got[1].Status)
	assert.Equal(t, "mate ids differ", got[2].Reason)
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	require.NoError(t, run(t, "sqlite", Destination{Path: path}))
	// a second run replaces the file rather than appending
	require.NoError(t, run(t, "sqlite", Destination{Path: path}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&n))
	assert.Equal(t, 3, n)

	var id, status string
	var taxon, votes int
	require.NoError(t, db.QueryRow(`SELECT read_id, status, taxon_id, votes FROM results WHERE ord = 0`).
		Scan(&id, &status, &taxon, &votes))
	assert.Equal(t, "r1", id)
	assert.Equal(t, "C", status)
	assert.Equal(t, 562, taxon)
	assert.Equal(t, 9, votes)

	var reason sql.NullString
	require.NoError(t, db.QueryRow(`SELECT reason FROM results WHERE ord = 1`).Scan(&reason))
	assert.False(t, reason.Valid)
}

func TestSQLiteNeedsPath(t *testing.T) {
	err := run(t, "sqlite", Destination{W: io.Discard, Path: "-"})
	assert.ErrorContains(t, err, "file path")
}

func TestUnknownFormatError(t *testing.T) {
	err := run(t, "nope-format", Destination{W: io.Discard})
	assert.ErrorContains(t, err, "unknown output format")
}

func TestFormats(t *testing.T) {
	assert.Equal(t, []string{"jsonl", "sqlite", "tsv"}, Formats())
}

type pipeWriter struct{}

func (pipeWriter) Write([]byte) (int, error) { return 0, syscall.EPIPE }

func TestBrokenPipeIsNotAnError(t *testing.T) {
	assert.NoError(t, run(t, "tsv", Destination{W: pipeWriter{}}))
	assert.True(t, IsBrokenPipe(io.ErrClosedPipe))
	assert.False(t, IsBrokenPipe(io.EOF))
	assert.False(t, IsBrokenPipe(nil))
}
