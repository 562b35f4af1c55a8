package kvstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktax/core/index"
	"ktax/core/kmer"
	"ktax/core/taxonomy"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteReadPrefix(t *testing.T) {
	s := openMem(t)
	var batch [][2][]byte
	for i := 9; i >= 0; i-- {
		batch = append(batch, [2][]byte{[]byte(fmt.Sprintf("a/%02d", i)), []byte{byte(i)}})
	}
	batch = append(batch, [2][]byte{[]byte("b/x"), []byte("y")})
	require.NoError(t, s.WriteBatch(batch))

	v, err := s.Read([]byte("a/03"))
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, v)

	_, err = s.Read([]byte("missing"))
	assert.Error(t, err)

	var keys []string
	require.NoError(t, s.ForEachWithPrefix([]byte("a/"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	require.Len(t, keys, 10)
	assert.Equal(t, "a/00", keys[0])
	assert.Equal(t, "a/09", keys[9])

	require.NoError(t, s.DropPrefix([]byte("a/")))
	n := 0
	require.NoError(t, s.ForEachWithPrefix([]byte("a/"), func(_, _ []byte) error { n++; return nil }))
	assert.Zero(t, n)

	_, writes := s.Counters()
	assert.Equal(t, uint64(11), writes)
}

func TestIndexMirrorOnDisk(t *testing.T) {
	tx, err := taxonomy.New(map[uint32]uint32{1: 1, 2: 1, 3: 1})
	require.NoError(t, err)
	smp, err := kmer.NewSampler(kmer.Options{K: 7, Stride: 2, Seed: 9, Policy: kmer.PolicyMinimizer})
	require.NoError(t, err)
	b := index.NewBuilder(smp, tx, index.Mapping{"x": 2, "y": 3}, nil)
	_, err = b.Add(index.Genome{ID: "x", Seq: []byte("ACGTTGCAACGGTACCATGGACTTACGATCG")})
	require.NoError(t, err)
	_, err = b.Add(index.Genome{ID: "y", Seq: []byte("CCATGGACTTACGATCGATCGGGCTAGCTAG")})
	require.NoError(t, err)
	ix, err := b.Build()
	require.NoError(t, err)

	dir := t.TempDir()
	s, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, index.SaveKV(s, ix))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	back, err := index.LoadKV(s)
	require.NoError(t, err)
	assert.Equal(t, ix.Checksum(), back.Checksum())
	assert.Equal(t, ix.Collapsed(), back.Collapsed())
}

func TestOpenNeedsDir(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
