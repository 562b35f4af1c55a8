// Package taxonomy holds a validated, read-only taxonomy tree and answers
// lowest-common-ancestor queries over it.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmpty         = errors.New("taxonomy: no nodes")
	ErrRoot          = errors.New("taxonomy: expected exactly one root")
	ErrMissingParent = errors.New("taxonomy: parent not present")
	ErrCycle         = errors.New("taxonomy: cycle detected")
	ErrReserved      = errors.New("taxonomy: taxon id 0 is reserved")
	ErrIDRange       = errors.New("taxonomy: taxon id exceeds MaxID")
)

// MaxID is the largest taxon id accepted; the top bit is kept free for
// index entry flags.
const MaxID = 1<<31 - 1

// Taxonomy is immutable after New and safe for concurrent readers.
type Taxonomy struct {
	root     uint32
	parent   map[uint32]uint32
	depth    map[uint32]int32
	children map[uint32][]uint32
}

// New builds a taxonomy from child -> parent edges. The root is the single
// node whose parent is itself or 0. Missing parents and cycles are errors.
func New(parents map[uint32]uint32) (*Taxonomy, error) {
	if len(parents) == 0 {
		return nil, ErrEmpty
	}
	t := &Taxonomy{
		parent:   make(map[uint32]uint32, len(parents)),
		depth:    make(map[uint32]int32, len(parents)),
		children: make(map[uint32][]uint32),
	}
	roots := 0
	for c, p := range parents {
		if c == 0 {
			return nil, ErrReserved
		}
		if c > MaxID || p > MaxID {
			return nil, fmt.Errorf("%w: %d -> %d", ErrIDRange, c, p)
		}
		if p == 0 || p == c {
			roots++
			t.root = c
			t.parent[c] = c
			continue
		}
		if _, ok := parents[p]; !ok {
			return nil, fmt.Errorf("%w: %d (child %d)", ErrMissingParent, p, c)
		}
		t.parent[c] = p
	}
	if roots != 1 {
		return nil, fmt.Errorf("%w: found %d", ErrRoot, roots)
	}

	t.depth[t.root] = 0
	var path []uint32
	for c := range t.parent {
		if _, ok := t.depth[c]; ok {
			continue
		}
		path = path[:0]
		onPath := make(map[uint32]struct{})
		n := c
		for {
			if _, ok := t.depth[n]; ok {
				break
			}
			if _, ok := onPath[n]; ok {
				return nil, fmt.Errorf("%w: through %d", ErrCycle, n)
			}
			onPath[n] = struct{}{}
			path = append(path, n)
			n = t.parent[n]
		}
		d := t.depth[n]
		for i := len(path) - 1; i >= 0; i-- {
			d++
			t.depth[path[i]] = d
		}
	}

	for c, p := range t.parent {
		if c != p {
			t.children[p] = append(t.children[p], c)
		}
	}
	for _, ch := range t.children {
		sort.Slice(ch, func(i, j int) bool { return ch[i] < ch[j] })
	}
	return t, nil
}

func (t *Taxonomy) Root() uint32 { return t.root }
func (t *Taxonomy) Len() int     { return len(t.parent) }

func (t *Taxonomy) Has(id uint32) bool {
	_, ok := t.parent[id]
	return ok
}

// Parent returns the parent of id; the root is its own parent.
func (t *Taxonomy) Parent(id uint32) (uint32, bool) {
	p, ok := t.parent[id]
	return p, ok
}

// Depth is the number of edges from the root, or -1 for unknown ids.
func (t *Taxonomy) Depth(id uint32) int {
	d, ok := t.depth[id]
	if !ok {
		return -1
	}
	return int(d)
}

// Children returns the sorted child ids of id. The slice must not be modified.
func (t *Taxonomy) Children(id uint32) []uint32 { return t.children[id] }

// LCA returns the lowest common ancestor of a and b. 0 is the identity
// (LCA(0, x) == x), and an unknown id resolves to the root.
func (t *Taxonomy) LCA(a, b uint32) uint32 {
	switch {
	case a == 0:
		return b
	case b == 0 || a == b:
		return a
	}
	da, okA := t.depth[a]
	db, okB := t.depth[b]
	if !okA || !okB {
		return t.root
	}
	for da > db {
		a = t.parent[a]
		da--
	}
	for db > da {
		b = t.parent[b]
		db--
	}
	for a != b {
		a = t.parent[a]
		b = t.parent[b]
	}
	return a
}

// LCAOf folds LCA over ids; it returns 0 for an empty list.
func (t *Taxonomy) LCAOf(ids ...uint32) uint32 {
	var acc uint32
	for _, id := range ids {
		acc = t.LCA(acc, id)
	}
	return acc
}

// IsAncestor reports whether anc is desc or one of its ancestors.
func (t *Taxonomy) IsAncestor(anc, desc uint32) bool {
	da, okA := t.depth[anc]
	dd, okD := t.depth[desc]
	if !okA || !okD || dd < da {
		return false
	}
	for dd > da {
		desc = t.parent[desc]
		dd--
	}
	return desc == anc
}

// ChildToward returns the child of anc on the path down to desc, or false
// when desc is not a strict descendant of anc.
func (t *Taxonomy) ChildToward(anc, desc uint32) (uint32, bool) {
	da, okA := t.depth[anc]
	dd, okD := t.depth[desc]
	if !okA || !okD || dd <= da {
		return 0, false
	}
	for dd > da+1 {
		desc = t.parent[desc]
		dd--
	}
	if t.parent[desc] != anc {
		return 0, false
	}
	return desc, true
}

// Edges returns every child -> parent edge sorted by child, the root
// mapping to itself. New(EdgeMap(t.Edges())) reproduces t.
func (t *Taxonomy) Edges() [][2]uint32 {
	out := make([][2]uint32, 0, len(t.parent))
	for c, p := range t.parent {
		out = append(out, [2]uint32{c, p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// EdgeMap turns an edge list into the map New expects.
func EdgeMap(edges [][2]uint32) map[uint32]uint32 {
	m := make(map[uint32]uint32, len(edges))
	for _, e := range edges {
		m[e[0]] = e[1]
	}
	return m
}
