package bptree

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/core/pagefile"
)

func openTestTree(t *testing.T, path string, order int) *Tree[uint64, uint64] {
	t.Helper()
	tree, err := Open(path,
		codec.Uint64, codec.Ordered[uint64], codec.Uint64,
		Options{Order: order, Logger: zap.NewNop()})
	require.NoError(t, err)
	return tree
}

func newTestTree(t *testing.T, order int) (*Tree[uint64, uint64], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	tree := openTestTree(t, path, order)
	t.Cleanup(func() { tree.Close() })
	return tree, path
}

func TestSetGetRoundTrip(t *testing.T) {
	tree, _ := newTestTree(t, 4)

	require.NoError(t, tree.Set(42, 1000))
	v, found, err := tree.Get(42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1000), v)
}

func TestGetAbsentKey(t *testing.T) {
	tree, _ := newTestTree(t, 4)

	// Absence is a normal outcome on an empty tree and a populated one.
	_, found, err := tree.Get(7)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tree.Set(1, 1))
	_, found, err = tree.Get(7)
	require.NoError(t, err)
	require.False(t, found)
}

func TestOverwriteKeepsCount(t *testing.T) {
	tree, _ := newTestTree(t, 4)

	require.NoError(t, tree.Set(5, 50))
	require.NoError(t, tree.Set(5, 51))

	v, found, err := tree.Get(5)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(51), v)

	n, err := tree.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

// TestFirstRootSplit pins down the concrete split scenario: with order 4
// the 4th insertion splits the root leaf into {1,2} and {3,4} under a new
// internal root with one separator.
func TestFirstRootSplit(t *testing.T) {
	tree, _ := newTestTree(t, 4)

	for k := uint64(1); k <= 3; k++ {
		require.NoError(t, tree.Set(k, k*10))
	}
	depth, err := tree.Depth()
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	require.NoError(t, tree.Set(4, 40))

	depth, err = tree.Depth()
	require.NoError(t, err)
	require.Equal(t, 2, depth)

	root, err := tree.readNode(tree.root)
	require.NoError(t, err)
	require.False(t, root.isLeaf)
	require.Equal(t, []uint64{3}, root.keys)
	require.Len(t, root.children, 2)

	left, err := tree.readNode(root.children[0])
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, left.keys)

	right, err := tree.readNode(root.children[1])
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 4}, right.keys)
	require.Equal(t, right.pageID, left.next)

	for k := uint64(1); k <= 4; k++ {
		v, found, err := tree.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k*10, v)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	const n = 500
	path := filepath.Join(t.TempDir(), "tree.db")

	tree := openTestTree(t, path, 5)
	keys := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range keys {
		require.NoError(t, tree.Set(uint64(k), uint64(k)*3))
	}
	require.NoError(t, tree.Close())

	// Fresh instance, no residual in-memory state.
	reopened := openTestTree(t, path, 0)
	defer reopened.Close()

	for k := uint64(0); k < n; k++ {
		v, found, err := reopened.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %d lost across reopen", k)
		require.Equal(t, k*3, v)
	}
	count, err := reopened.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(n), count)
}

func TestSchemaGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	tree := openTestTree(t, path, 4)
	require.NoError(t, tree.Set(1, 1))
	require.NoError(t, tree.Close())

	// Reopening with a narrower key codec must refuse before any mutation.
	_, err := Open(path,
		codec.Uint32, codec.Ordered[uint32], codec.Uint64,
		Options{})
	require.ErrorIs(t, err, pagefile.ErrSchemaMismatch)

	reopened := openTestTree(t, path, 0)
	defer reopened.Close()
	v, found, err := reopened.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), v)
}

func TestOpenRequiresOrderOnCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	_, err := Open(path, codec.Uint64, codec.Ordered[uint64], codec.Uint64, Options{})
	require.ErrorIs(t, err, ErrMissingOrder)
}

func TestOpenRejectsOrderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	tree := openTestTree(t, path, 4)
	require.NoError(t, tree.Close())

	_, err := Open(path, codec.Uint64, codec.Ordered[uint64], codec.Uint64,
		Options{Order: 8})
	require.ErrorIs(t, err, ErrOrderMismatch)
}

func TestOperationsAfterClose(t *testing.T) {
	tree, _ := newTestTree(t, 4)
	require.NoError(t, tree.Close())
	require.NoError(t, tree.Close()) // idempotent

	require.ErrorIs(t, tree.Set(1, 1), ErrClosed)
	_, _, err := tree.Get(1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = tree.Count()
	require.ErrorIs(t, err, ErrClosed)
}

func TestStringKeysAndValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "str.db")
	tree, err := Open(path,
		codec.FixedString(50), codec.Ordered[string], codec.FixedString(50),
		Options{Order: 4})
	require.NoError(t, err)
	defer tree.Close()

	require.NoError(t, tree.Set("jin yong", "fei xue lian tian she bai lu"))
	require.NoError(t, tree.Set("gu long", "xiao li fei dao"))

	v, found, err := tree.Get("jin yong")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "fei xue lian tian she bai lu", v)
}

func TestFloatValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.db")
	tree, err := Open(path,
		codec.Uint64, codec.Ordered[uint64], codec.Float64,
		Options{Order: 16})
	require.NoError(t, err)
	defer tree.Close()

	for k := uint64(0); k < 200; k++ {
		require.NoError(t, tree.Set(k, float64(k)/7.0))
	}
	for k := uint64(0); k < 200; k++ {
		v, found, err := tree.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, float64(k)/7.0, v)
	}
}

// checkSubtree recursively verifies the structural invariants below node id:
// strictly ascending keys within every node, separator bounds respected by
// every child, and all leaves at the same depth. Returns the subtree's leaf
// depth.
func checkSubtree(t *testing.T, tree *Tree[uint64, uint64], id pagefile.PageID, lower, upper *uint64) int {
	t.Helper()
	n, err := tree.readNode(id)
	require.NoError(t, err)

	for i := 1; i < len(n.keys); i++ {
		require.Less(t, n.keys[i-1], n.keys[i], "keys out of order on page %d", id)
	}
	for _, k := range n.keys {
		if lower != nil {
			require.GreaterOrEqual(t, k, *lower, "key below separator bound on page %d", id)
		}
		if upper != nil {
			require.Less(t, k, *upper, "key above separator bound on page %d", id)
		}
	}

	if n.isLeaf {
		return 1
	}

	depth := 0
	for i, child := range n.children {
		childLower, childUpper := lower, upper
		if i > 0 {
			childLower = &n.keys[i-1]
		}
		if i < len(n.keys) {
			childUpper = &n.keys[i]
		}
		d := checkSubtree(t, tree, child, childLower, childUpper)
		if depth == 0 {
			depth = d
		}
		require.Equal(t, depth, d, "unbalanced subtree under page %d", id)
	}
	return depth + 1
}

func TestInvariantsUnderRandomLoad(t *testing.T) {
	const n = 2000
	tree, _ := newTestTree(t, 4)

	rng := rand.New(rand.NewSource(7))
	for _, k := range rng.Perm(n) {
		require.NoError(t, tree.Set(uint64(k), uint64(k)+1))
	}

	checkSubtree(t, tree, tree.root, nil, nil)

	// The leaf chain yields every key exactly once, globally sorted.
	leaf, err := tree.leftmostLeaf()
	require.NoError(t, err)
	var prev *uint64
	total := 0
	for {
		for i := range leaf.keys {
			if prev != nil {
				require.Less(t, *prev, leaf.keys[i])
			}
			k := leaf.keys[i]
			prev = &k
			total++
		}
		if leaf.next == pagefile.InvalidPageID {
			break
		}
		leaf, err = tree.readNode(leaf.next)
		require.NoError(t, err)
	}
	require.Equal(t, n, total)

	for k := uint64(0); k < n; k++ {
		v, found, err := tree.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k+1, v)
	}
}
