package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/core/pagefile"
)

func testLayout(t *testing.T, order int) layout {
	t.Helper()
	l, err := newLayout(order, codec.Uint64.Width(), codec.Uint64.Width())
	require.NoError(t, err)
	return l
}

func TestLayoutRejectsBadGeometry(t *testing.T) {
	_, err := newLayout(2, 8, 8)
	require.ErrorIs(t, err, pagefile.ErrInvalidOrder)

	// An order that cannot fit a leaf page for these widths.
	_, err = newLayout(300, 8, 1024)
	require.ErrorIs(t, err, pagefile.ErrInvalidOrder)
}

func TestLeafNodeRoundTrip(t *testing.T) {
	l := testLayout(t, 4)
	n := &node[uint64, uint64]{
		pageID: 7,
		isLeaf: true,
		next:   9,
		keys:   []uint64{1, 2, 3},
		values: []uint64{10, 20, 30},
	}
	buf, err := n.encode(l, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	require.Len(t, buf, pagefile.PageSize)
	require.Equal(t, leafTag, buf[0])

	got, err := decodeNode(7, buf, l, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	require.True(t, got.isLeaf)
	require.Equal(t, pagefile.PageID(9), got.next)
	require.Equal(t, n.keys, got.keys)
	require.Equal(t, n.values, got.values)
	require.Empty(t, got.children)
}

func TestInternalNodeRoundTrip(t *testing.T) {
	l := testLayout(t, 4)
	n := &node[uint64, uint64]{
		pageID:   3,
		keys:     []uint64{100, 200},
		children: []pagefile.PageID{1, 2, 4},
	}
	buf, err := n.encode(l, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	require.Equal(t, internalTag, buf[0])

	got, err := decodeNode(3, buf, l, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	require.False(t, got.isLeaf)
	require.Equal(t, n.keys, got.keys)
	require.Equal(t, n.children, got.children)
}

func TestEncodeRejectsOverfullNode(t *testing.T) {
	l := testLayout(t, 4)
	n := &node[uint64, uint64]{
		isLeaf: true,
		keys:   []uint64{1, 2, 3, 4}, // capacity is order-1 == 3
		values: []uint64{1, 2, 3, 4},
	}
	_, err := n.encode(l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)
}

func TestEncodeRejectsChildCountMismatch(t *testing.T) {
	l := testLayout(t, 4)
	n := &node[uint64, uint64]{
		keys:     []uint64{100},
		children: []pagefile.PageID{1}, // must be len(keys)+1
	}
	_, err := n.encode(l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)
}

func TestDecodeRejectsCorruptPages(t *testing.T) {
	l := testLayout(t, 4)

	// Unknown kind tag.
	buf := make([]byte, pagefile.PageSize)
	buf[0] = 0x7f
	_, err := decodeNode[uint64, uint64](1, buf, l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)

	// Entry count past capacity.
	buf = make([]byte, pagefile.PageSize)
	buf[0] = leafTag
	buf[1] = 0xff
	buf[2] = 0xff
	_, err = decodeNode[uint64, uint64](1, buf, l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)

	// Internal node with zero separators.
	buf = make([]byte, pagefile.PageSize)
	buf[0] = internalTag
	_, err = decodeNode[uint64, uint64](1, buf, l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)

	// Truncated page image.
	_, err = decodeNode[uint64, uint64](1, buf[:100], l, codec.Uint64, codec.Uint64)
	require.ErrorIs(t, err, ErrCorruptNode)
}
