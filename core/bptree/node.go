package bptree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/core/pagefile"
)

// Node kind tags, the first byte of every data page.
const (
	leafTag     byte = 0
	internalTag byte = 1
)

var ErrCorruptNode = errors.New("bptree: node page inconsistent with declared layout")

// layout holds the byte offsets of the key/value/child cell arrays within a
// page, fixed once per tree by the order and the codec widths. Cells live at
// computed offsets sized for a full node, so a page never has to shift
// regions as it fills.
type layout struct {
	order      int
	keyWidth   int
	valueWidth int
	maxEntries int // per node: order - 1 keys in both leaf and internal nodes

	leafKeysOff   int
	leafValuesOff int

	intKeysOff     int
	intChildrenOff int
}

const (
	// leaf header: tag(1) count(2) next-leaf(8)
	leafHeaderSize = 11
	// internal header: tag(1) count(2)
	internalHeaderSize = 3
	childPtrSize       = 8
)

func newLayout(order, keyWidth, valueWidth int) (layout, error) {
	if order < 3 {
		return layout{}, fmt.Errorf("%w: got %d", pagefile.ErrInvalidOrder, order)
	}
	l := layout{
		order:      order,
		keyWidth:   keyWidth,
		valueWidth: valueWidth,
		maxEntries: order - 1,
	}
	l.leafKeysOff = leafHeaderSize
	l.leafValuesOff = l.leafKeysOff + l.maxEntries*keyWidth
	l.intKeysOff = internalHeaderSize
	l.intChildrenOff = l.intKeysOff + l.maxEntries*keyWidth

	if l.leafValuesOff+l.maxEntries*valueWidth > pagefile.PageSize {
		return layout{}, fmt.Errorf("%w: order %d with key width %d and value width %d does not fit a %d-byte leaf page",
			pagefile.ErrInvalidOrder, order, keyWidth, valueWidth, pagefile.PageSize)
	}
	if l.intChildrenOff+order*childPtrSize > pagefile.PageSize {
		return layout{}, fmt.Errorf("%w: order %d with key width %d does not fit a %d-byte internal page",
			pagefile.ErrInvalidOrder, order, keyWidth, pagefile.PageSize)
	}
	return l, nil
}

// node is the in-memory form of one tree page. Leaves hold parallel
// keys/values plus the next-leaf link; internal nodes hold keys and
// len(keys)+1 child page ids.
type node[K any, V any] struct {
	pageID   pagefile.PageID
	isLeaf   bool
	next     pagefile.PageID // leaves only; InvalidPageID terminates the chain
	keys     []K
	values   []V               // leaves only
	children []pagefile.PageID // internal only
}

// encode renders the node into a fresh page image.
func (n *node[K, V]) encode(l layout, keyCodec codec.Codec[K], valueCodec codec.Codec[V]) ([]byte, error) {
	buf := make([]byte, pagefile.PageSize)
	if len(n.keys) > l.maxEntries {
		return nil, fmt.Errorf("%w: %d keys exceeds capacity %d on page %d",
			ErrCorruptNode, len(n.keys), l.maxEntries, n.pageID)
	}

	if n.isLeaf {
		buf[0] = leafTag
		binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
		binary.LittleEndian.PutUint64(buf[3:11], uint64(n.next))
		for i, k := range n.keys {
			off := l.leafKeysOff + i*l.keyWidth
			if err := keyCodec.Encode(k, buf[off:off+l.keyWidth]); err != nil {
				return nil, fmt.Errorf("encoding key %d of page %d: %w", i, n.pageID, err)
			}
		}
		for i, v := range n.values {
			off := l.leafValuesOff + i*l.valueWidth
			if err := valueCodec.Encode(v, buf[off:off+l.valueWidth]); err != nil {
				return nil, fmt.Errorf("encoding value %d of page %d: %w", i, n.pageID, err)
			}
		}
		return buf, nil
	}

	buf[0] = internalTag
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.keys)))
	if len(n.children) != len(n.keys)+1 {
		return nil, fmt.Errorf("%w: internal page %d has %d keys but %d children",
			ErrCorruptNode, n.pageID, len(n.keys), len(n.children))
	}
	for i, k := range n.keys {
		off := l.intKeysOff + i*l.keyWidth
		if err := keyCodec.Encode(k, buf[off:off+l.keyWidth]); err != nil {
			return nil, fmt.Errorf("encoding separator %d of page %d: %w", i, n.pageID, err)
		}
	}
	for i, c := range n.children {
		off := l.intChildrenOff + i*childPtrSize
		binary.LittleEndian.PutUint64(buf[off:off+childPtrSize], uint64(c))
	}
	return buf, nil
}

// decodeNode reconstructs a node from a page image.
func decodeNode[K any, V any](id pagefile.PageID, buf []byte, l layout, keyCodec codec.Codec[K], valueCodec codec.Codec[V]) (*node[K, V], error) {
	if len(buf) != pagefile.PageSize {
		return nil, fmt.Errorf("%w: page %d image is %d bytes", ErrCorruptNode, id, len(buf))
	}

	tag := buf[0]
	count := int(binary.LittleEndian.Uint16(buf[1:3]))
	if count > l.maxEntries {
		return nil, fmt.Errorf("%w: page %d declares %d entries, capacity is %d",
			ErrCorruptNode, id, count, l.maxEntries)
	}

	n := &node[K, V]{pageID: id}
	switch tag {
	case leafTag:
		n.isLeaf = true
		n.next = pagefile.PageID(binary.LittleEndian.Uint64(buf[3:11]))
		n.keys = make([]K, count)
		n.values = make([]V, count)
		for i := 0; i < count; i++ {
			off := l.leafKeysOff + i*l.keyWidth
			k, err := keyCodec.Decode(buf[off : off+l.keyWidth])
			if err != nil {
				return nil, fmt.Errorf("decoding key %d of page %d: %w", i, id, err)
			}
			n.keys[i] = k
		}
		for i := 0; i < count; i++ {
			off := l.leafValuesOff + i*l.valueWidth
			v, err := valueCodec.Decode(buf[off : off+l.valueWidth])
			if err != nil {
				return nil, fmt.Errorf("decoding value %d of page %d: %w", i, id, err)
			}
			n.values[i] = v
		}
	case internalTag:
		if count == 0 {
			return nil, fmt.Errorf("%w: internal page %d has no separators", ErrCorruptNode, id)
		}
		n.keys = make([]K, count)
		n.children = make([]pagefile.PageID, count+1)
		for i := 0; i < count; i++ {
			off := l.intKeysOff + i*l.keyWidth
			k, err := keyCodec.Decode(buf[off : off+l.keyWidth])
			if err != nil {
				return nil, fmt.Errorf("decoding separator %d of page %d: %w", i, id, err)
			}
			n.keys[i] = k
		}
		for i := 0; i <= count; i++ {
			off := l.intChildrenOff + i*childPtrSize
			c := pagefile.PageID(binary.LittleEndian.Uint64(buf[off : off+childPtrSize]))
			if c == pagefile.InvalidPageID {
				return nil, fmt.Errorf("%w: internal page %d has invalid child pointer at slot %d",
					ErrCorruptNode, id, i)
			}
			n.children[i] = c
		}
	default:
		return nil, fmt.Errorf("%w: page %d has unknown kind tag 0x%02x", ErrCorruptNode, id, tag)
	}
	return n, nil
}
