// Package bptree implements a disk-backed B+Tree over a page file: point
// lookup and upsert for arbitrary fixed-width key and value types, surviving
// process restarts. Keys live in sorted order in the leaves; internal nodes
// hold separator keys and child page ids only. Balance is maintained
// incrementally by node splits during insertion, so every leaf is always at
// the same depth.
//
// A Tree is single-threaded: callers must serialize Set/Get against one
// instance. Every operation round-trips to the backing file, there is no
// page cache, and no multi-page crash atomicity is guaranteed.
package bptree

import (
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ordkv/ordkv/core/codec"
	"github.com/ordkv/ordkv/core/pagefile"
)

var (
	ErrClosed        = errors.New("bptree: tree is closed")
	ErrNilCodec      = errors.New("bptree: key and value codecs must be provided")
	ErrNilKeyOrder   = errors.New("bptree: key order function must be provided")
	ErrMissingOrder  = errors.New("bptree: order is required when creating a new tree")
	ErrOrderMismatch = errors.New("bptree: requested order differs from the order stored in the file")
)

// Options configures Open.
type Options struct {
	// Order is the maximum number of children per internal node, equivalently
	// max entries + 1 per leaf. Required when creating a new file (minimum 3);
	// when opening an existing file it may be left zero, or set to assert the
	// stored order.
	Order int

	// Logger receives debug-level page and split events. Defaults to a nop.
	Logger *zap.Logger

	// Meter backs the engine's operation counters. Defaults to a noop meter.
	Meter metric.Meter
}

// Tree is a B+Tree bound to one page file and one codec pair. It owns the
// underlying file handle; Close releases it.
type Tree[K any, V any] struct {
	pf         *pagefile.File
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]
	keyOrder   codec.Order[K]
	lay        layout
	root       pagefile.PageID
	log        *zap.Logger
	metrics    *treeMetrics
}

// Open creates or opens the tree at path, binding the given codec pair.
// Creating writes a superblock plus an empty root leaf; opening validates
// magic, version, and that the stored key/value widths match the codecs.
func Open[K any, V any](path string, keyCodec codec.Codec[K], keyOrder codec.Order[K], valueCodec codec.Codec[V], opts Options) (*Tree[K, V], error) {
	if keyCodec == nil || valueCodec == nil {
		return nil, ErrNilCodec
	}
	if keyOrder == nil {
		return nil, ErrNilKeyOrder
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	keyWidth := keyCodec.Width()
	valueWidth := valueCodec.Width()

	// Validate the requested geometry before touching the filesystem, so a
	// bad order never leaves a half-created file behind.
	if opts.Order != 0 {
		if _, err := newLayout(opts.Order, keyWidth, valueWidth); err != nil {
			return nil, err
		}
	}

	pf, created, err := pagefile.OpenOrCreate(path, keyWidth, valueWidth, opts.Order, log)
	if err != nil {
		if opts.Order == 0 && errors.Is(err, pagefile.ErrInvalidOrder) {
			return nil, ErrMissingOrder
		}
		return nil, err
	}

	sb := pf.Superblock()
	if !created && opts.Order != 0 && int(sb.Order) != opts.Order {
		pf.Close()
		return nil, fmt.Errorf("%w: file has %d, caller asked for %d", ErrOrderMismatch, sb.Order, opts.Order)
	}
	lay, err := newLayout(int(sb.Order), keyWidth, valueWidth)
	if err != nil {
		pf.Close()
		return nil, err
	}

	metrics, err := newTreeMetrics(opts.Meter)
	if err != nil {
		pf.Close()
		return nil, fmt.Errorf("bptree: creating metrics: %w", err)
	}

	t := &Tree[K, V]{
		pf:         pf,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		keyOrder:   keyOrder,
		lay:        lay,
		root:       sb.RootPage,
		log:        log,
		metrics:    metrics,
	}

	if created {
		rootID, err := pf.AllocatePage()
		if err != nil {
			pf.Close()
			return nil, err
		}
		root := &node[K, V]{pageID: rootID, isLeaf: true, next: pagefile.InvalidPageID}
		if err := t.writeNode(root); err != nil {
			pf.Close()
			return nil, err
		}
		if err := pf.SetRootPage(rootID); err != nil {
			pf.Close()
			return nil, err
		}
		t.root = rootID
		log.Debug("created tree", zap.String("path", path), zap.Int("order", lay.order))
		return t, nil
	}

	if t.root == pagefile.InvalidPageID {
		pf.Close()
		return nil, fmt.Errorf("%w: superblock has no root page", pagefile.ErrInvalidFormat)
	}
	log.Debug("opened tree",
		zap.String("path", path),
		zap.Int("order", lay.order),
		zap.Uint64("root", uint64(t.root)),
		zap.Uint64("pages", sb.PageCount))
	return t, nil
}

// Order reports the tree's branching factor.
func (t *Tree[K, V]) Order() int {
	return t.lay.order
}

// Get returns the value stored for key. Absence is a normal outcome, not an
// error: a missing key comes back as (zero, false, nil).
func (t *Tree[K, V]) Get(key K) (V, bool, error) {
	var zero V
	if t.pf == nil {
		return zero, false, ErrClosed
	}
	t.metrics.add(t.metrics.gets, 1)

	n, err := t.readNode(t.root)
	if err != nil {
		return zero, false, err
	}
	for !n.isLeaf {
		n, err = t.readNode(n.children[t.childIndex(n, key)])
		if err != nil {
			return zero, false, err
		}
	}

	idx, found := slices.BinarySearchFunc(n.keys, key, t.keyOrder)
	if !found {
		return zero, false, nil
	}
	t.metrics.add(t.metrics.hits, 1)
	return n.values[idx], true, nil
}

// Set inserts key with value, overwriting any existing value for the key.
func (t *Tree[K, V]) Set(key K, value V) error {
	if t.pf == nil {
		return ErrClosed
	}
	t.metrics.add(t.metrics.sets, 1)

	// Descend to the target leaf, recording (page, chosen child slot) so
	// split propagation can walk back up without recursion.
	type step struct {
		id  pagefile.PageID
		idx int
	}
	var path []step

	n, err := t.readNode(t.root)
	if err != nil {
		return err
	}
	for !n.isLeaf {
		idx := t.childIndex(n, key)
		path = append(path, step{n.pageID, idx})
		n, err = t.readNode(n.children[idx])
		if err != nil {
			return err
		}
	}

	idx, found := slices.BinarySearchFunc(n.keys, key, t.keyOrder)
	if found {
		n.values[idx] = value
		return t.writeNode(n)
	}
	n.keys = slices.Insert(n.keys, idx, key)
	n.values = slices.Insert(n.values, idx, value)
	if len(n.keys) <= t.lay.maxEntries {
		return t.writeNode(n)
	}

	// Leaf overflowed. Split it, then push the promoted separator up the
	// recorded path, splitting further while parents are full.
	sep, childID, err := t.splitLeaf(n)
	if err != nil {
		return err
	}
	for i := len(path) - 1; i >= 0; i-- {
		parent, err := t.readNode(path[i].id)
		if err != nil {
			return err
		}
		at := path[i].idx
		parent.keys = slices.Insert(parent.keys, at, sep)
		parent.children = slices.Insert(parent.children, at+1, childID)
		if len(parent.keys) <= t.lay.maxEntries {
			return t.writeNode(parent)
		}
		sep, childID, err = t.splitInternal(parent)
		if err != nil {
			return err
		}
	}

	// The split reached the top: the old root (leaf or internal) was divided
	// and its page id is unchanged, so it becomes the left child of a new
	// root. Tree depth grows by exactly one.
	return t.growRoot(sep, childID)
}

// childIndex picks the child slot to descend into: the smallest i with
// key < keys[i], so keys equal to a separator live in the right subtree.
func (t *Tree[K, V]) childIndex(n *node[K, V], key K) int {
	idx, found := slices.BinarySearchFunc(n.keys, key, t.keyOrder)
	if found {
		idx++
	}
	return idx
}

// splitLeaf divides an over-full leaf (order entries) at the median. The
// left half stays in place, the right half moves to a new page, and the
// median key is copied up as the promoted separator.
func (t *Tree[K, V]) splitLeaf(n *node[K, V]) (K, pagefile.PageID, error) {
	var zeroK K
	cut := (len(n.keys) + 1) / 2

	rightID, err := t.pf.AllocatePage()
	if err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	right := &node[K, V]{
		pageID: rightID,
		isLeaf: true,
		next:   n.next,
		keys:   slices.Clone(n.keys[cut:]),
		values: slices.Clone(n.values[cut:]),
	}
	n.keys = n.keys[:cut]
	n.values = n.values[:cut]
	n.next = rightID

	if err := t.writeNode(right); err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	if err := t.writeNode(n); err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	t.metrics.add(t.metrics.leafSplits, 1)
	t.log.Debug("split leaf",
		zap.Uint64("left", uint64(n.pageID)),
		zap.Uint64("right", uint64(rightID)),
		zap.Int("left_entries", len(n.keys)),
		zap.Int("right_entries", len(right.keys)))
	return right.keys[0], rightID, nil
}

// splitInternal divides an over-full internal node (order separators). The
// median separator moves up without being duplicated below: its boundary
// role is inherited by the split point between the two halves.
func (t *Tree[K, V]) splitInternal(n *node[K, V]) (K, pagefile.PageID, error) {
	var zeroK K
	up := (len(n.keys) - 1) / 2
	sep := n.keys[up]

	rightID, err := t.pf.AllocatePage()
	if err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	right := &node[K, V]{
		pageID:   rightID,
		isLeaf:   false,
		keys:     slices.Clone(n.keys[up+1:]),
		children: slices.Clone(n.children[up+1:]),
	}
	n.keys = n.keys[:up]
	n.children = n.children[:up+1]

	if err := t.writeNode(right); err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	if err := t.writeNode(n); err != nil {
		return zeroK, pagefile.InvalidPageID, err
	}
	t.metrics.add(t.metrics.internalSplits, 1)
	t.log.Debug("split internal node",
		zap.Uint64("left", uint64(n.pageID)),
		zap.Uint64("right", uint64(rightID)))
	return sep, rightID, nil
}

// growRoot installs a new internal root above the old one after a root
// split, then persists the root change in the superblock.
func (t *Tree[K, V]) growRoot(sep K, rightID pagefile.PageID) error {
	newRootID, err := t.pf.AllocatePage()
	if err != nil {
		return err
	}
	newRoot := &node[K, V]{
		pageID:   newRootID,
		isLeaf:   false,
		keys:     []K{sep},
		children: []pagefile.PageID{t.root, rightID},
	}
	if err := t.writeNode(newRoot); err != nil {
		return err
	}
	if err := t.pf.SetRootPage(newRootID); err != nil {
		return err
	}
	t.log.Debug("tree grew a level",
		zap.Uint64("old_root", uint64(t.root)),
		zap.Uint64("new_root", uint64(newRootID)))
	t.root = newRootID
	return nil
}

// Count walks the leaf chain and returns the number of stored entries.
func (t *Tree[K, V]) Count() (uint64, error) {
	if t.pf == nil {
		return 0, ErrClosed
	}
	n, err := t.leftmostLeaf()
	if err != nil {
		return 0, err
	}
	var total uint64
	for {
		total += uint64(len(n.keys))
		if n.next == pagefile.InvalidPageID {
			return total, nil
		}
		n, err = t.readNode(n.next)
		if err != nil {
			return 0, err
		}
	}
}

// Depth returns the number of levels from the root down to the leaves; a
// single-leaf tree has depth 1.
func (t *Tree[K, V]) Depth() (int, error) {
	if t.pf == nil {
		return 0, ErrClosed
	}
	depth := 1
	n, err := t.readNode(t.root)
	if err != nil {
		return 0, err
	}
	for !n.isLeaf {
		depth++
		n, err = t.readNode(n.children[0])
		if err != nil {
			return 0, err
		}
	}
	return depth, nil
}

func (t *Tree[K, V]) leftmostLeaf() (*node[K, V], error) {
	n, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}
	for !n.isLeaf {
		n, err = t.readNode(n.children[0])
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (t *Tree[K, V]) readNode(id pagefile.PageID) (*node[K, V], error) {
	buf, err := t.pf.ReadPage(id)
	if err != nil {
		return nil, err
	}
	t.metrics.add(t.metrics.pagesRead, 1)
	return decodeNode(id, buf, t.lay, t.keyCodec, t.valueCodec)
}

func (t *Tree[K, V]) writeNode(n *node[K, V]) error {
	buf, err := n.encode(t.lay, t.keyCodec, t.valueCodec)
	if err != nil {
		return err
	}
	if err := t.pf.WritePage(n.pageID, buf); err != nil {
		return err
	}
	t.metrics.add(t.metrics.pagesWritten, 1)
	return nil
}

// Sync flushes the backing file to stable storage.
func (t *Tree[K, V]) Sync() error {
	if t.pf == nil {
		return ErrClosed
	}
	return t.pf.Sync()
}

// Close syncs and releases the backing file. The tree is unusable afterward.
func (t *Tree[K, V]) Close() error {
	if t.pf == nil {
		return nil
	}
	err := t.pf.Close()
	t.pf = nil
	return err
}
