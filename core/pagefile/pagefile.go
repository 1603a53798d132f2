// Package pagefile manages a backing file as an array of fixed-size pages.
// Page 0 holds the superblock describing the tree's shape; data pages start
// at index 1. Every mutating call performs a synchronous write, there is no
// dirty-page cache between calls.
package pagefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	// PageSize is the fixed size of every page, superblock included.
	PageSize = 4096

	// FileMagic identifies an ordkv B+Tree file.
	FileMagic uint32 = 0x6F72646B

	// FormatVersion is the on-disk format revision this engine reads.
	FormatVersion uint16 = 1

	// superblockSize is the number of meaningful bytes at the head of page 0:
	// magic(4) version(2) key_width(2) value_width(2) order(2) root(8) count(8).
	superblockSize = 28
)

// PageID identifies a page by its stable index within the file. It is the
// on-disk analogue of an in-memory pointer.
type PageID uint64

// SuperblockPageID is the page holding file metadata; it is never handed out
// as a data page, which also makes 0 usable as an invalid page id.
const SuperblockPageID PageID = 0

// InvalidPageID marks an unset page reference.
const InvalidPageID PageID = 0

var (
	ErrIO             = errors.New("pagefile: i/o error")
	ErrInvalidFormat  = errors.New("pagefile: bad magic or version, not an ordkv file")
	ErrSchemaMismatch = errors.New("pagefile: stored key/value widths differ from bound codecs")
	ErrPageOutOfRange = errors.New("pagefile: page index out of range")
	ErrInvalidOrder   = errors.New("pagefile: tree order must be at least 3")
	ErrFileExists     = errors.New("pagefile: file already exists")
	ErrFileNotFound   = errors.New("pagefile: file not found")
	ErrClosed         = errors.New("pagefile: file is closed")
)

// Superblock is the metadata header persisted at page 0.
type Superblock struct {
	Magic      uint32
	Version    uint16
	KeyWidth   uint16
	ValueWidth uint16
	Order      uint16
	RootPage   PageID
	PageCount  uint64
}

func (sb *Superblock) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], sb.Version)
	binary.LittleEndian.PutUint16(buf[6:8], sb.KeyWidth)
	binary.LittleEndian.PutUint16(buf[8:10], sb.ValueWidth)
	binary.LittleEndian.PutUint16(buf[10:12], sb.Order)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(sb.RootPage))
	binary.LittleEndian.PutUint64(buf[20:28], sb.PageCount)
}

func (sb *Superblock) decode(buf []byte) {
	sb.Magic = binary.LittleEndian.Uint32(buf[0:4])
	sb.Version = binary.LittleEndian.Uint16(buf[4:6])
	sb.KeyWidth = binary.LittleEndian.Uint16(buf[6:8])
	sb.ValueWidth = binary.LittleEndian.Uint16(buf[8:10])
	sb.Order = binary.LittleEndian.Uint16(buf[10:12])
	sb.RootPage = PageID(binary.LittleEndian.Uint64(buf[12:20]))
	sb.PageCount = binary.LittleEndian.Uint64(buf[20:28])
}

// File is a page-granular view over one backing file. It is not safe for
// concurrent use; callers serialize all access, as does the tree above it.
type File struct {
	path string
	file *os.File
	sb   Superblock
	log  *zap.Logger
}

// Create initializes a fresh page file at path holding only a superblock.
// It fails with ErrFileExists if the path already exists.
func Create(path string, keyWidth, valueWidth, order int, log *zap.Logger) (*File, error) {
	if order < 3 || order > 0xffff {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, order)
	}
	if keyWidth < 1 || valueWidth < 1 {
		return nil, fmt.Errorf("%w: key/value widths must be positive (key=%d, value=%d)",
			ErrSchemaMismatch, keyWidth, valueWidth)
	}
	if log == nil {
		log = zap.NewNop()
	}

	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, path, err)
	}

	f := &File{
		path: path,
		file: fd,
		log:  log,
		sb: Superblock{
			Magic:      FileMagic,
			Version:    FormatVersion,
			KeyWidth:   uint16(keyWidth),
			ValueWidth: uint16(valueWidth),
			Order:      uint16(order),
			RootPage:   InvalidPageID,
			PageCount:  1, // page 0 is the superblock itself
		},
	}
	if err := f.FlushSuperblock(); err != nil {
		fd.Close()
		os.Remove(path)
		return nil, err
	}
	log.Debug("created page file",
		zap.String("path", path),
		zap.Int("key_width", keyWidth),
		zap.Int("value_width", valueWidth),
		zap.Int("order", order))
	return f, nil
}

// Open attaches to an existing page file, validating the superblock against
// the widths the caller's codecs declare.
func Open(path string, keyWidth, valueWidth int, log *zap.Logger) (*File, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fd, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}

	f := &File{path: path, file: fd, log: log}
	if err := f.readSuperblock(); err != nil {
		fd.Close()
		return nil, err
	}
	if f.sb.Magic != FileMagic {
		fd.Close()
		return nil, fmt.Errorf("%w: magic 0x%08x", ErrInvalidFormat, f.sb.Magic)
	}
	if f.sb.Version != FormatVersion {
		fd.Close()
		return nil, fmt.Errorf("%w: version %d, engine speaks %d", ErrInvalidFormat, f.sb.Version, FormatVersion)
	}
	if int(f.sb.KeyWidth) != keyWidth || int(f.sb.ValueWidth) != valueWidth {
		fd.Close()
		return nil, fmt.Errorf("%w: file has key=%d value=%d, codecs declare key=%d value=%d",
			ErrSchemaMismatch, f.sb.KeyWidth, f.sb.ValueWidth, keyWidth, valueWidth)
	}

	fi, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("%w: stating %s: %v", ErrIO, path, err)
	}
	if uint64(fi.Size()) < f.sb.PageCount*PageSize {
		fd.Close()
		return nil, fmt.Errorf("%w: file truncated, superblock says %d pages but size is %d bytes",
			ErrInvalidFormat, f.sb.PageCount, fi.Size())
	}

	log.Debug("opened page file",
		zap.String("path", path),
		zap.Uint64("pages", f.sb.PageCount),
		zap.Uint64("root", uint64(f.sb.RootPage)))
	return f, nil
}

// OpenOrCreate opens path when it exists, otherwise creates it.
func OpenOrCreate(path string, keyWidth, valueWidth, order int, log *zap.Logger) (*File, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, false, fmt.Errorf("%w: stating %s: %v", ErrIO, path, err)
		}
		f, err := Create(path, keyWidth, valueWidth, order, log)
		return f, true, err
	}
	f, err := Open(path, keyWidth, valueWidth, log)
	return f, false, err
}

// Superblock returns a copy of the current in-memory superblock.
func (f *File) Superblock() Superblock {
	return f.sb
}

// PageCount reports the number of pages in the file, superblock included.
func (f *File) PageCount() uint64 {
	return f.sb.PageCount
}

// ReadPage reads one page into a fresh buffer.
func (f *File) ReadPage(id PageID) ([]byte, error) {
	if f.file == nil {
		return nil, ErrClosed
	}
	if uint64(id) >= f.sb.PageCount || id == SuperblockPageID {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, id, f.sb.PageCount)
	}
	buf := make([]byte, PageSize)
	n, err := f.file.ReadAt(buf, int64(id)*PageSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading page %d: %v", ErrIO, id, err)
	}
	if n != PageSize {
		return nil, fmt.Errorf("%w: short read on page %d, got %d bytes", ErrIO, id, n)
	}
	return buf, nil
}

// WritePage writes exactly one page's worth of bytes at id's offset. Writing
// at id == PageCount appends a page and persists the grown count; anything
// past that is out of range.
func (f *File) WritePage(id PageID, data []byte) error {
	if f.file == nil {
		return ErrClosed
	}
	if len(data) != PageSize {
		return fmt.Errorf("%w: page buffer is %d bytes, want %d", ErrIO, len(data), PageSize)
	}
	if id == SuperblockPageID {
		return fmt.Errorf("%w: page 0 is the superblock", ErrPageOutOfRange)
	}
	if uint64(id) > f.sb.PageCount {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, id, f.sb.PageCount)
	}
	appending := uint64(id) == f.sb.PageCount

	if _, err := f.file.WriteAt(data, int64(id)*PageSize); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", ErrIO, id, err)
	}
	if appending {
		f.sb.PageCount++
		if err := f.FlushSuperblock(); err != nil {
			return err
		}
	}
	return nil
}

// AllocatePage extends the file by one zeroed page and returns its index.
// Page indices grow monotonically; there is no free list.
func (f *File) AllocatePage() (PageID, error) {
	if f.file == nil {
		return InvalidPageID, ErrClosed
	}
	id := PageID(f.sb.PageCount)
	if err := f.WritePage(id, make([]byte, PageSize)); err != nil {
		return InvalidPageID, err
	}
	f.log.Debug("allocated page", zap.Uint64("page", uint64(id)))
	return id, nil
}

// SetRootPage records a new root in the superblock and flushes it.
func (f *File) SetRootPage(id PageID) error {
	f.sb.RootPage = id
	return f.FlushSuperblock()
}

// FlushSuperblock rewrites the header page with a single write call. The
// header is self-consistent after this; no cross-page atomicity is implied.
func (f *File) FlushSuperblock() error {
	if f.file == nil {
		return ErrClosed
	}
	buf := make([]byte, PageSize)
	f.sb.encode(buf)
	if _, err := f.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: writing superblock: %v", ErrIO, err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing superblock: %v", ErrIO, err)
	}
	return nil
}

func (f *File) readSuperblock() error {
	buf := make([]byte, superblockSize)
	n, err := f.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading superblock: %v", ErrIO, err)
	}
	if n != superblockSize {
		return fmt.Errorf("%w: file too short for a superblock (%d bytes)", ErrInvalidFormat, n)
	}
	f.sb.decode(buf)
	return nil
}

// Sync flushes the file to stable storage.
func (f *File) Sync() error {
	if f.file == nil {
		return ErrClosed
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close syncs and releases the file handle. Further calls fail with ErrClosed.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	syncErr := f.file.Sync()
	closeErr := f.file.Close()
	f.file = nil
	if syncErr != nil {
		return fmt.Errorf("%w: sync on close: %v", ErrIO, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, closeErr)
	}
	return nil
}
