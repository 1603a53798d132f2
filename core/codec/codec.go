// Package codec defines the fixed-width binary encodings used for B+Tree
// keys and values. Every codec declares its byte width up front; encode and
// decode are exact inverses over buffers of exactly that width.
//
// Key encodings are byte-order monotonic: comparing two encoded keys with
// bytes.Compare yields the same ordering as comparing the source values.
// This is what allows the tree to persist keys as raw fixed-width cells.
package codec

import (
	"cmp"
	"errors"
	"fmt"
)

var (
	// ErrBadLength is returned when a buffer handed to Encode or Decode does
	// not match the codec's declared width. Usually indicates a corrupt page
	// or a schema mismatch between the file and the bound codecs.
	ErrBadLength = errors.New("codec: buffer length does not match declared width")

	// ErrValueTooLong is returned by bounded codecs (FixedString) when the
	// input cannot fit the declared width.
	ErrValueTooLong = errors.New("codec: value exceeds fixed capacity")
)

// Codec converts values of one fixed-shape type to and from their on-disk
// form. Implementations must be stateless and safe to copy.
type Codec[T any] interface {
	// Width returns the exact number of bytes every encoded value occupies.
	Width() int

	// Encode writes v into buf, which must be exactly Width() bytes long.
	Encode(v T, buf []byte) error

	// Decode reconstructs a value from buf, which must be exactly Width()
	// bytes long. Decode(Encode(v)) == v for every valid v.
	Decode(buf []byte) (T, error)
}

// Order defines a function that compares two keys: negative when a < b,
// zero when equal, positive when a > b.
type Order[K any] func(a, b K) int

// Ordered is the Order for any naturally ordered key type.
func Ordered[K cmp.Ordered](a, b K) int {
	return cmp.Compare(a, b)
}

func checkLen(buf []byte, width int) error {
	if len(buf) != width {
		return fmt.Errorf("%w: got %d, want %d", ErrBadLength, len(buf), width)
	}
	return nil
}
