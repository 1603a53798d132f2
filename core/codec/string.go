package codec

import (
	"bytes"
	"fmt"
)

// FixedString returns a Codec for strings of at most capacity bytes. Encoded
// strings are zero-padded to the full width, so shorter strings sort before
// longer strings sharing the same prefix, matching Go string ordering.
// Strings containing a NUL byte are not representable.
func FixedString(capacity int) Codec[string] {
	if capacity < 1 {
		panic("codec: FixedString capacity must be at least 1")
	}
	return fixedStringCodec{capacity: capacity}
}

type fixedStringCodec struct {
	capacity int
}

func (c fixedStringCodec) Width() int { return c.capacity }

func (c fixedStringCodec) Encode(v string, buf []byte) error {
	if err := checkLen(buf, c.capacity); err != nil {
		return err
	}
	if len(v) > c.capacity {
		return fmt.Errorf("%w: %d bytes into %d", ErrValueTooLong, len(v), c.capacity)
	}
	n := copy(buf, v)
	for i := n; i < c.capacity; i++ {
		buf[i] = 0
	}
	return nil
}

func (c fixedStringCodec) Decode(buf []byte) (string, error) {
	if err := checkLen(buf, c.capacity); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf), nil
}
