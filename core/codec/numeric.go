package codec

import (
	"encoding/binary"
	"math"
)

// Numeric codecs. Unsigned integers are stored big-endian so the raw bytes
// compare in value order. Signed integers additionally flip the sign bit,
// mapping the int range onto the uint range monotonically. Floats go through
// the IEEE-754 total-order transform (negative values have all bits
// inverted, non-negative values get the sign bit set).

var (
	Uint16  Codec[uint16]  = uint16Codec{}
	Uint32  Codec[uint32]  = uint32Codec{}
	Uint64  Codec[uint64]  = uint64Codec{}
	Int32   Codec[int32]   = int32Codec{}
	Int64   Codec[int64]   = int64Codec{}
	Float32 Codec[float32] = float32Codec{}
	Float64 Codec[float64] = float64Codec{}
)

type uint16Codec struct{}

func (uint16Codec) Width() int { return 2 }

func (uint16Codec) Encode(v uint16, buf []byte) error {
	if err := checkLen(buf, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(buf, v)
	return nil
}

func (uint16Codec) Decode(buf []byte) (uint16, error) {
	if err := checkLen(buf, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

type uint32Codec struct{}

func (uint32Codec) Width() int { return 4 }

func (uint32Codec) Encode(v uint32, buf []byte) error {
	if err := checkLen(buf, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf, v)
	return nil
}

func (uint32Codec) Decode(buf []byte) (uint32, error) {
	if err := checkLen(buf, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

type uint64Codec struct{}

func (uint64Codec) Width() int { return 8 }

func (uint64Codec) Encode(v uint64, buf []byte) error {
	if err := checkLen(buf, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(buf, v)
	return nil
}

func (uint64Codec) Decode(buf []byte) (uint64, error) {
	if err := checkLen(buf, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf), nil
}

type int32Codec struct{}

func (int32Codec) Width() int { return 4 }

func (int32Codec) Encode(v int32, buf []byte) error {
	if err := checkLen(buf, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf, uint32(v)^(1<<31))
	return nil
}

func (int32Codec) Decode(buf []byte) (int32, error) {
	if err := checkLen(buf, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf) ^ (1 << 31)), nil
}

type int64Codec struct{}

func (int64Codec) Width() int { return 8 }

func (int64Codec) Encode(v int64, buf []byte) error {
	if err := checkLen(buf, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return nil
}

func (int64Codec) Decode(buf []byte) (int64, error) {
	if err := checkLen(buf, 8); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63)), nil
}

type float32Codec struct{}

func (float32Codec) Width() int { return 4 }

func (float32Codec) Encode(v float32, buf []byte) error {
	if err := checkLen(buf, 4); err != nil {
		return err
	}
	bits := math.Float32bits(v)
	if bits>>31 == 1 {
		bits = ^bits
	} else {
		bits |= 1 << 31
	}
	binary.BigEndian.PutUint32(buf, bits)
	return nil
}

func (float32Codec) Decode(buf []byte) (float32, error) {
	if err := checkLen(buf, 4); err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint32(buf)
	if bits>>31 == 1 {
		bits &^= 1 << 31
	} else {
		bits = ^bits
	}
	return math.Float32frombits(bits), nil
}

type float64Codec struct{}

func (float64Codec) Width() int { return 8 }

func (float64Codec) Encode(v float64, buf []byte) error {
	if err := checkLen(buf, 8); err != nil {
		return err
	}
	bits := math.Float64bits(v)
	if bits>>63 == 1 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	binary.BigEndian.PutUint64(buf, bits)
	return nil
}

func (float64Codec) Decode(buf []byte) (float64, error) {
	if err := checkLen(buf, 8); err != nil {
		return 0, err
	}
	bits := binary.BigEndian.Uint64(buf)
	if bits>>63 == 1 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
