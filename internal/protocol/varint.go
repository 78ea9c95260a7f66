package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ErrVarIntTooLong is returned when a VarInt runs past five bytes.
var ErrVarIntTooLong = errors.New("varint is too long")

// ErrInvalidUTF8 is returned for strings whose bytes are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("string is not valid utf-8")

// AppendVarInt appends v as a VarInt. Negative values take five bytes.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// VarIntSize returns the encoded length of v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarInt reads one VarInt.
func ReadVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, ErrVarIntTooLong
}

// AppendString appends s as a VarInt length-prefixed UTF-8 string.
func AppendString(dst []byte, s string) []byte {
	dst = AppendVarInt(dst, int32(len(s)))
	return append(dst, s...)
}

// DecodeString decodes a VarInt length-prefixed string occupying the start
// of data, such as the oam:join challenge payload.
func DecodeString(data []byte) (string, error) {
	r := NewPacketReader(data)
	s, err := r.ReadString(MaxStringLength)
	if err != nil {
		return "", fmt.Errorf("failed to decode string: %w", err)
	}
	return s, nil
}
