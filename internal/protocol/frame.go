package protocol

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// maxUncompressedSize bounds the declared size of a compressed packet.
const maxUncompressedSize = 8388608

// FrameReader is the reader shape ReadFrame needs.
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrame reads one VarInt length-prefixed frame and returns the packet
// body. threshold < 0 means compression is off.
// Compressed format: [frame_len][data_len (0 = uncompressed)][zlib data]
func ReadFrame(r FrameReader, threshold int) ([]byte, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes (max %d)", length, MaxFrameSize)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame payload (%d bytes): %w", length, err)
	}

	if threshold < 0 {
		return frame, nil
	}

	fr := bytes.NewReader(frame)
	dataLen, err := ReadVarInt(fr)
	if err != nil {
		return nil, fmt.Errorf("failed to read uncompressed length: %w", err)
	}
	if dataLen == 0 {
		return frame[len(frame)-fr.Len():], nil
	}
	if dataLen < 0 || dataLen > maxUncompressedSize {
		return nil, fmt.Errorf("invalid uncompressed length %d", dataLen)
	}
	if int(dataLen) < threshold {
		return nil, fmt.Errorf("compressed packet of %d bytes is below threshold %d", dataLen, threshold)
	}

	zr, err := zlib.NewReader(fr)
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed packet: %w", err)
	}
	defer zr.Close()

	body := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, body); err != nil {
		return nil, fmt.Errorf("failed to decompress packet: %w", err)
	}
	return body, nil
}

// WriteFrame writes one packet body as a frame.
func WriteFrame(w io.Writer, body []byte, threshold int) error {
	var inner []byte

	switch {
	case threshold < 0:
		inner = body
	case len(body) >= threshold:
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("failed to compress packet: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress packet: %w", err)
		}
		inner = AppendVarInt(make([]byte, 0, compressed.Len()+maxVarIntBytes), int32(len(body)))
		inner = append(inner, compressed.Bytes()...)
	default:
		inner = AppendVarInt(make([]byte, 0, len(body)+1), 0)
		inner = append(inner, body...)
	}

	if len(inner) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes (max %d)", len(inner), MaxFrameSize)
	}

	out := AppendVarInt(make([]byte, 0, len(inner)+maxVarIntBytes), int32(len(inner)))
	out = append(out, inner...)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
