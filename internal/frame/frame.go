// Package frame implements the two wire framings used by the proxy: the
// outer mux frame (port + checksum, sitting directly on the transport)
// and the inner protobuf frame (a method-name hint + size, sitting
// inside a single logical channel's payload stream). Both headers are
// encoded/decoded field-by-field with explicit byte order so that wire
// layout never depends on Go's struct padding or host endianness.
package frame

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// OuterHeaderSize is the wire size of OuterHeader: 4 + 4 + 32 bytes.
	OuterHeaderSize = 4 + 4 + sha256.Size

	// InnerHeaderSize is the wire size of InnerHeader: 256 + 4 bytes.
	InnerHeaderSize = methodFieldSize + 4

	methodFieldSize = 256

	// MaxMessageSize is the per-frame payload cap enforced by the mux
	// reader: 64 KiB.
	MaxMessageSize = 64 * 1024
)

// OuterHeader is the fixed 40-byte header that precedes every payload on
// the shared transport.
type OuterHeader struct {
	Port     uint32
	DataSize uint32
	Checksum [sha256.Size]byte
}

// EncodeOuter computes the checksum of payload and serializes the
// header+payload as they appear on the wire.
func EncodeOuter(port uint32, payload []byte) []byte {
	sum := sha256.Sum256(payload)
	buf := make([]byte, OuterHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], port)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:8+sha256.Size], sum[:])
	copy(buf[OuterHeaderSize:], payload)
	return buf
}

// DecodeOuterHeader parses the fixed-size header portion of an outer
// frame. buf must be exactly OuterHeaderSize bytes.
func DecodeOuterHeader(buf []byte) (OuterHeader, error) {
	var h OuterHeader
	if len(buf) != OuterHeaderSize {
		return h, fmt.Errorf("frame: outer header must be %d bytes, got %d", OuterHeaderSize, len(buf))
	}
	h.Port = binary.LittleEndian.Uint32(buf[0:4])
	h.DataSize = binary.LittleEndian.Uint32(buf[4:8])
	copy(h.Checksum[:], buf[8:8+sha256.Size])
	return h, nil
}

// VerifyChecksum reports whether payload's SHA-256 matches h.Checksum.
func (h OuterHeader) VerifyChecksum(payload []byte) bool {
	sum := sha256.Sum256(payload)
	return sum == h.Checksum
}

// InnerHeader is the fixed header that precedes a single protobuf
// payload within one logical channel's byte stream.
type InnerHeader struct {
	Method   string
	DataSize uint32
}

// EncodeInner serializes the 256-byte zero-padded method name followed
// by the payload's length, then the payload itself.
func EncodeInner(method string, payload []byte) ([]byte, error) {
	if len(method) > methodFieldSize {
		return nil, fmt.Errorf("frame: method name %q exceeds %d bytes", method, methodFieldSize)
	}
	buf := make([]byte, InnerHeaderSize+len(payload))
	copy(buf[0:methodFieldSize], method)
	binary.LittleEndian.PutUint32(buf[methodFieldSize:methodFieldSize+4], uint32(len(payload)))
	copy(buf[InnerHeaderSize:], payload)
	return buf, nil
}

// DecodeInnerHeader parses the fixed-size header portion of an inner
// frame. buf must be exactly InnerHeaderSize bytes.
func DecodeInnerHeader(buf []byte) (InnerHeader, error) {
	var h InnerHeader
	if len(buf) != InnerHeaderSize {
		return h, fmt.Errorf("frame: inner header must be %d bytes, got %d", InnerHeaderSize, len(buf))
	}
	end := 0
	for end < methodFieldSize && buf[end] != 0 {
		end++
	}
	h.Method = string(buf[:end])
	h.DataSize = binary.LittleEndian.Uint32(buf[methodFieldSize : methodFieldSize+4])
	return h, nil
}
