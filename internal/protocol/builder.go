package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// PacketBuilder constructs a packet body: the VarInt packet ID followed by
// its fields.
type PacketBuilder struct {
	buf []byte
}

// NewPacketBuilder starts a packet with the given ID.
func NewPacketBuilder(id int32) *PacketBuilder {
	return &PacketBuilder{buf: AppendVarInt(make([]byte, 0, 64), id)}
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf = append(b.buf, v)
	return b
}

// WriteBool writes a boolean as 0x00/0x01.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteUint16 writes a big-endian unsigned short.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	b.buf = binary.BigEndian.AppendUint16(b.buf, v)
	return b
}

// WriteVarInt writes a VarInt.
func (b *PacketBuilder) WriteVarInt(v int32) *PacketBuilder {
	b.buf = AppendVarInt(b.buf, v)
	return b
}

// WriteString writes a VarInt length-prefixed string.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	b.buf = AppendString(b.buf, s)
	return b
}

// WriteUUID writes a UUID as two big-endian longs.
func (b *PacketBuilder) WriteUUID(id uuid.UUID) *PacketBuilder {
	b.buf = append(b.buf, id[:]...)
	return b
}

// WriteBytes writes raw bytes with no length prefix.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf = append(b.buf, data...)
	return b
}

// Build returns the packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return len(b.buf)
}

// String returns a hex dump of the packet for debugging.
func (b *PacketBuilder) String() string {
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(b.buf), b.buf)
}

// ---- Serverbound packet constructors ----

// BuildHandshake creates the intention packet.
// Format: [id][protocol:varint][host:string][port:u16][next_state:varint]
func BuildHandshake(protocolVersion int32, host string, port uint16, nextState int32) []byte {
	return NewPacketBuilder(PktHandshake).
		WriteVarInt(protocolVersion).
		WriteString(host).
		WriteUint16(port).
		WriteVarInt(nextState).
		Build()
}

// BuildLoginHello creates the login start packet.
// Format: [id][name:string][uuid:16]
func BuildLoginHello(name string, id uuid.UUID) []byte {
	return NewPacketBuilder(PktLoginHello).
		WriteString(name).
		WriteUUID(id).
		Build()
}

// BuildCustomQueryAnswer creates the reply to a login custom query.
// Format: [id][transaction:varint][present:bool][data...]
func BuildCustomQueryAnswer(a CustomQueryAnswer) []byte {
	b := NewPacketBuilder(PktCustomQueryAnswer).
		WriteVarInt(int32(a.TransactionID)).
		WriteBool(a.Understood())
	if a.Understood() {
		b.WriteBytes(a.Data)
	}
	return b.Build()
}

// BuildLoginAcknowledged creates the packet that moves the connection into
// the configuration state after LoginFinished.
func BuildLoginAcknowledged() []byte {
	return NewPacketBuilder(PktLoginAcknowledged).Build()
}

// BuildCookieResponse answers a cookie request with no stored payload.
func BuildCookieResponse(key string) []byte {
	return NewPacketBuilder(PktCookieResponse).
		WriteString(key).
		WriteBool(false).
		Build()
}
