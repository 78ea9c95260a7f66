package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PacketReader reads packet fields from a packet body.
type PacketReader struct {
	r *bytes.Reader
}

// NewPacketReader wraps a packet body.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{r: bytes.NewReader(data)}
}

// ReadByte reads one byte.
func (p *PacketReader) ReadByte() (byte, error) {
	return p.r.ReadByte()
}

// ReadBool reads a boolean.
func (p *PacketReader) ReadBool() (bool, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadVarInt reads a VarInt.
func (p *PacketReader) ReadVarInt() (int32, error) {
	return ReadVarInt(p.r)
}

// ReadUint16 reads a big-endian unsigned short.
func (p *PacketReader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(p.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadString reads a VarInt length-prefixed UTF-8 string of at most maxLen
// characters.
func (p *PacketReader) ReadString(maxLen int) (string, error) {
	n, err := p.ReadVarInt()
	if err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	if n < 0 {
		return "", fmt.Errorf("negative string length %d", n)
	}
	if int(n) > maxLen*4 {
		return "", fmt.Errorf("string too long: %d bytes (max %d)", n, maxLen*4)
	}
	if int(n) > p.r.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes: %w", n, p.r.Len(), io.ErrUnexpectedEOF)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	if chars := utf8.RuneCount(buf); chars > maxLen {
		return "", fmt.Errorf("string too long: %d characters (max %d)", chars, maxLen)
	}
	return string(buf), nil
}

// ReadByteArray reads a VarInt length-prefixed byte array.
func (p *PacketReader) ReadByteArray() ([]byte, error) {
	n, err := p.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > p.r.Len() {
		return nil, fmt.Errorf("invalid byte array length %d: %w", n, io.ErrUnexpectedEOF)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUUID reads a 16-byte UUID.
func (p *PacketReader) ReadUUID() (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(p.r, id[:]); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Rest returns all unread bytes.
func (p *PacketReader) Rest() []byte {
	rest := make([]byte, p.r.Len())
	_, _ = io.ReadFull(p.r, rest)
	return rest
}

// Remaining returns the number of unread bytes.
func (p *PacketReader) Remaining() int {
	return p.r.Len()
}

// LoginParser decodes clientbound login-phase packets.
type LoginParser struct {
	logger zerolog.Logger
}

// NewLoginParser creates a new parser for the login phase.
func NewLoginParser() *LoginParser {
	return &LoginParser{
		logger: log.With().Str("component", "login_parser").Logger(),
	}
}

// Parse decodes one packet body (ID included).
func (p *LoginParser) Parse(data []byte) (ClientboundPacket, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("empty packet")
	}

	r := NewPacketReader(data)
	id, err := r.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("failed to read packet id: %w", err)
	}

	switch id {
	case PktLoginDisconnect:
		return p.parseDisconnect(r)
	case PktEncryptionHello:
		return p.parseEncryptionRequest(r)
	case PktLoginFinished:
		return p.parseLoginFinished(r)
	case PktLoginCompression:
		return p.parseSetCompression(r)
	case PktCustomQuery:
		return p.parseCustomQuery(r)
	case PktCookieRequest:
		return p.parseCookieRequest(r)
	default:
		p.logger.Debug().
			Int32("id", id).
			Int("payload_len", r.Remaining()).
			Msg("unknown login packet")
		return Unknown{ID: id, Data: r.Rest()}, nil
	}
}

func (p *LoginParser) parseDisconnect(r *PacketReader) (ClientboundPacket, error) {
	reason, err := r.ReadString(262144)
	if err != nil {
		return nil, fmt.Errorf("failed to parse disconnect: %w", err)
	}
	return Disconnect{Reason: reason}, nil
}

func (p *LoginParser) parseEncryptionRequest(r *PacketReader) (ClientboundPacket, error) {
	serverID, err := r.ReadString(20)
	if err != nil {
		return nil, fmt.Errorf("failed to parse encryption server id: %w", err)
	}
	publicKey, err := r.ReadByteArray()
	if err != nil {
		return nil, fmt.Errorf("failed to parse encryption public key: %w", err)
	}
	verifyToken, err := r.ReadByteArray()
	if err != nil {
		return nil, fmt.Errorf("failed to parse encryption verify token: %w", err)
	}
	// Older servers omit the flag.
	shouldAuth, _ := r.ReadBool()

	return EncryptionRequest{
		ServerID:           serverID,
		PublicKey:          publicKey,
		VerifyToken:        verifyToken,
		ShouldAuthenticate: shouldAuth,
	}, nil
}

func (p *LoginParser) parseLoginFinished(r *PacketReader) (ClientboundPacket, error) {
	id, err := r.ReadUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to parse login finished uuid: %w", err)
	}
	name, err := r.ReadString(MaxUsernameLen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse login finished username: %w", err)
	}
	// Profile properties follow; the login phase has no use for them.
	return LoginFinished{UUID: id, Username: name}, nil
}

func (p *LoginParser) parseSetCompression(r *PacketReader) (ClientboundPacket, error) {
	threshold, err := r.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("failed to parse compression threshold: %w", err)
	}
	return SetCompression{Threshold: threshold}, nil
}

func (p *LoginParser) parseCustomQuery(r *PacketReader) (ClientboundPacket, error) {
	txID, err := r.ReadVarInt()
	if err != nil {
		return nil, fmt.Errorf("failed to parse custom query transaction: %w", err)
	}
	identifier, err := r.ReadString(identifierMaxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse custom query identifier: %w", err)
	}

	p.logger.Trace().
		Int32("transaction_id", txID).
		Str("identifier", identifier).
		Int("data_len", r.Remaining()).
		Msg("custom query")

	return CustomQuery{
		TransactionID: uint32(txID),
		Identifier:    identifier,
		Data:          r.Rest(),
	}, nil
}

func (p *LoginParser) parseCookieRequest(r *PacketReader) (ClientboundPacket, error) {
	key, err := r.ReadString(identifierMaxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cookie key: %w", err)
	}
	return CookieRequest{Key: key}, nil
}

// BuildCustomQuery encodes a clientbound custom query. The relay never sends
// one; proxies and tests do.
func BuildCustomQuery(q CustomQuery) []byte {
	return NewPacketBuilder(PktCustomQuery).
		WriteVarInt(int32(q.TransactionID)).
		WriteString(q.Identifier).
		WriteBytes(q.Data).
		Build()
}
