// Package protocol implements the subset of the Minecraft Java wire protocol
// that the login phase needs: VarInt framing with optional zlib compression,
// VarInt length-prefixed strings, the handshake, and the login packets that
// carry OpenAuthMod custom queries. All multi-byte integers are big-endian.
package protocol

import (
	"github.com/google/uuid"
)

// ProtocolVersion is the protocol the client side speaks (1.21.4). The
// external proxy translates it to the server's version.
const ProtocolVersion int32 = 769

// Handshake next-state values.
const (
	NextStateStatus int32 = 1
	NextStateLogin  int32 = 2
)

// Size limits.
const (
	MaxStringLength  = 32767
	MaxHostLength    = 255
	MaxUsernameLen   = 16
	MaxFrameSize     = 2097151
	CompressionNone  = -1
	maxVarIntBytes   = 5
	identifierMaxLen = 32767
)

// Serverbound packet IDs.
const (
	PktHandshake         int32 = 0x00
	PktLoginHello        int32 = 0x00
	PktLoginKey          int32 = 0x01
	PktCustomQueryAnswer int32 = 0x02
	PktLoginAcknowledged int32 = 0x03
	PktCookieResponse    int32 = 0x04
)

// Clientbound login packet IDs.
const (
	PktLoginDisconnect  int32 = 0x00
	PktEncryptionHello  int32 = 0x01
	PktLoginFinished    int32 = 0x02
	PktLoginCompression int32 = 0x03
	PktCustomQuery      int32 = 0x04
	PktCookieRequest    int32 = 0x05
)

// OpenAuthMod custom query identifiers.
const (
	ChannelJoin      = "oam:join"
	ChannelSignNonce = "oam:sign_nonce"
	ChannelData      = "oam:data"
)

// Answer payload bytes for oam:join.
const (
	AnswerFailure byte = 0
	AnswerSuccess byte = 1
)

// ClientboundPacket is any decoded clientbound login packet.
type ClientboundPacket interface {
	PacketID() int32
}

// Disconnect ends the login with a JSON text component reason.
type Disconnect struct {
	Reason string
}

func (Disconnect) PacketID() int32 { return PktLoginDisconnect }

// EncryptionRequest asks the client to enable encryption.
type EncryptionRequest struct {
	ServerID           string
	PublicKey          []byte
	VerifyToken        []byte
	ShouldAuthenticate bool
}

func (EncryptionRequest) PacketID() int32 { return PktEncryptionHello }

// LoginFinished carries the profile the server assigned to the client.
type LoginFinished struct {
	UUID     uuid.UUID
	Username string
}

func (LoginFinished) PacketID() int32 { return PktLoginFinished }

// SetCompression enables frame compression from the next packet on.
type SetCompression struct {
	Threshold int32
}

func (SetCompression) PacketID() int32 { return PktLoginCompression }

// CustomQuery is a login-phase plugin request from the server (or proxy).
type CustomQuery struct {
	TransactionID uint32
	Identifier    string
	Data          []byte
}

func (CustomQuery) PacketID() int32 { return PktCustomQuery }

// CookieRequest asks for a stored cookie.
type CookieRequest struct {
	Key string
}

func (CookieRequest) PacketID() int32 { return PktCookieRequest }

// Unknown is any clientbound packet the login phase does not interpret.
type Unknown struct {
	ID   int32
	Data []byte
}

func (u Unknown) PacketID() int32 { return u.ID }

// CustomQueryAnswer is the serverbound reply to a CustomQuery. A nil Data
// means "not understood".
type CustomQueryAnswer struct {
	TransactionID uint32
	Data          []byte
}

// JoinAnswer builds the oam:join answer for a transaction.
func JoinAnswer(transactionID uint32, success bool) CustomQueryAnswer {
	b := AnswerFailure
	if success {
		b = AnswerSuccess
	}
	return CustomQueryAnswer{TransactionID: transactionID, Data: []byte{b}}
}

// Understood reports whether the answer carries a payload.
func (a CustomQueryAnswer) Understood() bool {
	return a.Data != nil
}
