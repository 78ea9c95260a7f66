package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestVarIntVectors(t *testing.T) {
	cases := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{25565, []byte{0xdd, 0xc7, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{2147483647, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{-1, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tc := range cases {
		got := AppendVarInt(nil, tc.value)
		require.Equal(t, tc.bytes, got, "encode %d", tc.value)
		require.Equal(t, len(tc.bytes), VarIntSize(tc.value))

		v, err := ReadVarInt(bytes.NewReader(tc.bytes))
		require.NoError(t, err)
		require.Equal(t, tc.value, v)
	}
}

func TestReadVarIntErrors(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}))
	require.ErrorIs(t, err, ErrVarIntTooLong)

	_, err = ReadVarInt(bytes.NewReader([]byte{0x80}))
	require.Error(t, err)
}

func TestDecodeString(t *testing.T) {
	s, err := DecodeString(AppendString(nil, "abc123"))
	require.NoError(t, err)
	require.Equal(t, "abc123", s)

	// Length prefix promises more bytes than are present.
	_, err = DecodeString([]byte{0x0a, 'a', 'b'})
	require.Error(t, err)

	_, err = DecodeString(nil)
	require.Error(t, err)
}

func TestReadStringRejectsInvalidUTF8(t *testing.T) {
	_, err := DecodeString([]byte{0x02, 0xff, 0xfe})
	require.ErrorIs(t, err, ErrInvalidUTF8)

	// Multi-byte characters count once against the limit.
	r := NewPacketReader(AppendString(nil, "äöü"))
	s, err := r.ReadString(3)
	require.NoError(t, err)
	require.Equal(t, "äöü", s)

	r = NewPacketReader(AppendString(nil, "abcd"))
	_, err = r.ReadString(3)
	require.Error(t, err)
}

func TestParseCustomQuery(t *testing.T) {
	body := BuildCustomQuery(CustomQuery{
		TransactionID: 300,
		Identifier:    ChannelJoin,
		Data:          AppendString(nil, "abc123"),
	})

	pkt, err := NewLoginParser().Parse(body)
	require.NoError(t, err)

	q, ok := pkt.(CustomQuery)
	require.True(t, ok)
	require.Equal(t, uint32(300), q.TransactionID)
	require.Equal(t, ChannelJoin, q.Identifier)

	hash, err := DecodeString(q.Data)
	require.NoError(t, err)
	require.Equal(t, "abc123", hash)
}

func TestParseLoginFinished(t *testing.T) {
	id := uuid.New()
	body := NewPacketBuilder(PktLoginFinished).
		WriteUUID(id).
		WriteString("Azalea").
		WriteVarInt(0).
		Build()

	pkt, err := NewLoginParser().Parse(body)
	require.NoError(t, err)
	require.Equal(t, LoginFinished{UUID: id, Username: "Azalea"}, pkt)
}

func TestParseUnknownPacket(t *testing.T) {
	pkt, err := NewLoginParser().Parse([]byte{0x42, 0x01, 0x02})
	require.NoError(t, err)
	require.Equal(t, Unknown{ID: 0x42, Data: []byte{0x01, 0x02}}, pkt)
}

func TestBuildCustomQueryAnswer(t *testing.T) {
	body := BuildCustomQueryAnswer(JoinAnswer(7, true))
	require.Equal(t, []byte{byte(PktCustomQueryAnswer), 0x07, 0x01, AnswerSuccess}, body)

	body = BuildCustomQueryAnswer(JoinAnswer(7, false))
	require.Equal(t, []byte{byte(PktCustomQueryAnswer), 0x07, 0x01, AnswerFailure}, body)

	body = BuildCustomQueryAnswer(CustomQueryAnswer{TransactionID: 7})
	require.Equal(t, []byte{byte(PktCustomQueryAnswer), 0x07, 0x00}, body)
}

func TestBuildHandshake(t *testing.T) {
	body := BuildHandshake(ProtocolVersion, "a\x07b:1\x071.8.9", 25565, NextStateLogin)

	r := NewPacketReader(body)
	id, err := r.ReadVarInt()
	require.NoError(t, err)
	require.Equal(t, PktHandshake, id)

	proto, err := r.ReadVarInt()
	require.NoError(t, err)
	require.Equal(t, ProtocolVersion, proto)

	host, err := r.ReadString(MaxHostLength)
	require.NoError(t, err)
	require.Equal(t, "a\x07b:1\x071.8.9", host)

	port, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(25565), port)

	next, err := r.ReadVarInt()
	require.NoError(t, err)
	require.Equal(t, NextStateLogin, next)
	require.Zero(t, r.Remaining())
}

func TestFrameRoundTrip(t *testing.T) {
	small := BuildLoginHello("bot", uuid.Nil)
	large := NewPacketBuilder(PktCustomQuery).WriteString(strings.Repeat("x", 1024)).Build()

	for _, threshold := range []int{CompressionNone, 0, 256} {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, small, threshold))
		require.NoError(t, WriteFrame(&buf, large, threshold))

		r := bufio.NewReader(&buf)
		got, err := ReadFrame(r, threshold)
		require.NoError(t, err)
		require.Equal(t, small, got, "threshold %d", threshold)

		got, err = ReadFrame(r, threshold)
		require.NoError(t, err)
		require.Equal(t, large, got, "threshold %d", threshold)
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader([]byte{0x00})), CompressionNone)
	require.Error(t, err)

	_, err = ReadFrame(bufio.NewReader(bytes.NewReader([]byte{0x05, 0x01})), CompressionNone)
	require.Error(t, err)
}
