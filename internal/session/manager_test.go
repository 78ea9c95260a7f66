package session

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viabridge-project/viabridge/internal/address"
	"github.com/viabridge-project/viabridge/internal/auth"
	"github.com/viabridge-project/viabridge/internal/protocol"
	"github.com/viabridge-project/viabridge/internal/relay"
)

type okJoiner struct {
	mu     sync.Mutex
	hashes []string
}

func (j *okJoiner) Join(ctx context.Context, token string, profile uuid.UUID, hash string) error {
	j.mu.Lock()
	j.hashes = append(j.hashes, hash)
	j.mu.Unlock()
	return nil
}

// fakeProxy accepts one connection and plays the proxy side of an
// OpenAuthMod login. Answers it received are sent on answers.
type fakeProxy struct {
	ln        net.Listener
	handshake chan string
	answers   chan protocol.CustomQueryAnswer
	acked     chan struct{}
	errs      chan error
}

func startFakeProxy(t *testing.T, threshold int32) *fakeProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	p := &fakeProxy{
		ln:        ln,
		handshake: make(chan string, 1),
		answers:   make(chan protocol.CustomQueryAnswer, 4),
		acked:     make(chan struct{}),
		errs:      make(chan error, 1),
	}
	go func() {
		if err := p.serve(threshold); err != nil {
			p.errs <- err
		}
	}()
	return p
}

func (p *fakeProxy) bind() netip.AddrPort {
	return netip.MustParseAddrPort(p.ln.Addr().String())
}

func (p *fakeProxy) serve(threshold int32) error {
	c, err := p.ln.Accept()
	if err != nil {
		return err
	}
	defer c.Close()
	r := bufio.NewReader(c)
	comp := protocol.CompressionNone

	body, err := protocol.ReadFrame(r, comp)
	if err != nil {
		return err
	}
	pr := protocol.NewPacketReader(body)
	_, _ = pr.ReadVarInt() // id
	_, _ = pr.ReadVarInt() // protocol
	host, err := pr.ReadString(protocol.MaxStringLength)
	if err != nil {
		return err
	}
	p.handshake <- host

	if _, err := protocol.ReadFrame(r, comp); err != nil { // login start
		return err
	}

	send := func(b []byte) error { return protocol.WriteFrame(c, b, comp) }

	if threshold >= 0 {
		if err := send(protocol.NewPacketBuilder(protocol.PktLoginCompression).WriteVarInt(threshold).Build()); err != nil {
			return err
		}
		comp = int(threshold)
	}

	// Unrelated query first, then the join challenge.
	if err := send(protocol.BuildCustomQuery(protocol.CustomQuery{TransactionID: 1, Identifier: protocol.ChannelData})); err != nil {
		return err
	}
	if err := send(protocol.BuildCustomQuery(protocol.CustomQuery{
		TransactionID: 2,
		Identifier:    protocol.ChannelJoin,
		Data:          protocol.AppendString(nil, "abc123"),
	})); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		body, err := protocol.ReadFrame(r, comp)
		if err != nil {
			return err
		}
		pr := protocol.NewPacketReader(body)
		_, _ = pr.ReadVarInt()
		tx, _ := pr.ReadVarInt()
		present, _ := pr.ReadBool()
		a := protocol.CustomQueryAnswer{TransactionID: uint32(tx)}
		if present {
			a.Data = pr.Rest()
		}
		p.answers <- a
	}

	loginFinished := protocol.NewPacketBuilder(protocol.PktLoginFinished).
		WriteUUID(uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")).
		WriteString("bot").
		WriteVarInt(0).
		Build()
	if err := send(loginFinished); err != nil {
		return err
	}

	body, err = protocol.ReadFrame(r, comp)
	if err != nil {
		return err
	}
	if len(body) == 1 && int32(body[0]) == protocol.PktLoginAcknowledged {
		close(p.acked)
	}
	return nil
}

func runManager(t *testing.T, joiner auth.SessionJoiner) *Manager {
	t.Helper()
	m := NewManager(relay.New(joiner, nil), nil, 2*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Loop().Run(ctx)
	return m
}

func TestLoginThroughProxy(t *testing.T) {
	for _, threshold := range []int32{-1, 0} {
		proxy := startFakeProxy(t, threshold)
		joiner := &okJoiner{}
		m := runManager(t, joiner)

		account := auth.NewTokenAccount("bot", uuid.New(), "token", nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res, err := m.Login(ctx, Request{
			Account: account,
			Target:  address.ServerAddress{Host: "play.example.net", Port: 25565},
			Bind:    proxy.bind(),
			Version: "1.8.x",
		})
		cancel()
		require.NoError(t, err, "threshold %d", threshold)

		host := <-proxy.handshake
		dec, err := address.DecodeHost(host)
		require.NoError(t, err)
		require.Equal(t, address.ServerAddress{Host: "play.example.net", Port: 25565}, dec.Target)
		require.Equal(t, "1.8.x", dec.Version)

		got := map[uint32][]byte{}
		for i := 0; i < 2; i++ {
			a := <-proxy.answers
			got[a.TransactionID] = a.Data
		}
		require.Nil(t, got[1], "oam:data is answered as not understood")
		require.Equal(t, []byte{protocol.AnswerSuccess}, got[2])

		select {
		case <-proxy.acked:
		case err := <-proxy.errs:
			t.Fatal(err)
		case <-time.After(2 * time.Second):
			t.Fatal("login was not acknowledged")
		}

		require.True(t, res.Authenticated)
		require.Equal(t, "bot", res.Username)
		require.Equal(t, []string{"abc123"}, joiner.hashes)
		require.Empty(t, m.Connections())
	}
}

func TestLoginDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		_, _ = protocol.ReadFrame(r, protocol.CompressionNone)
		_, _ = protocol.ReadFrame(r, protocol.CompressionNone)
		reason := protocol.NewPacketBuilder(protocol.PktLoginDisconnect).WriteString(`{"text":"bye"}`).Build()
		_ = protocol.WriteFrame(c, reason, protocol.CompressionNone)
		time.Sleep(100 * time.Millisecond)
	}()

	m := runManager(t, &okJoiner{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = m.Login(ctx, Request{
		Account: auth.NewOfflineAccount("bot"),
		Target:  address.ServerAddress{Host: "a.example", Port: 25565},
		Bind:    netip.MustParseAddrPort(ln.Addr().String()),
		Version: "1.12.2",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bye")
}
