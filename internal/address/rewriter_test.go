package address

import (
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeHostThreeFields(t *testing.T) {
	enc := EncodeHost("play.example.net", 25565, "1.8.x")

	fields := strings.Split(enc, "\x07")
	require.Len(t, fields, 3)
	require.Equal(t, "play.example.net", fields[0])
	require.Equal(t, "play.example.net:25565", fields[1])
	require.Equal(t, "1.8.x", fields[2])
	require.NotContains(t, enc, "\x00")
}

func TestEncodeHostKeepsSuffix(t *testing.T) {
	enc := EncodeHost("mc.example.org\x07mppass\x07extra", 25566, "b1.7-b1.7.3")
	require.True(t, strings.HasSuffix(enc, "\x00mppass\x07extra"))
	require.True(t, strings.HasPrefix(enc, "mc.example.org\x07mc.example.org:25566\x07b1.7-b1.7.3"))

	dec, err := DecodeHost(enc)
	require.NoError(t, err)
	require.True(t, dec.HasSuffix)
	require.Equal(t, "mppass\x07extra", dec.Suffix)
	require.Equal(t, ServerAddress{Host: "mc.example.org", Port: 25566}, dec.Target)
}

func TestDecodeHostRoundTrip(t *testing.T) {
	dec, err := DecodeHost(EncodeHost("2001:db8::1", 25565, "1.12.2"))
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1", dec.Placeholder)
	require.Equal(t, ServerAddress{Host: "2001:db8::1", Port: 25565}, dec.Target)
	require.Equal(t, "1.12.2", dec.Version)
	require.False(t, dec.HasSuffix)

	_, err = DecodeHost("plain.host")
	require.Error(t, err)
}

func TestRewrite(t *testing.T) {
	orig := netip.MustParseAddrPort("203.0.113.7:25565")
	bind := netip.MustParseAddrPort("127.0.0.1:41234")
	target := NewTarget(ServerAddress{Host: "play.example.net", Port: 25565}, orig)

	require.NoError(t, Rewrite(target, bind, "1.8.x"))
	require.True(t, target.Rewritten())
	require.Equal(t, bind, target.Resolved())
	require.Equal(t, "play.example.net\x07play.example.net:25565\x071.8.x", target.Address().Host)

	require.ErrorIs(t, Rewrite(target, bind, "1.8.x"), ErrAlreadyRewritten)
	require.Equal(t, "play.example.net\x07play.example.net:25565\x071.8.x", target.Address().Host)
}

func TestRewriteRejectsInvalidBind(t *testing.T) {
	target := NewTarget(ServerAddress{Host: "a", Port: 1}, netip.AddrPort{})
	require.Error(t, Rewrite(target, netip.AddrPort{}, "1.8.x"))
	require.False(t, target.Rewritten())
}

func TestRewriteConcurrentOnlyOnce(t *testing.T) {
	target := NewTarget(ServerAddress{Host: "a.example", Port: 25565}, netip.AddrPort{})
	bind := netip.MustParseAddrPort("127.0.0.1:4000")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Rewrite(target, bind, "1.8.x") == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Len(t, strings.Split(target.Address().Host, "\x07"), 3)
}

func TestParseServerAddress(t *testing.T) {
	a, err := ParseServerAddress("play.example.net")
	require.NoError(t, err)
	require.Equal(t, ServerAddress{Host: "play.example.net", Port: 25565}, a)

	a, err = ParseServerAddress("localhost:25570")
	require.NoError(t, err)
	require.Equal(t, uint16(25570), a.Port)

	_, err = ParseServerAddress("host:notaport")
	require.Error(t, err)
}
