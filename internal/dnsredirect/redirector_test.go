package dnsredirect

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var apAddr = netip.MustParseAddr("192.168.4.1")

func TestReply(t *testing.T) {
	t.Run("A query resolves to appliance", func(t *testing.T) {
		req := new(dns.Msg)
		req.SetQuestion("connectivitycheck.gstatic.com.", dns.TypeA)

		resp := Reply(req, apAddr)
		assert.Equal(t, req.Id, resp.Id)
		assert.True(t, resp.Response)
		assert.True(t, resp.Authoritative)
		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		require.Len(t, resp.Answer, 1)

		a, ok := resp.Answer[0].(*dns.A)
		require.True(t, ok)
		assert.Equal(t, "connectivitycheck.gstatic.com.", a.Hdr.Name)
		assert.Equal(t, uint32(AnswerTTL), a.Hdr.Ttl)
		assert.True(t, a.A.Equal(net.IPv4(192, 168, 4, 1)))
	})

	t.Run("ANY query resolves to appliance", func(t *testing.T) {
		req := new(dns.Msg)
		req.SetQuestion("example.org.", dns.TypeANY)

		resp := Reply(req, apAddr)
		require.Len(t, resp.Answer, 1)
	})

	t.Run("AAAA gets empty NOERROR", func(t *testing.T) {
		req := new(dns.Msg)
		req.SetQuestion("example.org.", dns.TypeAAAA)

		resp := Reply(req, apAddr)
		assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
		assert.Empty(t, resp.Answer)
	})

	t.Run("non-query opcode is not implemented", func(t *testing.T) {
		req := new(dns.Msg)
		req.SetQuestion("example.org.", dns.TypeA)
		req.Opcode = dns.OpcodeUpdate

		resp := Reply(req, apAddr)
		assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
		assert.Empty(t, resp.Answer)
	})
}

func TestRedirector_ProcessNext(t *testing.T) {
	r := New("127.0.0.1:0", zap.NewNop())

	handled, err := r.ProcessNext()
	require.NoError(t, err)
	assert.False(t, handled, "stopped redirector handles nothing")

	require.NoError(t, r.Start(apAddr))
	defer r.Stop()
	require.True(t, r.Running())

	handled, err = r.ProcessNext()
	require.NoError(t, err)
	assert.False(t, handled, "no query pending")

	type result struct {
		msg *dns.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		c := &dns.Client{Timeout: 2 * time.Second}
		q := new(dns.Msg)
		q.SetQuestion("captive.apple.com.", dns.TypeA)
		in, _, err := c.Exchange(q, r.LocalAddr().String())
		done <- result{in, err}
	}()

	deadline := time.After(3 * time.Second)
	for {
		_, err := r.ProcessNext()
		require.NoError(t, err)

		select {
		case res := <-done:
			require.NoError(t, res.err)
			require.Len(t, res.msg.Answer, 1)
			a := res.msg.Answer[0].(*dns.A)
			assert.True(t, a.A.Equal(net.IPv4(192, 168, 4, 1)))
			assert.Equal(t, uint64(1), r.Served())
			return
		case <-deadline:
			t.Fatal("no DNS reply received")
		default:
		}
	}
}

func TestRedirector_DropsGarbage(t *testing.T) {
	r := New("127.0.0.1:0", zap.NewNop())
	require.NoError(t, r.Start(apAddr))
	defer r.Stop()

	conn, err := net.Dial("udp", r.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handled, err := r.ProcessNext()
		require.NoError(t, err)
		if handled {
			break
		}
	}
	assert.Equal(t, uint64(0), r.Served())
}

func TestRedirector_StartStop(t *testing.T) {
	r := New("127.0.0.1:0", zap.NewNop())

	assert.Error(t, r.Start(netip.MustParseAddr("fe80::1")))
	assert.False(t, r.Running())

	require.NoError(t, r.Start(apAddr))
	require.NoError(t, r.Start(apAddr), "restart rebinds")
	assert.True(t, r.Running())

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.False(t, r.Running())
	assert.Nil(t, r.LocalAddr())
}

func TestRedirector_PortTaken(t *testing.T) {
	holder, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer holder.Close()

	r := New(holder.LocalAddr().String(), zap.NewNop())
	err = r.Start(apAddr)
	assert.ErrorIs(t, err, ErrAddrInUse)
	assert.False(t, r.Running())
}
