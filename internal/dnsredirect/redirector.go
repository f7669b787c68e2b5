// Package dnsredirect answers every DNS name query with the appliance's own
// address, so clients joined to the provisioning access point land on the
// provisioning page whatever host they try to reach.
//
// The redirector has no goroutine of its own. The control loop calls
// ProcessNext once per iteration and each call handles at most one query.
package dnsredirect

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	// AnswerTTL is short so clients re-resolve soon after the appliance
	// leaves provisioning mode.
	AnswerTTL = 60

	pollWait   = 2 * time.Millisecond
	bufferSize = dns.MaxMsgSize
)

// ErrAddrInUse means another DNS server already owns the listen address,
// typically the dnsmasq NetworkManager starts for a shared connection.
var ErrAddrInUse = errors.New("dns listen address already in use")

// Redirector is a single-socket DNS responder
type Redirector struct {
	listenAddr string
	logger     *zap.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	answer netip.Addr
	buf    []byte
	served uint64
}

// New creates a redirector that will listen on listenAddr (e.g. ":53")
func New(listenAddr string, logger *zap.Logger) *Redirector {
	return &Redirector{
		listenAddr: listenAddr,
		logger:     logger.Named("dns"),
		buf:        make([]byte, bufferSize),
	}
}

// Start opens the socket and begins answering with answer. Starting a
// running redirector rebinds it.
func (r *Redirector) Start(answer netip.Addr) error {
	answer = answer.Unmap()
	if !answer.Is4() {
		return fmt.Errorf("redirect address %s is not IPv4", answer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}

	conn, err := net.ListenPacket("udp", r.listenAddr)
	if errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("failed to listen on %s: %w (%v)", r.listenAddr, ErrAddrInUse, err)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.listenAddr, err)
	}
	r.conn = conn
	r.answer = answer

	r.logger.Info("DNS redirector started",
		zap.String("listen", conn.LocalAddr().String()),
		zap.String("answer", answer.String()))
	return nil
}

// Stop closes the socket. Stopping a stopped redirector is a no-op.
func (r *Redirector) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.logger.Info("DNS redirector stopped", zap.Uint64("served", r.served))
	if err != nil {
		return fmt.Errorf("failed to close DNS socket: %w", err)
	}
	return nil
}

// Running reports whether the socket is open
func (r *Redirector) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// LocalAddr returns the bound address, or nil when stopped
func (r *Redirector) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Served returns how many queries have been answered
func (r *Redirector) Served() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// ProcessNext handles at most one pending query. It waits no longer than a
// few milliseconds for a packet and reports whether one was consumed.
func (r *Redirector) ProcessNext() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return false, nil
	}

	if err := r.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return false, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, from, err := r.conn.ReadFrom(r.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		return false, fmt.Errorf("failed to read DNS query: %w", err)
	}

	req := new(dns.Msg)
	if err := req.Unpack(r.buf[:n]); err != nil {
		r.logger.Debug("Dropping undecodable packet",
			zap.String("from", from.String()),
			zap.Error(err))
		return true, nil
	}

	out, err := Reply(req, r.answer).Pack()
	if err != nil {
		return true, fmt.Errorf("failed to encode DNS reply: %w", err)
	}
	if _, err := r.conn.WriteTo(out, from); err != nil {
		return true, fmt.Errorf("failed to send DNS reply: %w", err)
	}

	r.served++
	if len(req.Question) > 0 {
		r.logger.Debug("Redirected query",
			zap.String("name", req.Question[0].Name),
			zap.String("type", dns.TypeToString[req.Question[0].Qtype]),
			zap.String("from", from.String()))
	}
	return true, nil
}

// Reply builds the response to req: every A or ANY question in class IN
// resolves to answer, other types get an empty NOERROR, and non-query
// opcodes get NOTIMP.
func Reply(req *dns.Msg, answer netip.Addr) *dns.Msg {
	resp := new(dns.Msg)
	if req.Opcode != dns.OpcodeQuery {
		resp.SetRcode(req, dns.RcodeNotImplemented)
		return resp
	}

	resp.SetReply(req)
	resp.Authoritative = true

	ip := net.IP(answer.AsSlice())
	for _, q := range req.Question {
		if q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY {
			continue
		}
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeANY {
			continue
		}
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    AnswerTTL,
			},
			A: ip,
		})
	}
	return resp
}
