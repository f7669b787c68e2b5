package integration

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"netmgr/internal/api"
	"netmgr/internal/clock"
	"netmgr/internal/connmgr"
	"netmgr/internal/credstore"
	"netmgr/internal/dnsredirect"
	"netmgr/internal/kvstore"
	"netmgr/internal/portal"
	"netmgr/internal/radio"
	"netmgr/internal/scanner"
	"netmgr/internal/status"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tick = 10 * time.Millisecond

var apAddr = netip.MustParseAddr("192.168.4.1")

// appliance wires the real components around a simulated radio
type appliance struct {
	t       *testing.T
	radio   *radio.Simulator
	dns     *dnsredirect.Redirector
	portal  *portal.Controller
	kv      kvstore.Store
	creds   *credstore.Store
	manager *connmgr.Manager
	scanner *scanner.Scanner
	status  *status.Recorder
	hub     *status.Hub
	clock   *clock.MockClock
	http    *httptest.Server
}

func newAppliance(t *testing.T, kv kvstore.Store, policy connmgr.RetryPolicy, networks ...radio.Network) *appliance {
	t.Helper()
	logger := zap.NewNop()

	a := &appliance{
		t:      t,
		radio:  radio.NewSimulator(networks...),
		dns:    dnsredirect.New("127.0.0.1:0", logger),
		kv:     kv,
		status: status.NewRecorder(),
		hub:    status.NewHub(logger),
		clock:  clock.NewMockClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
	}
	a.creds = credstore.New(kv, logger)
	a.portal = portal.NewController(a.radio, a.dns, portal.Config{
		SSID:       "X-Sound Setup",
		Channel:    6,
		Address:    apAddr,
		Prefix:     24,
		TxPowerDBm: 15,
	}, logger)
	a.manager = connmgr.NewManager(connmgr.Deps{
		Station: a.radio,
		Portal:  a.portal,
		Store:   a.creds,
		Sink:    status.Multi{a.status, a.hub},
		Clock:   a.clock,
		Logger:  logger,
	}, policy)
	a.scanner = scanner.New(a.radio, a.clock, logger)

	server := api.NewServer(a.manager, a.scanner, api.Options{
		PortalURL: "http://192.168.4.1/",
		Version:   "netmgr/integration",
		Events:    a.hub,
	}, logger)
	a.http = httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		a.http.Close()
		a.hub.Close()
		a.dns.Stop()
	})
	return a
}

// step runs one control loop iteration
func (a *appliance) step() {
	a.manager.Tick(a.clock.Advance(tick))
	a.scanner.PollOnce()
}

// steps runs n control loop iterations
func (a *appliance) steps(n int) {
	for i := 0; i < n; i++ {
		a.step()
	}
}

// waitRetryWindow advances past one retry window
func (a *appliance) waitRetryWindow() {
	a.manager.Tick(a.clock.Advance(a.manager.Policy().RetryDelay + time.Millisecond))
	a.scanner.PollOnce()
}

func (a *appliance) get(path string) (*http.Response, string) {
	a.t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(a.http.URL + path)
	require.NoError(a.t, err)
	return resp, readBody(a.t, resp)
}

func (a *appliance) post(path, body string) (*http.Response, string) {
	a.t.Helper()
	resp, err := http.Post(a.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(a.t, err)
	return resp, readBody(a.t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	buf := make([]byte, 1024)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

// resolve sends a DNS query to the redirector while the control loop keeps
// ticking, since only the loop answers queries.
func (a *appliance) resolve(name string) *dns.Msg {
	a.t.Helper()

	local := a.dns.LocalAddr()
	require.NotNil(a.t, local, "dns redirector is not running")

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)

	type result struct {
		resp *dns.Msg
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
		resp, _, err := c.Exchange(msg, local.String())
		done <- result{resp, err}
	}()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(a.t, r.err)
			return r.resp
		case <-deadline:
			a.t.Fatal("no DNS answer")
			return nil
		default:
			a.step()
		}
	}
}
