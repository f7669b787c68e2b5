package integration

import (
	"context"
	"net/http"
	"testing"

	"netmgr/internal/connmgr"
	"netmgr/internal/credstore"
	"netmgr/internal/kvstore"
	"netmgr/internal/radio"
	"netmgr/internal/status"

	"github.com/goccy/go-json"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var neighbourhood = []radio.Network{
	{SSID: "HomeNet", Passphrase: "hunter22", RSSI: -60},
	{SSID: "Cafe", Passphrase: "latte", RSSI: -40},
	{SSID: "HomeNet", Passphrase: "hunter22", RSSI: -80},
	{SSID: "", RSSI: -30},
}

// TestFirstBootProvisioning walks a fresh appliance from the portal to a
// joined network through the HTTP surface.
func TestFirstBootProvisioning(t *testing.T) {
	fs, err := kvstore.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	a := newAppliance(t, fs, connmgr.DefaultRetryPolicy(), neighbourhood...)

	a.manager.Initialize()

	t.Run("portal comes up", func(t *testing.T) {
		assert.Equal(t, connmgr.Portal, a.manager.State())
		started, ssid := a.radio.APStarted()
		assert.True(t, started)
		assert.Equal(t, "X-Sound Setup", ssid)
		assert.Equal(t, radio.ModeAccessPointStation, a.radio.Mode())
		assert.Equal(t, 15, a.radio.TxPower())
		assert.True(t, a.dns.Running())
		assert.Equal(t, []status.Kind{status.Booting, status.PortalActive}, a.status.Kinds())
	})

	t.Run("dns captures every name", func(t *testing.T) {
		for _, name := range []string{"example.com", "connectivitycheck.gstatic.com"} {
			resp := a.resolve(name)
			require.Len(t, resp.Answer, 1)
			rr, ok := resp.Answer[0].(*dns.A)
			require.True(t, ok)
			assert.Equal(t, "192.168.4.1", rr.A.String())
		}
	})

	t.Run("connectivity checks and unknown paths redirect", func(t *testing.T) {
		for _, path := range []string{"/generate_204", "/hotspot-detect.html", "/wpad.dat"} {
			resp, _ := a.get(path)
			assert.Equal(t, http.StatusFound, resp.StatusCode, path)
			assert.Equal(t, "http://192.168.4.1/", resp.Header.Get("Location"))
		}
	})

	t.Run("scan lists ranked unique names", func(t *testing.T) {
		a.steps(3)
		_, body := a.get("/scan")
		var names []string
		require.NoError(t, json.Unmarshal([]byte(body), &names))
		assert.Equal(t, []string{"Cafe", "HomeNet"}, names)
	})

	t.Run("save joins the network", func(t *testing.T) {
		resp, body := a.post("/save", `{"ssid":"HomeNet","pass":"hunter22"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Connecting to: HomeNet", body)

		a.step()
		assert.Equal(t, connmgr.Connecting, a.manager.State())
		a.step()
		assert.Equal(t, connmgr.Connected, a.manager.State())
		assert.True(t, a.manager.IsConnected())
		assert.False(t, a.dns.Running(), "captive DNS stops once connected")

		_, statusText := a.get("/status")
		assert.Equal(t, "Connected to: HomeNet (IP: 192.168.1.50)", statusText)

		// HTTP keeps serving after the portal is gone
		resp, _ = a.get("/ping")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = a.get("/nowhere")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("credentials survive a reboot", func(t *testing.T) {
		stored, err := a.creds.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, credstore.Credentials{Name: "HomeNet", Passphrase: "hunter22"}, stored)

		rebooted := newAppliance(t, fs, connmgr.DefaultRetryPolicy(), neighbourhood...)
		rebooted.manager.Initialize()
		assert.Equal(t, connmgr.Connecting, rebooted.manager.State())
		assert.Equal(t, 0, rebooted.manager.Attempts())
		started, _ := rebooted.radio.APStarted()
		assert.False(t, started)

		rebooted.step()
		assert.Equal(t, connmgr.Connected, rebooted.manager.State())
	})
}

func TestWrongPassphraseFallsBackToPortal(t *testing.T) {
	policy := connmgr.RetryPolicy{MaxAttempts: 4, RetryDelay: connmgr.DefaultRetryPolicy().RetryDelay}
	a := newAppliance(t, kvstore.NewMemoryStore(), policy, neighbourhood...)
	require.NoError(t, a.creds.Save(context.Background(), credstore.Credentials{Name: "HomeNet", Passphrase: "wrong"}))

	a.manager.Initialize()
	require.Equal(t, connmgr.Connecting, a.manager.State())

	for i := 1; i < policy.MaxAttempts; i++ {
		a.waitRetryWindow()
		a.steps(5)
		require.Equal(t, connmgr.Connecting, a.manager.State())
	}
	_, body := a.get("/status")
	assert.Equal(t, "Connecting to: HomeNet (attempt 3/4)", body)

	a.waitRetryWindow()
	assert.Equal(t, connmgr.Portal, a.manager.State())
	assert.Equal(t, 1, a.status.Count(status.AssociationFailed))
	assert.Equal(t, policy.MaxAttempts, a.radio.CountCalls("Associate"))
	assert.True(t, a.dns.Running())

	a.steps(50)
	assert.Equal(t, 1, a.status.Count(status.AssociationFailed))
}

func TestLinkLossReconnects(t *testing.T) {
	a := newAppliance(t, kvstore.NewMemoryStore(), connmgr.DefaultRetryPolicy(), neighbourhood...)
	require.NoError(t, a.creds.Save(context.Background(), credstore.Credentials{Name: "Cafe", Passphrase: "latte"}))

	a.manager.Initialize()
	a.step()
	require.Equal(t, connmgr.Connected, a.manager.State())

	a.radio.SetLinkUp(false)
	_, body := a.get("/status")
	assert.Contains(t, body, "Cafe")
	assert.NotContains(t, body, "Connected")

	a.step()
	assert.Equal(t, connmgr.Connecting, a.manager.State())
	last, _ := a.status.Last()
	assert.Equal(t, status.Reconnecting, last)

	a.step()
	assert.Equal(t, connmgr.Connected, a.manager.State())
	assert.Equal(t, 2, a.status.Count(status.Connected))
}

func TestForgetOverHTTP(t *testing.T) {
	a := newAppliance(t, kvstore.NewMemoryStore(), connmgr.DefaultRetryPolicy(), neighbourhood...)
	require.NoError(t, a.creds.Save(context.Background(), credstore.Credentials{Name: "Cafe", Passphrase: "latte"}))
	a.manager.Initialize()
	a.step()
	require.True(t, a.manager.IsConnected())

	for i := 0; i < 2; i++ {
		resp, body := a.get("/forget")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "WiFi credentials cleared.", body)
		a.step()

		assert.Equal(t, connmgr.Portal, a.manager.State())
		assert.True(t, a.manager.Credentials().Empty())
	}

	stored, err := a.creds.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Empty())
	assert.True(t, a.dns.Running())
}

func TestPortalPreemptsConnectionAttempt(t *testing.T) {
	a := newAppliance(t, kvstore.NewMemoryStore(), connmgr.DefaultRetryPolicy(), neighbourhood...)
	require.NoError(t, a.creds.Save(context.Background(), credstore.Credentials{Name: "Gone", Passphrase: "x"}))
	a.manager.Initialize()
	for i := 0; i < 3; i++ {
		a.waitRetryWindow()
	}
	require.Equal(t, 3, a.manager.Attempts())

	resp, _ := a.post("/portal", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	a.step()

	assert.Equal(t, connmgr.Portal, a.manager.State())
	assert.Equal(t, 0, a.status.Count(status.AssociationFailed))
}

func TestEmptySSIDRejectedOverHTTP(t *testing.T) {
	a := newAppliance(t, kvstore.NewMemoryStore(), connmgr.DefaultRetryPolicy(), neighbourhood...)
	a.manager.Initialize()

	resp, body := a.post("/save", `{"ssid":"","pass":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "SSID missing", body)

	a.step()
	assert.Equal(t, connmgr.Portal, a.manager.State())
}
