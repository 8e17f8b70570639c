package indygo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const refreshDevicesHTML = `<html><script>
    var currentPool = {
        "id": 123,
        "chlorineRate": 0.7,
        "modules": [
            {"type": "lr-mb-10", "serialNumber": "GATEWAY123", "name": "Gateway-01"},
            {"id": 9, "type": "lr-pc", "serialNumber": "LRPC123", "name": "Pool-ABC"}
        ]
    };
    var ipxModule = {
        "outputs": [
            {"ipxData": {"pHSetpoint": 7.4}},
            {"ipxData": {"saltValue": 3.2}}
        ]
    };
    var programsModule9 = {"programs": [
        {"id": "prog_1", "programCharacteristics": {"programType": 4, "mode": 2}}
    ]};
</script></html>`

const refreshStatusJSON = `{
    "temperature": 26.0,
    "temperatureTime": "2023-06-01T09:00:00Z",
    "ph": 7.1,
    "chlorineRate": 0.9,
    "modules": [
        {"id": 9, "type": "lr-pc", "name": "Pool-ABC"}
    ]
}`

func TestRefresh(t *testing.T) {
	var statusPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pools/123/devices":
			w.Write([]byte(refreshDevicesHTML))
		case "/module/poolData/GATEWAY123/ABC":
			statusPath = r.URL.Path
			if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
				t.Error("Expected XHR header on status request")
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(refreshStatusJSON))
		default:
			t.Errorf("Unexpected request path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	client := NewClient(session, "123", NormalizeOptions{}, testLogger())

	snap, err := client.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if statusPath == "" {
		t.Fatal("Expected status endpoint keyed by discovered identifiers")
	}
	if snap.Address != "GATEWAY123" || snap.RelayID != "ABC" {
		t.Errorf("Unexpected identifiers: %s / %s", snap.Address, snap.RelayID)
	}

	// Status JSON wins over scraped metadata on conflicting keys.
	if snap.Sensors["chlorineRate"].Value != 0.9 {
		t.Errorf("Expected JSON chlorineRate 0.9 to win, got %v", snap.Sensors["chlorineRate"].Value)
	}
	if snap.Sensors["temperature"].Value != 26.0 {
		t.Errorf("Expected temperature 26.0, got %v", snap.Sensors["temperature"].Value)
	}

	// Scraped ipxModule merges in under its own namespace.
	if snap.Sensors["ph_setpoint"].Value != 7.4 {
		t.Errorf("Expected scraped ph_setpoint 7.4, got %v", snap.Sensors["ph_setpoint"].Value)
	}
	if snap.Sensors["ipx_salt"].Value != 3.2 {
		t.Errorf("Expected scraped salt 3.2, got %v", snap.Sensors["ipx_salt"].Value)
	}

	// Scraped programs back-fill the module from the status endpoint.
	module, ok := snap.Modules["9"]
	if !ok {
		t.Fatal("Expected module 9 in snapshot")
	}
	if module.FiltrationProgram == nil {
		t.Fatal("Expected filtration program from scraped page data")
	}
	if module.FiltrationProgram["id"] != "prog_1" {
		t.Errorf("Expected program prog_1, got %v", module.FiltrationProgram["id"])
	}

	// The write path sees the refreshed module cache.
	record, ok := client.moduleRecord("9")
	if !ok || record.Name != "Pool-ABC" {
		t.Errorf("Expected cached module record, got %+v (ok=%v)", record, ok)
	}
}

func TestRefreshDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance page</html>"))
	}))
	defer srv.Close()

	session := newTestSession(t, srv.URL)
	client := NewClient(session, "123", NormalizeOptions{}, testLogger())

	if _, err := client.Refresh(context.Background()); err == nil {
		t.Fatal("Expected discovery error on markup change")
	}
}
