package doorman_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/doorman-core/doorman/pkg/memstore"
	"github.com/doorman-core/doorman/pkg/netmap"
)

func request(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "192.0.2.50:4242"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBin(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	var obj struct {
		Bin int `json:"bin"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return obj.Bin
}

func TestHandler(t *testing.T) {
	core := openCore(t)
	h := core.Handler()

	if bin := decodeBin(t, request(t, h, http.MethodGet, "/v1/bin?ip=198.51.100.7")); bin != 0 {
		t.Fatalf("expected bin 0, got %d", bin)
	}
	if bin := decodeBin(t, request(t, h, http.MethodPost, "/v1/connecting?ip=198.51.100.7")); bin != 0 {
		t.Fatalf("expected bin 0, got %d", bin)
	}
	if w := request(t, h, http.MethodPost, "/v1/disconnected?ip=198.51.100.7"); w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if w := request(t, h, http.MethodPost, "/v1/misbehaved?ip=198.51.100.7&weight=2"); w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if w := request(t, h, http.MethodPost, "/v1/misbehaved?ip=198.51.100.7&weight=bogus"); w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", w.Code)
	}

	var obj struct {
		Match bool `json:"match"`
	}
	w := request(t, h, http.MethodGet, "/v1/whitelist?ip=203.0.113.5")
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil || !obj.Match {
		t.Fatalf("expected whitelist match (err=%v, body=%s)", err, w.Body.String())
	}
	w = request(t, h, http.MethodGet, "/v1/proxylist?ip=192.0.2.1")
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil || obj.Match {
		t.Fatalf("expected no proxylist match (err=%v, body=%s)", err, w.Body.String())
	}

	if w := request(t, h, http.MethodDelete, "/v1/bin?ip=198.51.100.7"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if w := request(t, h, http.MethodGet, "/v1/connecting?ip=198.51.100.7"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", w.Code)
	}
}

func TestHandlerDefaultsToRemoteAddr(t *testing.T) {
	core := openCore(t)

	if bin := decodeBin(t, request(t, core.Handler(), http.MethodGet, "/v1/bin")); bin != 0 {
		t.Fatalf("expected bin 0, got %d", bin)
	}
	// the record must be keyed by the peer address, sans port
	m := core.Guard.Storage.(*memstore.ClientStore)
	if _, ok, _ := m.InspectClient(context.Background(), "192.0.2.50"); !ok {
		t.Fatalf("record should be keyed by the peer address 192.0.2.50")
	}
}

func TestHandlerMetrics(t *testing.T) {
	core := openCore(t)

	w := request(t, core.Handler(), http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "doorman_") {
		t.Fatalf("expected doorman metrics in output")
	}
}

func TestHandlerRealIP(t *testing.T) {
	core := openCore(t)
	h := netmap.RealIP(core.Proxylist, "X-Real-IP", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.RemoteAddr))
	}))

	// from a trusted proxy, the forwarded identity replaces the peer
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:9999"
	r.Header.Set("X-Real-IP", "198.51.100.7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Body.String(); got != "198.51.100.7:9999" {
		t.Fatalf("expected rewritten remote addr, got %q", got)
	}

	// from anywhere else, the header is ignored
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.50:9999"
	r.Header.Set("X-Real-IP", "198.51.100.7")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Body.String(); got != "192.0.2.50:9999" {
		t.Fatalf("expected unchanged remote addr, got %q", got)
	}

	var logged bool
	h = netmap.RealIP(core.Proxylist, "X-Real-IP", func(*http.Request, error) {
		logged = true
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:9999"
	r.Header.Set("X-Real-IP", "not-an-ip")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if !logged {
		t.Fatalf("expected error callback for malformed forwarded identity")
	}
}
