package doorman

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
)

// Handler returns the admission HTTP API for the core. The identity checked
// is the ip query parameter, or the request's remote address if absent (so a
// proxy behind the RealIP middleware can simply forward requests).
func (c *Core) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bin", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		respondBin(w, c.GetBin([]byte(clientAddr(r))))
	})
	mux.HandleFunc("/v1/connecting", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		respondBin(w, c.Connecting([]byte(clientAddr(r))))
	})
	mux.HandleFunc("/v1/disconnected", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		c.Disconnected([]byte(clientAddr(r)))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/misbehaved", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		weight, err := strconv.Atoi(r.URL.Query().Get("weight"))
		if err != nil {
			http.Error(w, "invalid weight", http.StatusBadRequest)
			return
		}
		c.Misbehaved(weight, []byte(clientAddr(r)))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/whitelist", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		respondJSON(w, map[string]bool{"match": c.IsInWhitelist([]byte(clientAddr(r)))})
	})
	mux.HandleFunc("/v1/proxylist", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		respondJSON(w, map[string]bool{"match": c.IsInProxylist([]byte(clientAddr(r)))})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		metrics.WritePrometheus(w, true)
	})
	return mux
}

func clientAddr(r *http.Request) string {
	if ip := r.URL.Query().Get("ip"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func respondBin(w http.ResponseWriter, bin int) {
	respondJSON(w, map[string]int{"bin": bin})
}

func respondJSON(w http.ResponseWriter, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}
