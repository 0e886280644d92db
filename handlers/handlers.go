package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"floodsentry/detect/adminauth"
	"floodsentry/detect/engine"
	"floodsentry/detect/mitigate"
)

// API exposes the detection core to dashboards and operators. Read paths
// are deliberately side-effect free: they use the engine's diagnostic
// queries, never the recency-mutating cache accessors.
type API struct {
	engine    *engine.Engine
	mitigator *mitigate.Mitigator
	guard     *adminauth.Guard
}

// New creates the API layer.
func New(eng *engine.Engine, mit *mitigate.Mitigator, guard *adminauth.Guard) *API {
	return &API{engine: eng, mitigator: mit, guard: guard}
}

// Register attaches all API routes to the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", a.Stats)
	mux.HandleFunc("/api/offenders", a.Offenders)
	mux.HandleFunc("/api/source", a.Source)
	mux.HandleFunc("/api/blocked", a.Blocked)
	mux.HandleFunc("/api/actions", a.Actions)
	mux.HandleFunc("/api/mitigation", a.MitigationStatus)
	mux.HandleFunc("/api/unblock", a.guard.Middleware(a.Unblock))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// Stats serves the current window metrics: entropy, anomaly score,
// requests per second, uniques, drop counters.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Stats())
}

// Offenders serves the top-n tracked sources by threat score.
func (a *API) Offenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := 20
	if s := r.URL.Query().Get("n"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	writeJSON(w, http.StatusOK, a.engine.TopOffenders(n))
}

// Source serves one source's record. A purely diagnostic read: it must not
// promote the key in the cache's recency order.
func (a *API) Source(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing key parameter"})
		return
	}
	rec, ok := a.engine.QueryState(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"exists": false, "key": key})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Blocked serves all currently blocked sources.
func (a *API) Blocked(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.mitigator.BlockedSources())
}

// Actions serves recent mitigation actions, newest first.
func (a *API) Actions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := 50
	if s := r.URL.Query().Get("n"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			n = v
		}
	}
	writeJSON(w, http.StatusOK, a.mitigator.RecentActions(n))
}

// MitigationStatus serves mitigation counters.
func (a *API) MitigationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.mitigator.GetStatus())
}

// Unblock lifts a block and forgets the source's escalation history.
// JWT-protected; see detect/adminauth.
func (a *API) Unblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing key parameter"})
		return
	}
	found := a.mitigator.Unblock(key)
	a.engine.RecordAction(key, "unblocked")
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "was_blocked": found})
}
