package health

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// Paths served by Mount.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
	VersionPath   = "/version"
)

// BuildInfo is served on VersionPath.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Mount registers the liveness, readiness and version handlers on mux.
func Mount(mux *http.ServeMux, c *Checker, info BuildInfo) {
	mux.HandleFunc(LivenessPath, c.LivenessHandler())
	mux.HandleFunc(ReadinessPath, c.ReadinessHandler())
	mux.HandleFunc(VersionPath, VersionHandler(info))
}

// LivenessHandler always answers 200 while the process runs.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.Liveness(r.Context()))
	}
}

// ReadinessHandler answers 200 when every check passes and 503 otherwise.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		status := c.Readiness(r.Context())
		code := http.StatusOK
		if !status.Ready() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// VersionHandler serves info. An empty GoVersion is filled in.
func VersionHandler(info BuildInfo) http.HandlerFunc {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowed(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

func allowed(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
