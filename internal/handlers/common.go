// Package handlers provides the HTTP handlers of the probe exporter and
// common response helpers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/gate"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// WriteJSONResponse writes a JSON response with the given status code.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSONResponse(w, statusCode, map[string]string{"error": message})
}

// HealthHandler returns the health check handler.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// FeatureAnswer is the response to a single-feature query.
type FeatureAnswer struct {
	Feature cpufeatures.Feature `json:"feature"`
	Present bool                `json:"present"`
}

// FeaturesHandler serves the snapshot returned by probe.  With
// ?feature=NAME only that feature is answered.
func FeaturesHandler(probe func() *cpufeatures.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		snap := probe()

		if name := r.URL.Query().Get("feature"); name != "" {
			f, err := cpufeatures.ParseFeature(name)
			if err != nil {
				WriteJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			WriteJSONResponse(w, http.StatusOK, FeatureAnswer{Feature: f, Present: snap.Has(f)})
			return
		}
		WriteJSONResponse(w, http.StatusOK, snap)
	}
}

// WorkloadsHandler serves the gating decisions for workloads against src.
func WorkloadsHandler(src cpufeatures.FeatureSource, workloads []gate.Workload) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readOnly(w, r) {
			return
		}
		WriteJSONResponse(w, http.StatusOK, gate.Evaluate(src, workloads))
	}
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// CORSWrapper wraps a read-only handler with CORS headers so dashboards on
// other origins can query it.
func CORSWrapper(allowedOrigin string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := allowedOrigin
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}
