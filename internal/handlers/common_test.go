package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.uuxo.net/uuxo/cpuprobe/internal/cpufeatures"
	"git.uuxo.net/uuxo/cpuprobe/internal/gate"
)

func testSnapshot() *cpufeatures.Snapshot {
	return &cpufeatures.Snapshot{
		Arch:            "amd64",
		Identity:        cpufeatures.Identity{Vendor: "GenuineIntel"},
		IntelCompatible: true,
		Features: map[cpufeatures.Feature]bool{
			cpufeatures.TSC:  true,
			cpufeatures.CLWB: true,
		},
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestFeaturesHandler(t *testing.T) {
	h := FeaturesHandler(testSnapshot)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/features", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		IntelCompatible bool            `json:"intel_compatible"`
		Features        map[string]bool `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.IntelCompatible)
	assert.True(t, body.Features["CLWB"])
	assert.True(t, body.Features["TSC"])
}

func TestFeaturesHandlerSingle(t *testing.T) {
	h := FeaturesHandler(testSnapshot)

	tests := []struct {
		query   string
		code    int
		present bool
	}{
		{"clwb", http.StatusOK, true},
		{"RDSEED", http.StatusOK, false},
		{"avx512", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/features?feature="+tt.query, nil))
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				assert.Contains(t, rec.Body.String(), "error")
				return
			}
			var ans FeatureAnswer
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
			assert.Equal(t, tt.present, ans.Present)
		})
	}
}

func TestWorkloadsHandler(t *testing.T) {
	h := WorkloadsHandler(testSnapshot(), gate.DefaultCatalog())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/workloads", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var decisions []struct {
		Workload struct {
			Name string `json:"name"`
		} `json:"workload"`
		Enabled bool `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decisions))
	enabled := map[string]bool{}
	for _, d := range decisions {
		enabled[d.Workload.Name] = d.Enabled
	}
	assert.True(t, enabled["tsc"])
	assert.True(t, enabled["cache-clwb"])
	assert.True(t, enabled["cache-flush"])
	assert.False(t, enabled["rdseed"])
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	FeaturesHandler(testSnapshot)(rec, httptest.NewRequest(http.MethodPost, "/features", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestCORSWrapper(t *testing.T) {
	called := false
	h := CORSWrapper("", func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodOptions, "/features", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	h = CORSWrapper("https://dash.example", func(w http.ResponseWriter, r *http.Request) { called = true })
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/features", nil))
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}
