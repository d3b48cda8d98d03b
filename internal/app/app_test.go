package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootlicense/internal/config"
	"bootlicense/internal/security"
)

const testHardwareID = "a1b2c3d4e5f6g7h8"

func licenseServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": "ok",
			"data": map[string]any{
				"license_key":           req["license_key"],
				"client_name":           "Clinic Norte",
				"client_identification": "900123456",
				"expiration_date":       time.Now().AddDate(1, 0, 0).UTC().Format(time.RFC3339),
				"features":              []string{"reports"},
				"status":                "active",
				"days_remaining":        365,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.License.StorePath = filepath.Join(t.TempDir(), "license.dat")
	cfg.API.BaseURL = baseURL
	cfg.API.BaseDelay = time.Millisecond
	cfg.API.MaxDelay = time.Millisecond
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(testConfig(t, licenseServer(t).URL), logger, WithHardwareID(security.StaticHardwareID(testHardwareID)))
	require.NoError(t, err)
	return a
}

func getJSON(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, reader))

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestApplication_ActivateThroughRouter(t *testing.T) {
	a := newTestApp(t)

	code, body := getJSON(t, a.Router, http.MethodGet, "/api/license/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "uninitialized", body["state"])
	assert.Equal(t, testHardwareID, body["hardware_id"])

	code, body = getJSON(t, a.Router, http.MethodPost, "/api/license/activate", `{"license_key":"boot-2024-abcd-1234"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, body = getJSON(t, a.Router, http.MethodGet, "/api/license/features/reports", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["enabled"])

	assert.True(t, a.Engine.IsValid())
}

func TestApplication_HealthAndNotFound(t *testing.T) {
	a := newTestApp(t)

	code, body := getJSON(t, a.Router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = getJSON(t, a.Router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["trace_id"])
}

func TestApplication_ServePushesTransitions(t *testing.T) {
	a := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	assert.Equal(t, "connection", read()["type"])

	resp, err := http.Post(base+"/api/license/activate", "application/json",
		strings.NewReader(`{"license_key":"BOOT-2024-ABCD-1234"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// uninitialized -> activating -> active
	var states []string
	for len(states) < 2 {
		msg := read()
		if msg["type"] != "license:transition" {
			continue
		}
		data := msg["data"].(map[string]any)
		states = append(states, data["to"].(string))
	}
	assert.Equal(t, []string{"activating", "active"}, states)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestActivationTimeout(t *testing.T) {
	cfg := config.APIConfig{MaxAttempts: 3, Timeout: 10 * time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 50*time.Second, activationTimeout(cfg))
}
