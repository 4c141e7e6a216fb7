package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/webio-bridge/internal/bridge"
	"github.com/nerrad567/webio-bridge/internal/history"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/config"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/database"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/webio-bridge/internal/webio"
	"github.com/nerrad567/webio-bridge/migrations"
)

// testEnv is a server over a real bridge with unstarted sessions and a
// migrated SQLite history.
type testEnv struct {
	srv      *Server
	bridge   *bridge.Bridge
	history  *history.Repository
	sessions map[string]*webio.Session
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	repo := history.NewRepository(db.DB)

	sessions := map[string]*webio.Session{}
	var list []*webio.Session
	for _, id := range []string{"garage", "shed"} {
		queueSize := 0
		if id == "shed" {
			queueSize = 1
		}
		device := webio.NewDevice(webio.DeviceConfig{ID: id, Host: "127.0.0.1", Port: 1, QueueSize: queueSize})
		s := webio.NewSession(device, webio.SessionConfig{})
		sessions[id] = s
		list = append(list, s)
	}

	b, err := bridge.New(bridge.Options{BridgeID: "test", Sessions: list, Commands: repo})
	if err != nil {
		t.Fatalf("bridge.New() error: %v", err)
	}

	log := testLogger()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:  log,
		Bridge:  b,
		History: repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return &testEnv{srv: srv, bridge: b, history: repo, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["version"] != "test" {
		t.Errorf("version = %v", body["version"])
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded with no devices connected", body["status"])
	}
	if body["devices"] != float64(2) {
		t.Errorf("devices = %v, want 2", body["devices"])
	}
}

func TestHandleListDevices(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Devices []webio.Stats `json:"devices"`
		Count   int           `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 || body.Devices[0].DeviceID != "garage" {
		t.Errorf("body = %+v", body)
	}
}

func TestHandleGetDevice(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		target     string
		wantStatus int
	}{
		{"/api/v1/devices/garage", http.StatusOK},
		{"/api/v1/devices/attic", http.StatusNotFound},
		{"/api/v1/devices/" + strings.Repeat("x", maxDeviceIDLen+1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleSubmitOutput(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "on",
			target:     "/api/v1/devices/garage/outputs/1",
			body:       `{"action":"on"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "pulse",
			target:     "/api/v1/devices/garage/outputs/8",
			body:       `{"action":"pulse","duration_ms":200}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "bad json",
			target:     "/api/v1/devices/garage/outputs/1",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "pin not a number",
			target:     "/api/v1/devices/garage/outputs/one",
			body:       `{"action":"on"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.ErrCodeInvalidParameters,
		},
		{
			name:       "pin out of range",
			target:     "/api/v1/devices/garage/outputs/9",
			body:       `{"action":"on"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.ErrCodeInvalidParameters,
		},
		{
			name:       "unknown action",
			target:     "/api/v1/devices/garage/outputs/1",
			body:       `{"action":"blink"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.ErrCodeInvalidCommand,
		},
		{
			name:       "pulse without duration",
			target:     "/api/v1/devices/garage/outputs/1",
			body:       `{"action":"pulse"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   bridge.ErrCodeInvalidParameters,
		},
		{
			name:       "unknown device",
			target:     "/api/v1/devices/attic/outputs/1",
			body:       `{"action":"on"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   bridge.ErrCodeNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if tt.wantCode != "" {
				var apiErr Error
				decodeBody(t, rec, &apiErr)
				if apiErr.Code != tt.wantCode {
					t.Errorf("code = %s, want %s", apiErr.Code, tt.wantCode)
				}
				return
			}

			var sub bridge.Submission
			decodeBody(t, rec, &sub)
			if sub.ID == "" || sub.Command == "" {
				t.Errorf("submission = %+v", sub)
			}
			if n := env.sessions["garage"].Device().Queue().Len(); n != 1 {
				t.Errorf("queue length = %d, want 1", n)
			}
		})
	}
}

func TestHandleSubmitOutput_QueueFull(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/v1/devices/shed/outputs/1", `{"action":"on"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/devices/shed/outputs/2", `{"id":"full-1","action":"on"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	commands, err := env.history.RecentCommands(context.Background(), "shed", 10)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, c := range commands {
		if c.ID == "full-1" {
			found = true
			if c.Result != "failed:"+bridge.ErrCodeQueueFull {
				t.Errorf("result = %q", c.Result)
			}
		}
	}
	if !found {
		t.Error("refused command missing from command log")
	}
}

func TestHandleGetPinHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		err := env.history.RecordPinEvent(ctx, webio.PinEvent{
			DeviceID: "garage",
			Pin:      i,
			Kind:     webio.KindInput,
			On:       true,
			At:       time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices/garage/history?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		History []history.PinEventRecord `json:"history"`
		Count   int                      `json:"count"`
	}
	decodeBody(t, rec, &body)
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
	if body.History[0].Pin != 3 {
		t.Errorf("newest pin = %d, want 3", body.History[0].Pin)
	}
}

func TestHandleGetCommandLog(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/v1/devices/garage/outputs/4", `{"id":"cmd-4","action":"toggle"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/devices/garage/commands", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Commands []history.CommandRecord `json:"commands"`
	}
	decodeBody(t, rec, &body)
	if len(body.Commands) != 1 {
		t.Fatalf("commands = %+v", body.Commands)
	}
	c := body.Commands[0]
	if c.ID != "cmd-4" || c.Command != "output4=toggle" || c.Source != history.SourceAPI || c.Result != history.ResultQueued {
		t.Errorf("command = %+v", c)
	}
}

func TestHistoryEndpoints_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"unknown device", "/api/v1/devices/attic/history", http.StatusNotFound},
		{"bad limit", "/api/v1/devices/garage/history?limit=abc", http.StatusBadRequest},
		{"zero limit", "/api/v1/devices/garage/commands?limit=0", http.StatusBadRequest},
		{"limit too large", "/api/v1/devices/garage/history?limit=501", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	env.srv.history = nil
	if rec := env.do(t, http.MethodGet, "/api/v1/devices/garage/history", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without history status = %d, want 503", rec.Code)
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"10", 10, false},
		{"500", 500, false},
		{"501", 0, true},
		{"-1", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = (%d, %v)", tt.raw, got, err)
		}
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	tests := []struct {
		origin    string
		wantAllow string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		env.srv.buildRouter().ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
			t.Errorf("origin %s: allow = %q, want %q", tt.origin, got, tt.wantAllow)
		}
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := newTestEnv(t)

	r := chi.NewRouter()
	r.Use(env.srv.recoveryMiddleware)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer env.srv.Close() //nolint:errcheck // Test cleanup

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start error: %v", err)
	}
}

func dialWebSocket(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func TestWebSocket_PinChangedBroadcast(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWebSocket(t, env)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelPinChanged}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	if env.srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", env.srv.hub.ClientCount())
	}

	env.srv.hub.HandlePinEvent(webio.PinEvent{
		DeviceID: "garage",
		Pin:      6,
		Kind:     webio.KindOutput,
		On:       true,
		At:       time.Now(),
	})

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelPinChanged {
		t.Fatalf("event = %+v", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", event.Payload)
	}
	if payload["device_id"] != "garage" || payload["pin"] != float64(6) || payload["kind"] != "output" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWebSocket(t, env)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "dance", ID: "d1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}
}

func TestWebSocket_UnsubscribedClientGetsNothing(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWebSocket(t, env)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s",
		Payload: WSSubscribePayload{Channels: []string{ChannelCommandCompleted}},
	}); err != nil {
		t.Fatal(err)
	}
	readWS(t, ws)

	env.srv.hub.HandlePinEvent(webio.PinEvent{DeviceID: "garage", Pin: 1, Kind: webio.KindInput})
	env.srv.hub.HandleCommandOutcome(webio.CommandOutcome{
		DeviceID: "garage",
		Command:  "output1=on",
		Result:   webio.ResultAcked,
		Attempts: 1,
		At:       time.Now(),
	})

	msg := readWS(t, ws)
	if msg.EventType != ChannelCommandCompleted {
		t.Errorf("first event = %s, want %s", msg.EventType, ChannelCommandCompleted)
	}
}
