package http

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/fieldops/dispatch-gateway/services/api/config"
	"github.com/fieldops/dispatch-gateway/services/api/db/sqlite"
	"github.com/fieldops/dispatch-gateway/services/api/dispatch"
)

type testEnv struct {
	store       *sqlite.Store
	server      *Server
	storageRoot string
}

func newTestEnv(t *testing.T, dispatchConfig map[string]string, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	for k, v := range dispatchConfig {
		if err := store.SetDispatchConfigValue(ctx, k, v); err != nil {
			t.Fatalf("set config: %v", err)
		}
	}

	cfg := config.Config{
		Port:           8080,
		StorageRoot:    t.TempDir(),
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
		RateBurst:      20,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc := dispatch.NewService(store, dispatch.ServiceConfig{StorageRoot: cfg.StorageRoot}, zerolog.Nop())
	return &testEnv{
		store:       store,
		server:      New(cfg, svc, store, zerolog.Nop()),
		storageRoot: cfg.StorageRoot,
	}
}

func enabled(key string) map[string]string {
	return map[string]string{
		dispatch.KeyAPIEnabled: "1",
		dispatch.KeyAPIKey:     key,
	}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

var ingestionEndpoints = []struct {
	path   string
	method string
	body   string
}{
	{"/api/dispatch/position", http.MethodPost, `{"radio_dmr_id":"1","latitude":45.1,"longitude":7.6}`},
	{"/api/dispatch/transmission", http.MethodPost, `{"slot":"1","radio_dmr_id":"1","talkgroup_id":"100"}`},
	{"/api/dispatch/text_message", http.MethodPost, `{"slot":"1","from_radio_dmr_id":"1","message_text":"hi"}`},
	{"/api/dispatch/emergency", http.MethodPost, `{"radio_dmr_id":"1"}`},
	{"/api/dispatch/audio", http.MethodPost, ``},
	{"/api/dispatch/event", http.MethodPost, `{"event_type":"x"}`},
	{"/api/dispatch/config", http.MethodGet, ``},
}

func TestDisabledAPIReturns503Everywhere(t *testing.T) {
	for _, cfg := range []map[string]string{
		{dispatch.KeyAPIEnabled: "0", dispatch.KeyAPIKey: "k"},
		{dispatch.KeyAPIEnabled: "true"},
	} {
		env := newTestEnv(t, cfg)
		for _, ep := range ingestionEndpoints {
			for _, method := range []string{ep.method, http.MethodPut} {
				w := env.do(t, method, ep.path, "k", ep.body)
				if w.Code != http.StatusServiceUnavailable {
					t.Errorf("%s %s = %d, want 503", method, ep.path, w.Code)
				}
			}
		}
	}
}

func TestBadKeyReturns401Everywhere(t *testing.T) {
	env := newTestEnv(t, enabled("secret"))
	for _, ep := range ingestionEndpoints {
		for _, key := range []string{"", "wrong"} {
			for _, method := range []string{ep.method, http.MethodDelete} {
				w := env.do(t, method, ep.path, key, ep.body)
				if w.Code != http.StatusUnauthorized {
					t.Errorf("%s %s key=%q = %d, want 401", method, ep.path, key, w.Code)
				}
			}
		}
	}

	n, err := env.store.CountRows(context.Background(), "dispatch_events")
	if err != nil || n != 0 {
		t.Errorf("events = %d, %v, want none", n, err)
	}
}

func TestWrongMethodReturns405AfterGate(t *testing.T) {
	env := newTestEnv(t, enabled("secret"))

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/dispatch/position"},
		{http.MethodPut, "/api/dispatch/transmission"},
		{http.MethodGet, "/api/dispatch/audio"},
		{http.MethodPost, "/api/dispatch/config"},
	}
	for _, tt := range tests {
		w := env.do(t, tt.method, tt.path, "secret", `{}`)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s = %d, want 405", tt.method, tt.path, w.Code)
		}
		if got := decode(t, w)["error"]; got != dispatch.ErrMethodNotAllowed.Error() {
			t.Errorf("error = %v", got)
		}
	}
}

func TestPositionEndpoint(t *testing.T) {
	env := newTestEnv(t, enabled(""))
	body := `{"radio_dmr_id":"2220001","latitude":45.07,"longitude":7.68}`

	first := decode(t, env.do(t, http.MethodPost, "/api/dispatch/position", "", body))
	second := decode(t, env.do(t, http.MethodPost, "/api/dispatch/position", "", body))
	if first["success"] != true || first["position_id"] == nil {
		t.Fatalf("unexpected response %v", first)
	}
	if first["position_id"] == second["position_id"] {
		t.Error("retries must create distinct rows")
	}

	w := env.do(t, http.MethodPost, "/api/dispatch/position", "", `{"radio_dmr_id":"2220001","latitude":45.07}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing longitude = %d, want 400", w.Code)
	}
	if msg := decode(t, w)["error"].(string); !strings.Contains(msg, "longitude") {
		t.Errorf("error %q should name longitude", msg)
	}

	n, _ := env.store.CountRows(context.Background(), "dispatch_positions")
	if n != 2 {
		t.Errorf("positions = %d, want 2", n)
	}

	if w := env.do(t, http.MethodPost, "/api/dispatch/position", "", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", w.Code)
	}
}

func TestTransmissionEndpoint(t *testing.T) {
	env := newTestEnv(t, enabled("k"))

	w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"slot":"A","radio_dmr_id":"1","talkgroup_id":"100"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d %s", w.Code, w.Body.String())
	}
	started := decode(t, w)
	id := int64(started["transmission_id"].(float64))

	end := `{"action":"end","transmission_id":` + strconv.FormatInt(id, 10) + `}`
	w = env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", end)
	if w.Code != http.StatusOK {
		t.Fatalf("end = %d %s", w.Code, w.Body.String())
	}
	if _, has := decode(t, w)["transmission_id"]; has {
		t.Error("end response should not carry transmission_id")
	}

	if w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", end); w.Code != http.StatusBadRequest {
		t.Errorf("second end = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"action":"end","transmission_id":424242}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown end = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"action":"end"}`); w.Code != http.StatusBadRequest {
		t.Errorf("end without id = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"action":"pause","slot":"A","radio_dmr_id":"1","talkgroup_id":"100"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid action = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"action":"","slot":"A","radio_dmr_id":"1","talkgroup_id":"100"}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty action = %d, want 400", w.Code)
	}
	if active, err := env.store.ActiveTransmissions(context.Background()); err != nil || len(active) != 0 {
		t.Errorf("rejected actions opened transmissions: %v %v", active, err)
	}
}

func TestTextEmergencyAndEventEndpoints(t *testing.T) {
	env := newTestEnv(t, enabled(""))

	tests := []struct {
		path  string
		body  string
		idKey string
	}{
		{"/api/dispatch/text_message", `{"slot":"1","from_radio_dmr_id":"1","message_text":"hello"}`, "message_id"},
		{"/api/dispatch/emergency", `{"radio_dmr_id":"1","latitude":45.0,"longitude":7.0}`, "emergency_id"},
		{"/api/dispatch/event", `{"event_type":"custom","event_data":{"a":1}}`, "event_id"},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodPost, tt.path, "", tt.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d %s", tt.path, w.Code, w.Body.String())
		}
		resp := decode(t, w)
		if resp["success"] != true || resp[tt.idKey] == nil {
			t.Errorf("%s response = %v", tt.path, resp)
		}
	}

	events, err := env.store.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].EventType != "custom" || events[1].EventType != dispatch.EventEmergencyCode || events[2].EventType != dispatch.EventTextMessage {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestConfigEndpointHidesKey(t *testing.T) {
	env := newTestEnv(t, enabled("secret"))

	w := env.do(t, http.MethodGet, "/api/dispatch/config", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("config = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") || strings.Contains(w.Body.String(), "api_key") {
		t.Errorf("config leaks the key: %s", w.Body.String())
	}
	cfg := decode(t, w)["config"].(map[string]any)
	if cfg["api_enabled"] != true || cfg["max_audio_file_size"] != float64(10485760) {
		t.Errorf("unexpected config %v", cfg)
	}
}

func multipartRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("audio", fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/dispatch/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAudioEndpoint(t *testing.T) {
	cfg := enabled("")
	cfg[dispatch.KeyMaxAudioFileSize] = "16"
	env := newTestEnv(t, cfg)
	meta := map[string]string{"slot": "1", "radio_dmr_id": "2220001", "talkgroup_id": "222", "duration_seconds": "1.5"}

	w := httptest.NewRecorder()
	env.server.Engine().ServeHTTP(w, multipartRequest(t, meta, "clip.wav", []byte("RIFFdata")))
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	filePath, _ := resp["file_path"].(string)
	if resp["audio_id"] == nil || !strings.HasPrefix(filePath, "uploads/dispatch/audio/") || !strings.HasSuffix(filePath, ".wav") {
		t.Fatalf("unexpected response %v", resp)
	}
	data, err := os.ReadFile(filepath.Join(env.storageRoot, filepath.FromSlash(filePath)))
	if err != nil || string(data) != "RIFFdata" {
		t.Errorf("stored file = %q, %v", data, err)
	}

	t.Run("missing file", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.server.Engine().ServeHTTP(w, multipartRequest(t, meta, "", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("json body counts as missing file", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/dispatch/audio", "", `{"slot":"1"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.server.Engine().ServeHTTP(w, multipartRequest(t, map[string]string{"slot": "1"}, "a.wav", []byte("x")))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("oversized file writes nothing", func(t *testing.T) {
		before, _ := env.store.CountRows(context.Background(), "dispatch_audio_recordings")
		entries, _ := os.ReadDir(filepath.Join(env.storageRoot, "uploads", "dispatch", "audio"))

		w := httptest.NewRecorder()
		env.server.Engine().ServeHTTP(w, multipartRequest(t, meta, "big.wav", bytes.Repeat([]byte("a"), 17)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}

		after, _ := env.store.CountRows(context.Background(), "dispatch_audio_recordings")
		afterEntries, _ := os.ReadDir(filepath.Join(env.storageRoot, "uploads", "dispatch", "audio"))
		if after != before || len(afterEntries) != len(entries) {
			t.Errorf("rows %d->%d files %d->%d", before, after, len(entries), len(afterEntries))
		}
	})
}

func TestAudioBodyCappedBeforeParsing(t *testing.T) {
	cfg := enabled("")
	cfg[dispatch.KeyMaxAudioFileSize] = "16"
	env := newTestEnv(t, cfg, func(c *config.Config) { c.MaxBodyBytes = 64 })
	meta := map[string]string{"slot": "1", "radio_dmr_id": "2220001", "talkgroup_id": "222"}

	w := httptest.NewRecorder()
	env.server.Engine().ServeHTTP(w, multipartRequest(t, meta, "huge.wav", bytes.Repeat([]byte("a"), 64<<10)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "too large") {
		t.Errorf("body = %s, want a size error", w.Body.String())
	}

	rows, err := env.store.CountRows(context.Background(), "dispatch_audio_recordings")
	if err != nil || rows != 0 {
		t.Errorf("rows = %d, %v, want 0", rows, err)
	}
	if entries, _ := os.ReadDir(filepath.Join(env.storageRoot, "uploads", "dispatch", "audio")); len(entries) != 0 {
		t.Errorf("files written: %d", len(entries))
	}
}

func TestConsoleRoutes(t *testing.T) {
	env := newTestEnv(t, enabled("k"))

	w := env.do(t, http.MethodPost, "/api/dispatch/transmission", "k", `{"slot":"A","radio_dmr_id":"1","talkgroup_id":"100"}`)
	id := int64(decode(t, w)["transmission_id"].(float64))

	w = env.do(t, http.MethodGet, "/api/v1/console/transmissions/active", "k", "")
	if w.Code != http.StatusOK || w.Header().Get("X-API-Version") != "v1" {
		t.Fatalf("active = %d %v", w.Code, w.Header())
	}
	if data := decode(t, w)["data"].([]any); len(data) != 1 {
		t.Errorf("active = %v, want one", data)
	}

	w = env.do(t, http.MethodGet, "/api/v1/console/transmissions/"+strconv.FormatInt(id, 10), "k", "")
	if w.Code != http.StatusOK || decode(t, w)["meta"].(map[string]any)["open"] != true {
		t.Errorf("get transmission = %d %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodGet, "/api/v1/console/transmissions/999", "k", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown transmission = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/console/transmissions/abc", "k", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/console/events?limit=1", "k", "")
	if w.Code != http.StatusOK {
		t.Fatalf("events = %d", w.Code)
	}
	if data := decode(t, w)["data"].([]any); len(data) != 1 {
		t.Errorf("events = %v, want one", data)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/console/events", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("console without key = %d, want 401", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, enabled(""), func(c *config.Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, "/api/dispatch/config", "", "").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}

func TestHealthAndPreflight(t *testing.T) {
	env := newTestEnv(t, enabled("k"))

	if w := env.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w := env.do(t, http.MethodOptions, "/api/dispatch/position", "", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Errorf("allow headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
	if w := env.do(t, http.MethodGet, "/metrics", "", ""); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}
