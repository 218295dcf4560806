package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicsentinel/zonewatch/internal/metrics"
	"github.com/civicsentinel/zonewatch/internal/monitor"
	"github.com/civicsentinel/zonewatch/internal/render"
	"github.com/civicsentinel/zonewatch/internal/store"
	"github.com/civicsentinel/zonewatch/pkg/types"
)

type fakeZoneStore struct {
	mu     sync.Mutex
	zones  map[int64]types.Zone
	nextID int64
}

func newFakeZoneStore() *fakeZoneStore {
	return &fakeZoneStore{zones: make(map[int64]types.Zone)}
}

func (f *fakeZoneStore) List(_ context.Context, cameraID string) ([]types.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Zone
	for _, z := range f.zones {
		if z.CameraID == cameraID {
			out = append(out, z)
		}
	}
	return out, nil
}

func (f *fakeZoneStore) Get(_ context.Context, id int64) (types.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zones[id]
	if !ok {
		return types.Zone{}, fmt.Errorf("%w: zone %d", store.ErrNotFound, id)
	}
	return z, nil
}

func (f *fakeZoneStore) Create(_ context.Context, z *types.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	z.ID = f.nextID
	f.zones[z.ID] = *z
	return nil
}

func (f *fakeZoneStore) Update(_ context.Context, z types.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[z.ID]; !ok {
		return fmt.Errorf("%w: zone %d", store.ErrNotFound, z.ID)
	}
	f.zones[z.ID] = z
	return nil
}

func (f *fakeZoneStore) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[id]; !ok {
		return fmt.Errorf("%w: zone %d", store.ErrNotFound, id)
	}
	delete(f.zones, id)
	return nil
}

type fakeAlertStore struct {
	alerts    []types.Alert
	gotFilter store.AlertFilter
}

func (f *fakeAlertStore) List(_ context.Context, filter store.AlertFilter) ([]types.Alert, int64, error) {
	f.gotFilter = filter
	return f.alerts, int64(len(f.alerts)), nil
}

type fakePipeline struct {
	mu      sync.Mutex
	reloads int
	status  monitor.Status
}

func (f *fakePipeline) Status() monitor.Status { return f.status }

func (f *fakePipeline) ReloadZones(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakePipeline) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

type fakeComposer struct{ data []byte }

func (f *fakeComposer) Compose() []byte { return f.data }

type testServer struct {
	server   *Server
	zones    *fakeZoneStore
	alerts   *fakeAlertStore
	pipeline *fakePipeline
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	zones := newFakeZoneStore()
	alerts := &fakeAlertStore{}
	pipeline := &fakePipeline{status: monitor.Status{CameraID: "camera-1", CameraStatus: "online", Running: true}}
	broadcaster := render.NewBroadcaster(zerolog.Nop(), metrics.New())

	s := NewServer(Options{
		Addr:           ":0",
		APIKey:         apiKey,
		AllowedOrigins: []string{"*"},
		CameraID:       "camera-1",
		Zones:          zones,
		Alerts:         alerts,
		Pipeline:       pipeline,
		Broadcaster:    broadcaster,
		Composer:       &fakeComposer{data: []byte("jpeg")},
	}, zerolog.Nop())

	return &testServer{server: s, zones: zones, alerts: alerts, pipeline: pipeline}
}

func (ts *testServer) request(t *testing.T, method, path, apiKey string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v\nbody=%s", err, rec.Body.String())
	}
	return payload
}

func validZonePayload() map[string]any {
	return map[string]any{
		"name":       "front yard",
		"alert_type": "intrusion",
		"coordinates": []map[string]float64{
			{"x": 100, "y": 100}, {"x": 400, "y": 100}, {"x": 400, "y": 400}, {"x": 100, "y": 400},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthReportsDatabaseOutage(t *testing.T) {
	s := NewServer(Options{
		Addr:           ":0",
		AllowedOrigins: []string{"*"},
		CameraID:       "camera-1",
		Zones:          newFakeZoneStore(),
		Alerts:         &fakeAlertStore{},
		Pipeline:       &fakePipeline{},
		Broadcaster:    render.NewBroadcaster(zerolog.Nop(), metrics.New()),
		Ping:           func(context.Context) error { return errors.New("connection refused") },
	}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, "secret")

	if rec := ts.request(t, http.MethodGet, "/api/v1/zones", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want 401", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/api/v1/zones", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/api/v1/zones", "secret", nil); rec.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", rec.Code)
	}

	// Health stays public.
	if rec := ts.request(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", rec.Code)
	}
}

func TestCreateZone(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/zones", "", validZonePayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody=%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data object: %v", body)
	}
	if data["camera_id"] != "camera-1" {
		t.Errorf("camera_id = %v, want camera-1", data["camera_id"])
	}
	if data["active"] != true {
		t.Errorf("active = %v, want true by default", data["active"])
	}
	if ts.pipeline.reloadCount() != 1 {
		t.Errorf("pipeline reloads = %d, want 1", ts.pipeline.reloadCount())
	}
}

func TestCreateZoneRejectsTooFewPoints(t *testing.T) {
	ts := newTestServer(t, "")

	payload := validZonePayload()
	payload["coordinates"] = []map[string]float64{{"x": 1, "y": 1}, {"x": 2, "y": 2}}

	rec := ts.request(t, http.MethodPost, "/api/v1/zones", "", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ts.pipeline.reloadCount() != 0 {
		t.Error("rejected zone must not trigger a reload")
	}
}

func TestUpdateAndDeleteZone(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/api/v1/zones", "", validZonePayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}

	update := validZonePayload()
	update["name"] = "back yard"
	active := false
	update["active"] = active

	rec = ts.request(t, http.MethodPut, "/api/v1/zones/1", "", update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d\nbody=%s", rec.Code, rec.Body.String())
	}

	z, err := ts.zones.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("zone vanished: %v", err)
	}
	if z.Name != "back yard" || z.Active {
		t.Errorf("update not applied: %+v", z)
	}

	rec = ts.request(t, http.MethodDelete, "/api/v1/zones/1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/api/v1/zones/1", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: status = %d, want 404", rec.Code)
	}
	if ts.pipeline.reloadCount() != 3 {
		t.Errorf("pipeline reloads = %d, want 3", ts.pipeline.reloadCount())
	}
}

func TestZoneNotFound(t *testing.T) {
	ts := newTestServer(t, "")
	if rec := ts.request(t, http.MethodGet, "/api/v1/zones/99", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/api/v1/zones/abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestListAlerts(t *testing.T) {
	ts := newTestServer(t, "")
	ts.alerts.alerts = []types.Alert{
		{ID: "a1", CameraID: "camera-1", ZoneID: 1, ZoneName: "yard", Timestamp: time.Now()},
	}

	rec := ts.request(t, http.MethodGet, "/api/v1/alerts?zone_id=1&limit=10&offset=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\nbody=%s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["total"] != float64(1) {
		t.Errorf("total = %v, want 1", body["total"])
	}

	f := ts.alerts.gotFilter
	if f.CameraID != "camera-1" || f.ZoneID != 1 || f.Limit != 10 || f.Offset != 5 {
		t.Errorf("unexpected filter: %+v", f)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.request(t, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["camera_id"] != "camera-1" || body["camera_status"] != "online" {
		t.Errorf("unexpected status body: %v", body)
	}
}

func TestStreamSendsMultipartFrames(t *testing.T) {
	ts := newTestServer(t, "")
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("content type = %q", ct)
	}

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	got := buf[:n]
	if !bytes.Contains(got, []byte("--frame")) {
		t.Errorf("missing multipart boundary in %q", got)
	}
	if !bytes.Contains(got, []byte("jpeg")) {
		t.Errorf("missing composed payload in %q", got)
	}
}
