package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/model"
	"horse.fit/dailybrief/internal/policy"
)

type downStore struct{}

func (downStore) Persist(context.Context, daily.DayOutput) error { return errors.New("down") }

func (downStore) ReadDay(context.Context, daily.DayQuery) ([]model.DailyRecord, error) {
	return nil, errors.New("down")
}

func (downStore) Ping(context.Context) error { return errors.New("down") }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func scored(id, category string, importance float64, sources ...string) model.ScoredEvent {
	members := make([]model.RawItem, 0, len(sources))
	for _, src := range sources {
		members = append(members, model.RawItem{SourceID: src})
	}
	return model.ScoredEvent{
		Event: model.Event{
			ID:             id,
			Date:           "2026-03-02",
			Members:        members,
			CanonicalTitle: "Event " + id,
			CanonicalURL:   "https://example.com/" + id,
			PublishedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			Category:       category,
		},
		Importance: importance,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p, err := policy.Default()
	if err != nil {
		t.Fatalf("default policy: %v", err)
	}
	p.Build.BriefSize = 2

	store := daily.NewFileStore(t.TempDir(), zerolog.Nop())
	out := daily.NewBuilder(p).Build([]model.ScoredEvent{
		scored("a", "policy", 91, "whitehouse", "techcrunch"),
		scored("b", "funding", 70, "techcrunch"),
		scored("c", "policy", 55, "ec-press"),
	}, "2026-03-02")
	if err := store.Persist(context.Background(), out); err != nil {
		t.Fatalf("persist: %v", err)
	}
	return NewServer(store, zerolog.Nop(), Options{PolicyVersion: p.Version})
}

func doGet(t *testing.T, srv *Server, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body envelope
	if strings.HasPrefix(target, "/api/") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v (%s)", target, err, rec.Body.String())
		}
	}
	return rec, body
}

func decodeDay(t *testing.T, raw json.RawMessage) dayResponse {
	t.Helper()
	var day dayResponse
	if err := json.Unmarshal(raw, &day); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	return day
}

func TestHandleDayDefaultsToBrief(t *testing.T) {
	t.Parallel()

	rec, body := doGet(t, newTestServer(t), "/api/v1/days/2026-03-02")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	day := decodeDay(t, body.Data)
	if day.View != daily.ViewBrief || day.Count != 2 {
		t.Fatalf("expected two brief items, got view=%s count=%d", day.View, day.Count)
	}
	if day.Items[0].EventID != "a" || day.Items[1].EventID != "b" {
		t.Fatalf("unexpected ranking %+v", day.Items)
	}
}

func TestHandleDayFilters(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	_, body := doGet(t, srv, "/api/v1/days/2026-03-02?view=full&category=POLICY")
	day := decodeDay(t, body.Data)
	if day.Count != 2 || day.Items[0].EventID != "a" || day.Items[1].EventID != "c" {
		t.Fatalf("unexpected policy items %+v", day.Items)
	}

	_, body = doGet(t, srv, "/api/v1/days/2026-03-02?view=full&min_importance=60&limit=1")
	day = decodeDay(t, body.Data)
	if day.Count != 1 || day.Items[0].EventID != "a" {
		t.Fatalf("unexpected filtered items %+v", day.Items)
	}
}

func TestHandleDayValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	cases := []struct {
		target string
		field  string
	}{
		{"/api/v1/days/20260302", "date"},
		{"/api/v1/days/2026-03-02?view=top", "view"},
		{"/api/v1/days/2026-03-02?min_importance=abc", "min_importance"},
		{"/api/v1/days/2026-03-02?min_importance=101", "min_importance"},
		{"/api/v1/days/2026-03-02?limit=0", "limit"},
	}
	for _, tc := range cases {
		rec, body := doGet(t, srv, tc.target)
		if rec.Code != http.StatusBadRequest || body.Status != "fail" {
			t.Fatalf("%s: expected 400 fail, got %d %s", tc.target, rec.Code, rec.Body.String())
		}
		if !strings.Contains(string(body.Data), tc.field) {
			t.Fatalf("%s: expected %s validation error, got %s", tc.target, tc.field, body.Data)
		}
	}

	rec, body := doGet(t, srv, "/api/v1/days/2026-03-02?view=top&limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	for _, field := range []string{"view", "limit"} {
		if !strings.Contains(string(body.Data), field) {
			t.Fatalf("expected every invalid field reported, missing %s in %s", field, body.Data)
		}
	}
}

func TestHandleDayNotFound(t *testing.T) {
	t.Parallel()

	rec, body := doGet(t, newTestServer(t), "/api/v1/days/2026-03-03")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected 404 fail, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleDayStoreError(t *testing.T) {
	t.Parallel()

	srv := NewServer(downStore{}, zerolog.Nop(), Options{})
	rec, body := doGet(t, srv, "/api/v1/days/2026-03-02")
	if rec.Code != http.StatusInternalServerError || body.Status != "error" {
		t.Fatalf("expected 500 error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec, body := doGet(t, newTestServer(t), "/api/v1/health")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(string(body.Data), `"policy_version"`) {
		t.Fatalf("expected policy version in health data, got %s", body.Data)
	}

	rec, body = doGet(t, NewServer(downStore{}, zerolog.Nop(), Options{}), "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable || body.Status != "error" {
		t.Fatalf("expected 503 error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownAPIRouteUsesJSend(t *testing.T) {
	t.Parallel()

	rec, body := doGet(t, newTestServer(t), "/api/v1/nope")
	if rec.Code != http.StatusNotFound || body.Status != "fail" {
		t.Fatalf("expected jsend 404, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec, _ := doGet(t, newTestServer(t), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected default collectors in metrics output")
	}
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	srv := NewServer(downStore{}, zerolog.Nop(), Options{Host: " ", ReadTimeout: -time.Second, PolicyVersion: " v1 "})
	if srv.addr() != "0.0.0.0:8090" {
		t.Fatalf("unexpected default addr %s", srv.addr())
	}
	if srv.opts.ReadTimeout != defaultReadTimeout || srv.opts.ShutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("unexpected timeouts %+v", srv.opts)
	}
	if srv.opts.PolicyVersion != "v1" {
		t.Fatalf("policy version not trimmed: %q", srv.opts.PolicyVersion)
	}

	custom := NewServer(downStore{}, zerolog.Nop(), Options{Host: "::1", Port: 9000})
	if custom.addr() != "[::1]:9000" {
		t.Fatalf("unexpected ipv6 addr %s", custom.addr())
	}
}
