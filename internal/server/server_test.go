package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/stagegraph/internal/pipeline"
	mid "github.com/OFFIS-RIT/stagegraph/internal/server/middleware"
	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/pkg/export"

	"github.com/labstack/echo/v4"
)

const masterKey = "test-master-key"

const stageOnePayload = `{
  "output": "Q1: What is the problem?\nA1: A slow load time.",
  "payload": {
    "entities": [
      {"id": "E1", "label": "Slow Load Time", "type": "Problem", "attributes": [{"key": "priority", "value": "high"}]},
      {"id": "E2", "label": "User Drop-off", "type": "Risk", "attributes": []}
    ],
    "relations": [{"subject": "E1", "predicate": "causes", "object": "E2"}]
  }
}`

func newTestServer() *echo.Echo {
	return New(&mid.App{
		Sessions:     session.NewManager(session.NewManagerParams{}),
		Runner:       pipeline.NewRunner(pipeline.NewRunnerParams{}),
		MasterAPIKey: masterKey,
		MasterUserID: "master",
	})
}

func do(t *testing.T, e *echo.Echo, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+masterKey)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func createSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/api/sessions", "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[session.Info](t, rec).ID
}

func TestHealth(t *testing.T) {
	e := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	e := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetStages(t *testing.T) {
	e := newTestServer()
	rec := do(t, e, http.MethodGet, "/api/stages", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stages := decode[[]pipeline.StageDef](t, rec)
	if len(stages) != 7 || stages[0].Title == "" {
		t.Fatalf("unexpected stages: %+v", stages)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestServer()
	id := createSession(t, e)
	base := "/api/sessions/" + id

	rec := do(t, e, http.MethodPost, base+"/stages/1/payload", echo.MIMEApplicationJSON, stageOnePayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("payload status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decode[pipeline.StageResult](t, rec)
	if res.Graph.Entities != 2 || res.Graph.Relations != 1 {
		t.Fatalf("unexpected graph stats: %+v", res.Graph)
	}
	if len(res.QA) != 1 || res.QA[0].Question != "What is the problem?" {
		t.Fatalf("unexpected q&a: %+v", res.QA)
	}

	rec = do(t, e, http.MethodGet, base+"/query?type=problem", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Slow Load Time") || strings.Contains(rec.Body.String(), "User Drop-off") {
		t.Fatalf("query returned wrong entities: %s", rec.Body.String())
	}

	rec = do(t, e, http.MethodGet, base+"/layout?stage=1", "", "")
	layout := decode[export.Layout](t, rec)
	if layout.Stage != 1 || len(layout.Nodes) != 2 || len(layout.Edges) != 1 {
		t.Fatalf("unexpected layout: %+v", layout)
	}

	rec = do(t, e, http.MethodGet, base+"/export.ttl", "", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/turtle") {
		t.Fatalf("turtle status = %d, content type %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	turtle := rec.Body.String()
	if !strings.Contains(turtle, `rdfs:label "Slow Load Time"`) {
		t.Fatalf("turtle misses entity label:\n%s", turtle)
	}

	rec = do(t, e, http.MethodPost, "/api/sessions/import", "text/turtle", turtle)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status = %d, body %s", rec.Code, rec.Body.String())
	}
	imported := decode[session.Info](t, rec)
	if imported.ID == id || imported.Graph.Entities != 2 || imported.Graph.Relations != 1 {
		t.Fatalf("unexpected imported session: %+v", imported)
	}

	rec = do(t, e, http.MethodGet, "/api/sessions", "", "")
	if got := decode[[]session.Info](t, rec); len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}

	rec = do(t, e, http.MethodDelete, base, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, base, "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	e := newTestServer()
	id := createSession(t, e)
	base := "/api/sessions/" + id

	if rec := do(t, e, http.MethodPost, base+"/stages/3/payload", echo.MIMEApplicationJSON, stageOnePayload); rec.Code != http.StatusOK {
		t.Fatalf("stage 3 status = %d, body %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown session", method: http.MethodGet, path: "/api/sessions/nope", want: http.StatusNotFound},
		{name: "stage out of range", method: http.MethodPost, path: base + "/stages/9/payload", body: stageOnePayload, want: http.StatusBadRequest},
		{name: "stage out of order", method: http.MethodPost, path: base + "/stages/2/payload", body: stageOnePayload, want: http.StatusConflict},
		{name: "malformed payload", method: http.MethodPost, path: base + "/stages/4/payload", body: `{"payload": {"entities": 5}}`, want: http.StatusUnprocessableEntity},
		{name: "no model configured", method: http.MethodPost, path: base + "/stages/4/run", body: `{"inputs": {}}`, want: http.StatusServiceUnavailable},
		{name: "unknown entity type", method: http.MethodGet, path: base + "/query?type=Banana", want: http.StatusBadRequest},
		{name: "invalid layout stage", method: http.MethodGet, path: base + "/layout?stage=8", want: http.StatusBadRequest},
		{name: "invalid turtle", method: http.MethodPost, path: "/api/sessions/import", body: "this is not turtle", want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, e, tt.method, tt.path, echo.MIMEApplicationJSON, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
