package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"workforce/internal/config"
	"workforce/internal/db"
	"workforce/internal/engine"
	"workforce/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:        testJWTSecret,
			AllowActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor": actor}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "unauthorized" {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "via jwt",
	}, map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskDoneGateOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "Ship weekly report",
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+created.ID, map[string]any{
		"status": "DONE",
	}, asActor("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("done without deliverable status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "precondition_failed" {
		t.Fatalf("code = %q", e.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/deliverables", map[string]any{
		"title":   "report.md",
		"content": "weekly numbers",
	}, asActor("worker"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("deliverable status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/approve", map[string]any{
		"action": "approve",
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/tasks/"+created.ID, map[string]any{
		"status": "DONE",
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done status %d: %s", res.StatusCode, string(data))
	}
	var done TaskResponse
	_ = json.Unmarshal(data, &done)
	if done.Status != "DONE" {
		t.Fatalf("status = %q", done.Status)
	}
}

func TestRejectOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "contested work",
	}, asActor("alice"))
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+"/approve", map[string]any{
		"action": "reject",
		"reason": "needs rework",
	}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	var rejected TaskResponse
	_ = json.Unmarshal(data, &rejected)
	if rejected.Status != "BACKLOG" {
		t.Fatalf("status = %q, want BACKLOG", rejected.Status)
	}
}

func TestPromoteRequiresRouterActor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/insights", map[string]any{
		"content": "customers keep asking for CSV export",
	}, asActor("scout"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("insight status %d: %s", res.StatusCode, string(data))
	}
	var insight InsightResponse
	if err := json.Unmarshal(data, &insight); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/insights/"+insight.ID+"/promote", nil, asActor("scout"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-router promote status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "forbidden" {
		t.Fatalf("code = %q", e.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/insights/"+insight.ID+"/promote", nil, asActor("jarvis"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("router promote status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)
	if !strings.HasPrefix(task.Title, "[From Insight] ") {
		t.Fatalf("title = %q", task.Title)
	}
}

func TestIntakeTruncatesTitle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	message := strings.Repeat("x", 250)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/intake", map[string]any{
		"message": message,
	}, asActor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("intake status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}
	if len(task.Title) != 200 {
		t.Fatalf("title length = %d, want 200", len(task.Title))
	}
	if task.Description != message {
		t.Fatal("description should keep the full message")
	}
	if task.Source != "intake" {
		t.Fatalf("source = %q", task.Source)
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/nope", nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if e := decodeError(t, data); e.Code != "not_found" {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestEventClaimAndAck(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title": "emit something",
	}, asActor("alice")); res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/events/claim", map[string]any{"limit": 10}, asActor("worker"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim status %d: %s", res.StatusCode, string(data))
	}
	var claimed []EventResponse
	if err := json.Unmarshal(data, &claimed); err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].EventType != "TASK_CREATED" {
		t.Fatalf("claimed = %+v", claimed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/events/"+claimed[0].ID+"/ack", nil, asActor("worker"))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("ack status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/events/nope/ack", nil, asActor("worker"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("ack unknown status %d: %s", res.StatusCode, string(data))
	}
}
