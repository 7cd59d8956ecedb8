package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filigree/internal/config"
	"filigree/internal/db"
	"filigree/internal/domain"
	"filigree/internal/engine"
	"filigree/internal/logging"
	"filigree/internal/migrate"
	"filigree/internal/templates"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	reg := templates.NewRegistry(templates.Loader{EnabledPacks: []string{"core", "planning"}}, nil)
	require.NoError(t, reg.Load())
	e := engine.New(conn, reg, config.Default(), nil)

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth, Logger: logging.Discard()})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v1", client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	res, data := srv.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestBugHardGateOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})
	ann := asActor("ann")

	res, data := srv.do(t, http.MethodPost, "/issues", map[string]any{"id": "bug-1", "type": "bug", "title": "Crash"}, ann)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created domain.Issue
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "triage", created.Status)

	for _, status := range []string{"confirmed", "fixing", "verifying"} {
		res, data = srv.do(t, http.MethodPatch, "/issues/bug-1", map[string]any{"status": status}, ann)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}

	res, data = srv.do(t, http.MethodPatch, "/issues/bug-1", map[string]any{"status": "closed"}, ann)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "hard_gate", env.Error.Code)
	assert.Equal(t, []any{"fix_verification"}, env.Error.Details["missing_fields"])

	res, data = srv.do(t, http.MethodPatch, "/issues/bug-1", map[string]any{
		"status": "closed",
		"fields": map[string]any{"fix_verification": "added regression test"},
	}, ann)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var result IssueResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "closed", result.Issue.Status)
	assert.NotNil(t, result.Issue.ClosedAt)

	res, data = srv.do(t, http.MethodGet, "/issues/bug-1/events", nil, ann)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evs []domain.Event
	require.NoError(t, json.Unmarshal(data, &evs))
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.EventStatusChanged, evs[0].Type)
	assert.Equal(t, "ann", evs[0].Actor)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	res, data := srv.do(t, http.MethodGet, "/issues/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, data = srv.do(t, http.MethodPost, "/issues", map[string]any{"title": "x", "type": "saga"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "validation", decodeError(t, data).Error.Code)

	res, data = srv.do(t, http.MethodPost, "/issues", map[string]any{"title": "x", "priority": 9}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/issues", map[string]any{"id": "A", "title": "a"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPatch, "/issues/A", map[string]any{"status": "nowhere"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPost, "/issues/A/reopen", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "transition_rejected", decodeError(t, data).Error.Code)
}

func TestDependencyCycleAndGraphViews(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	create := func(id string, deps ...string) {
		body := map[string]any{"id": id, "title": id}
		if len(deps) > 0 {
			body["depends_on"] = deps
		}
		res, data := srv.do(t, http.MethodPost, "/issues", body, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	create("D")
	create("C", "D")
	create("B", "C")
	create("A", "B")

	res, data := srv.do(t, http.MethodPost, "/issues/D/dependencies", map[string]any{"depends_on": "A"}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "cycle", env.Error.Code)
	assert.Equal(t, []any{"D", "A", "B", "C", "D"}, env.Error.Details["path"])

	res, data = srv.do(t, http.MethodGet, "/critical-path", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var path []domain.Issue
	require.NoError(t, json.Unmarshal(data, &path))
	var ids []string
	for _, it := range path {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"D", "C", "B", "A"}, ids)

	res, data = srv.do(t, http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var ready []domain.Issue
	require.NoError(t, json.Unmarshal(data, &ready))
	require.Len(t, ready, 1)
	assert.Equal(t, "D", ready[0].ID)

	res, data = srv.do(t, http.MethodGet, "/blocked", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var blocked []engine.BlockedIssue
	require.NoError(t, json.Unmarshal(data, &blocked))
	assert.Len(t, blocked, 3)

	res, data = srv.do(t, http.MethodDelete, "/issues/A/dependencies/B", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var dep DependencyResponse
	require.NoError(t, json.Unmarshal(data, &dep))
	assert.True(t, dep.Changed)
}

func TestClaimConflict(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})
	res, data := srv.do(t, http.MethodPost, "/issues", map[string]any{"id": "T", "title": "claim me"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/issues/T/claim", map[string]any{}, asActor("ann"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var it domain.Issue
	require.NoError(t, json.Unmarshal(data, &it))
	assert.Equal(t, "ann", it.Assignee)

	res, data = srv.do(t, http.MethodPost, "/issues/T/claim", map[string]any{}, asActor("bob"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	env := decodeError(t, data)
	assert.Equal(t, "conflict", env.Error.Code)
	assert.Equal(t, domain.ReasonAlreadyClaimed, env.Error.Details["reason"])

	res, data = srv.do(t, http.MethodPost, "/issues/T/release", nil, asActor("bob"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPost, "/issues/T/release", nil, asActor("ann"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/claim-next", map[string]any{}, asActor("bob"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var next ClaimNextResponse
	require.NoError(t, json.Unmarshal(data, &next))
	require.True(t, next.Claimed)
	assert.Equal(t, "T", next.Issue.ID)
	assert.Equal(t, "bob", next.Issue.Assignee)

	res, data = srv.do(t, http.MethodPost, "/claim-next", map[string]any{}, asActor("bob"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	next = ClaimNextResponse{}
	require.NoError(t, json.Unmarshal(data, &next))
	assert.False(t, next.Claimed)
}

func TestBatchClose(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	for _, body := range []map[string]any{
		{"id": "A", "title": "a"},
		{"id": "F", "title": "f", "type": "feature"},
	} {
		res, data := srv.do(t, http.MethodPost, "/issues", body, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	res, data := srv.do(t, http.MethodPost, "/batch/close", map[string]any{"ids": []string{"A", "F"}}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out BatchResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, 1, out.Failed)
	assert.Empty(t, out.Results[0].Error)
	assert.Equal(t, domain.KindHardGate, out.Results[1].Kind)
}

func TestTypesAndTransitions(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := srv.do(t, http.MethodGet, "/types", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var types []TypeSummary
	require.NoError(t, json.Unmarshal(data, &types))
	var names []string
	for _, ty := range types {
		names = append(names, ty.Type)
	}
	assert.Equal(t, []string{"bug", "epic", "feature", "milestone", "task"}, names)

	res, data = srv.do(t, http.MethodGet, "/types/saga", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodPost, "/issues", map[string]any{"id": "F", "title": "f", "type": "feature"}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodGet, "/issues/F/transitions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var opts []templates.TransitionOption
	require.NoError(t, json.Unmarshal(data, &opts))
	assert.Len(t, opts, 2)

	res, data = srv.do(t, http.MethodPost, "/issues/F/transitions/validate", map[string]any{"to": "building"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tr templates.TransitionResult
	require.NoError(t, json.Unmarshal(data, &tr))
	assert.False(t, tr.Allowed)
}

func TestJWTAuthentication(t *testing.T) {
	srv := newTestServer(t, AuthConfig{JWTSecret: testSecret})

	res, data := srv.do(t, http.MethodGet, "/issues", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))

	res, data = srv.do(t, http.MethodGet, "/issues", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Error.Code)

	res, data = srv.do(t, http.MethodGet, "/issues", nil, asActor("ann"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, "actor header is off by default: %s", data)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "carol"})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + signed}

	res, data = srv.do(t, http.MethodPost, "/issues", map[string]any{"id": "J", "title": "jwt"}, bearer)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	res, data = srv.do(t, http.MethodPost, "/issues/J/claim", map[string]any{}, bearer)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var it domain.Issue
	require.NoError(t, json.Unmarshal(data, &it))
	assert.Equal(t, "carol", it.Assignee)
}
