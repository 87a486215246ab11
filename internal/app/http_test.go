package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nallo/api/internal/auth"
	"nallo/api/internal/graph"
	"nallo/api/internal/store"
)

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type testClient struct {
	t       *testing.T
	handler http.Handler
}

func newTestClient(t *testing.T) (*testClient, *testDeps) {
	svc, deps := newTestService()
	return &testClient{t: t, handler: NewHTTPServer(svc, "https://console.nallo.test", testSecret).Handler()}, deps
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, auth.NewClaims("user_1", "Kim", role, time.Hour))
	require.NoError(t, err)
	return token
}

func (c *testClient) do(method, path, role, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(c.t, role))
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestCreateAndGetDocumentOverHTTP(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/documents", "editor", `{"title":"Intro","content":"# Intro"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://console.nallo.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var created struct {
		Document Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "doc_1", created.Document.ID)
	assert.Equal(t, "documents/doc_1", created.Document.StorageKey)

	rec = client.do(http.MethodGet, "/api/documents/doc_1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched struct {
		Document Document `json:"document"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "# Intro", fetched.Document.Content)

	rec = client.do(http.MethodGet, "/api/documents", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []graph.Document `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
}

func TestMutationsRequireToken(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/documents", "", `{"title":"Intro"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"title":"Intro"}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	client.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Error.Code)
}

func TestRolesGateMutations(t *testing.T) {
	client, deps := newTestClient(t)
	deps.graph.documents["doc_9"] = graph.Document{ID: "doc_9", Title: "Intro"}

	rec := client.do(http.MethodPost, "/api/documents", "viewer", `{"title":"Intro"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, decodeError(t, rec).Error.Code)

	rec = client.do(http.MethodDelete, "/api/documents/doc_9", "editor", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = client.do(http.MethodDelete, "/api/documents/doc_9", "admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NotContains(t, deps.graph.documents, "doc_9")
}

func TestErrorBodyShape(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/documents/doc_missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"Document not found"}}`, rec.Body.String())

	rec = client.do(http.MethodPost, "/api/documents", "editor", `{"title":" "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.JSONEq(t, `{"field":"title"}`, string(body.Error.Details))

	rec = client.do(http.MethodGet, "/api/widgets", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	client, _ := newTestClient(t)

	for _, body := range []string{`{"title":`, `{"title":"x","colour":"red"}`} {
		rec := client.do(http.MethodPost, "/api/documents", "editor", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, CodeInvalidBody, decodeError(t, rec).Error.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "editor"))
	rec := httptest.NewRecorder()
	client.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidBody, decodeError(t, rec).Error.Code)
}

func TestPartialWriteOverHTTP(t *testing.T) {
	client, deps := newTestClient(t)
	deps.content.createFn = func(context.Context, string, string) (store.DocumentContent, error) {
		return store.DocumentContent{}, errors.New("connection reset")
	}

	rec := client.do(http.MethodPost, "/api/documents", "editor", `{"title":"Intro","content":"body"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodePartialWrite, body.Error.Code)
	assert.JSONEq(t, `{"documentId":"doc_1","completed":["graphdb"],"failed":"postgresql"}`, string(body.Error.Details))
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestUnexpectedErrorIsGeneric(t *testing.T) {
	client, deps := newTestClient(t)
	deps.graph.createDocumentFn = func(context.Context, graph.Document) (graph.Document, error) {
		return graph.Document{}, errors.New("bolt: protocol violation")
	}

	rec := client.do(http.MethodPost, "/api/documents", "editor", `{"title":"Intro"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"INTERNAL_ERROR","message":"Internal server error"}}`, rec.Body.String())
}

func TestUpdateAndContentRoutes(t *testing.T) {
	client, deps := newTestClient(t)
	rec := client.do(http.MethodPost, "/api/documents", "editor", `{"title":"Intro","content":"v1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = client.do(http.MethodPatch, "/api/documents/doc_1", "editor", `{"content":"v2","status":"published"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "v2", deps.content.rows["doc_1"].Content)

	rec = client.do(http.MethodGet, "/api/documents/doc_1/content/url", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var signed ContentURL
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signed))
	assert.Equal(t, "documents/doc_1", signed.StorageKey)

	rec = client.do(http.MethodDelete, "/api/documents/doc_1/content", "editor", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = client.do(http.MethodDelete, "/api/documents/doc_1/content", "editor", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSearchRoute(t *testing.T) {
	client, deps := newTestClient(t)

	rec := client.do(http.MethodGet, "/api/search?q=intro&status=published&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[{"id":"doc_1","title":"Intro","snippet":""}],"total":1,"query":"intro","source":"postgres"}`, rec.Body.String())
	require.Len(t, deps.search.queries, 1)
	assert.Equal(t, 5, deps.search.queries[0].Limit)

	rec = client.do(http.MethodGet, "/api/search", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty struct {
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	assert.NotNil(t, empty.Results)
	assert.Empty(t, empty.Results)
}

func TestEntityAndLinkRoutes(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodPost, "/api/documents", "editor", `{"title":"Intro"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = client.do(http.MethodPost, "/api/tags", "editor", `{"name":"Getting Started"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Item graph.Entity `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "tag_2", created.Item.ID)
	assert.Equal(t, "getting-started", created.Item.Slug)

	rec = client.do(http.MethodGet, "/api/tags/tag_2", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = client.do(http.MethodGet, "/api/tags", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = client.do(http.MethodPost, "/api/documents/doc_1/links", "editor", `{"rel":"TAGGED_WITH","toKind":"Tag","toId":"tag_2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = client.do(http.MethodGet, "/api/documents/doc_1/related", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var related struct {
		Items []graph.Edge `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &related))
	require.Len(t, related.Items, 1)
	assert.Equal(t, graph.RelTaggedWith, related.Items[0].Rel)

	rec = client.do(http.MethodPost, "/api/documents/doc_1/links", "editor", `{"rel":"SUPERSEDES","toKind":"Tag","toId":"tag_2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = client.do(http.MethodDelete, "/api/documents/doc_1/links", "editor", `{"rel":"TAGGED_WITH","toKind":"Tag","toId":"tag_2"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOptionsPreflight(t *testing.T) {
	client, _ := newTestClient(t)

	rec := client.do(http.MethodOptions, "/api/documents", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestQueryLimit(t *testing.T) {
	cases := map[string]int{"": 20, "abc": 20, "-3": 20, "50": 50, "9000": 500}
	for raw, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/search?limit="+raw, nil)
		assert.Equal(t, want, queryLimit(req, 20), raw)
	}
}
