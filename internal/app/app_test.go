package app

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-sandbox/internal/config"
	internaldb "duck-sandbox/internal/db"
	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/middleware"
	"duck-sandbox/internal/observability"
)

const testSecret = "app-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		LoadSampleData:     true,
		SeedFixtures:       true,
		PolicyCacheTTL:     time.Minute,
		SchemaSyncSchedule: "@every 1h",
		QueryMaxRows:       2000,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		CORSAllowedOrigins: []string{"*"},
		Auth: config.AuthConfig{
			JWTSecret:      testSecret,
			APIKeyEnabled:  true,
			APIKeyHeader:   "X-API-Key",
			NameClaim:      "email",
			BootstrapAdmin: "root",
		},
	}
}

type server struct {
	app    *App
	router http.Handler
	deps   Deps
}

func newServer(t *testing.T) *server {
	t.Helper()
	duck, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duck.Close() })
	writeDB, readDB := internaldb.OpenTestSQLite(t)

	deps := Deps{
		Cfg:     testConfig(),
		DuckDB:  duck,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Metrics: observability.NewMetrics(),
		Logger:  slog.New(slog.DiscardHandler),
	}
	a, err := New(t.Context(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &server{app: a, router: a.Router(t.Context()), deps: deps}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := middleware.MintSharedSecretToken(testSecret, subject, time.Hour, nil)
	require.NoError(t, err)
	return tok
}

func (s *server) call(t *testing.T, tok, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type listOf struct {
	Data []map[string]any `json:"data"`
}

func (s *server) idByName(t *testing.T, tok, path, name string) string {
	t.Helper()
	rec := s.call(t, tok, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out listOf
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	for _, item := range out.Data {
		if item["name"] == name {
			return item["id"].(string)
		}
	}
	t.Fatalf("%s not found in %s", name, path)
	return ""
}

type dataset struct {
	Data struct {
		Rows        [][]any `json:"rows"`
		IsSandboxed bool    `json:"is_sandboxed"`
	} `json:"data"`
	RowCount int `json:"row_count"`
}

func categories(t *testing.T, rec *httptest.ResponseRecorder) (map[string]int, bool) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	counts := map[string]int{}
	for _, row := range out.Data.Rows {
		counts[row[0].(string)]++
	}
	return counts, out.Data.IsSandboxed
}

var categoryQuery = map[string]any{
	"query": map[string]any{
		"source_table": "PRODUCTS",
		"fields":       []map[string]string{{"name": "CATEGORY"}},
	},
}

func TestColumnSandboxEndToEnd(t *testing.T) {
	s := newServer(t)
	admin := token(t, "root")
	sandboxed := token(t, "sandboxed")

	productsID := s.idByName(t, admin, "/api/table", "PRODUCTS")
	dataID := s.idByName(t, admin, "/api/permissions/group", GroupData)

	rec := s.call(t, admin, http.MethodPut, "/api/sandbox", map[string]any{
		"table_id":      productsID,
		"group_id":      dataID,
		"mode":          domain.SandboxModeColumn,
		"filter_column": "CATEGORY",
		"attribute_key": SandboxAttribute,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("sandboxed user sees only gizmos", func(t *testing.T) {
		counts, isSandboxed := categories(t, s.call(t, sandboxed, http.MethodPost, "/api/dataset", categoryQuery))
		assert.True(t, isSandboxed)
		require.NotEmpty(t, counts)
		assert.Equal(t, []string{"Gizmo"}, keys(counts))
	})

	t.Run("admin sees every category", func(t *testing.T) {
		counts, isSandboxed := categories(t, s.call(t, admin, http.MethodPost, "/api/dataset", categoryQuery))
		assert.False(t, isSandboxed)
		assert.ElementsMatch(t, []string{"Doohickey", "Gadget", "Gizmo", "Widget"}, keys(counts))
	})

	t.Run("member without the attribute is refused", func(t *testing.T) {
		rec := s.call(t, admin, http.MethodPost, "/api/user", map[string]any{"name": "nokey"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var user map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))

		rec = s.call(t, admin, http.MethodPost, "/api/permissions/membership", map[string]any{
			"group_id": dataID, "member_type": "user", "member_id": user["id"],
		})
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = s.call(t, token(t, "nokey"), http.MethodPost, "/api/dataset", categoryQuery)
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"error_type":"missing-attribute"`)
	})

	t.Run("dropping the policy lifts the restriction", func(t *testing.T) {
		rec := s.call(t, admin, http.MethodDelete, "/api/sandbox?table_id="+productsID+"&group_id="+dataID, nil)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		counts, isSandboxed := categories(t, s.call(t, sandboxed, http.MethodPost, "/api/dataset", categoryQuery))
		assert.False(t, isSandboxed)
		assert.Len(t, counts, 4)
	})
}

func TestPublicRoutes(t *testing.T) {
	s := newServer(t)

	rec := s.call(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = s.call(t, "", http.MethodGet, "/openapi.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duck-sandbox API")

	rec = s.call(t, "", http.MethodGet, "/api/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_type":"unauthenticated"`)

	rec = s.call(t, "", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duck_sandbox_http_requests_total")
}

func TestAPIKeyAuthentication(t *testing.T) {
	s := newServer(t)
	admin := token(t, "root")

	rec := s.call(t, admin, http.MethodGet, "/api/user/current", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, true, me["is_admin"])

	rec = s.call(t, admin, http.MethodPost, "/api/api-key", map[string]any{"principal_id": me["id"], "name": "ci"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var key map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &key))
	raw, _ := key["key"].(string)
	require.NotEmpty(t, raw)

	req := httptest.NewRequest(http.MethodGet, "/api/user/current", nil)
	req.Header.Set("X-API-Key", raw)
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	assert.Contains(t, out.Body.String(), `"name":"root"`)
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newServer(t)

	again, err := New(t.Context(), s.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })

	groups, total, err := s.app.Services.Group.List(
		domain.WithPrincipal(t.Context(), domain.ContextPrincipal{Name: "admin", IsAdmin: true, Type: "user"}),
		domain.PageRequest{},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, groups, 3)
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
