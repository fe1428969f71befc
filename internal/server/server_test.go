package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/webgis/internal/api"
	"github.com/woozymasta/webgis/internal/catalog"
	"github.com/woozymasta/webgis/internal/config"
	"github.com/woozymasta/webgis/internal/parcel"
	"github.com/woozymasta/webgis/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	srv  *ServerContext
	http *httptest.Server
}

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.JWTSecret = "test-secret"
	cfg.Server.TilesDir = t.TempDir()
	cfg.Users = []config.User{
		{Username: "alice", Name: "Alice", Role: "admin", PasswordHash: hash(t, "secret")},
		{Username: "bob", Name: "Bob", Role: "user", PasswordHash: hash(t, "hunter2")},
	}

	name := strings.NewReplacer("/", "_").Replace(t.Name())
	st, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s, err := NewServerContext(cfg, st)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return &fixture{srv: s, http: ts}
}

func (f *fixture) client(t *testing.T, user, pw string) *api.Client {
	t.Helper()
	c, err := api.New(api.Options{BaseURL: f.http.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	if user != "" {
		_, err = c.Login(context.Background(), user, pw)
		require.NoError(t, err)
	}
	return c
}

func (f *fixture) request(t *testing.T, method, path, user string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		acct, ok := f.srv.Config.FindUser(user)
		require.True(t, ok)
		tok, err := f.srv.issueToken(api.User{Username: acct.Username, Name: acct.Name, Role: acct.Role})
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tok})
	}
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func errorText(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const squareJSON = `{"type":"Polygon","coordinates":[[[0,0],[0.001,0],[0.001,0.001],[0,0.001],[0,0]]]}`

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/login", "", `{"username":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Por favor, preencha todos os campos", errorText(t, rec))

	rec = f.request(t, http.MethodPost, "/login", "", `{"username":"alice","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Usuário ou senha incorretos", errorText(t, rec))

	rec = f.request(t, http.MethodPost, "/login", "", `{"username":"alice","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"redirect":"/"}`, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Set-Cookie"), SessionCookie+"=")
}

func TestAuthCheckAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	anon := f.client(t, "", "")
	_, err := anon.CheckAuth(ctx)
	assert.True(t, api.IsUnauthorized(err))

	c := f.client(t, "alice", "secret")
	st, err := c.CheckAuth(ctx)
	require.NoError(t, err)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "alice", st.User.Username)
	assert.Equal(t, "admin", st.User.Role)

	require.NoError(t, c.Logout(ctx))
	_, err = c.CheckAuth(ctx)
	assert.True(t, api.IsUnauthorized(err))
}

func TestExpiredSessionIsRejected(t *testing.T) {
	f := newFixture(t)
	tok, err := f.srv.issueToken(api.User{Username: "alice"})
	require.NoError(t, err)

	f.srv.now = func() time.Time { return time.Now().Add(f.srv.Config.Server.SessionTTL + time.Minute) }
	_, err = f.srv.parseToken(tok)
	assert.Error(t, err)
}

func TestRandomSecretFailure(t *testing.T) {
	orig := randRead
	t.Cleanup(func() { randRead = orig })
	randRead = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

	cfg := config.Default()
	cfg.Server.JWTSecret = ""
	_, err := NewServerContext(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")
}

func TestAPIRequiresSession(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/api/features", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFeatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.client(t, "alice", "secret")
	bob := f.client(t, "bob", "hunter2")

	id, err := alice.SaveFeature(ctx, api.FeatureRecord{
		ID:         "feature_1",
		Geometry:   json.RawMessage(`{"type":"Point","coordinates":[-44.3,-2.5]}`),
		Properties: map[string]any{"name": "Poço"},
	})
	require.NoError(t, err)
	assert.Equal(t, "feature_1", id)

	_, err = alice.SaveFeature(ctx, api.FeatureRecord{ID: "feature_1", Geometry: json.RawMessage(squareJSON)})
	require.NoError(t, err)
	_, err = alice.SaveFeature(ctx, api.FeatureRecord{ID: "feature_2", Geometry: json.RawMessage(squareJSON)})
	require.NoError(t, err)

	list, err := alice.ListFeatures(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, r := range list {
		assert.Equal(t, "Polygon", r.Type)
		assert.NotEmpty(t, r.CreatedAt)
	}

	others, err := bob.ListFeatures(ctx)
	require.NoError(t, err)
	assert.Empty(t, others)

	err = bob.DeleteFeature(ctx, "feature_1")
	assert.True(t, api.IsNotFound(err))
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Feature não encontrada", apiErr.Message)

	require.NoError(t, alice.DeleteFeature(ctx, "feature_1"))

	n, err := alice.ClearFeatures(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFeaturesFilteredByCell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.client(t, "alice", "secret")

	well := `{"type":"Point","coordinates":[-44.3028,-2.5297]}`
	_, err := alice.SaveFeature(ctx, api.FeatureRecord{ID: "feature_1", Geometry: json.RawMessage(well)})
	require.NoError(t, err)
	_, err = alice.SaveFeature(ctx, api.FeatureRecord{ID: "feature_2", Geometry: json.RawMessage(squareJSON)})
	require.NoError(t, err)

	list, err := alice.ListFeaturesInCell(ctx, store.CellOf([]byte(well)))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "feature_1", list[0].ID)

	rec := f.request(t, http.MethodGet, "/api/features?cell=zz", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Célula H3 inválida", errorText(t, rec))
}

func TestSaveFeatureRequiresGeometry(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodPost, "/api/features", "alice", `{"id":"x","properties":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Dados da feature são obrigatórios", errorText(t, rec))

	f.srv.now = func() time.Time { return time.Unix(1700000000, 0) }
	rec = f.request(t, http.MethodPost, "/api/features", "alice", `{"geometry":{"type":"Point","coordinates":[1,2]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"feature_1700000000"`)
}

func TestGlebas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "alice", "secret")

	_, err := c.CreateGleba(ctx, api.Gleba{Geometry: json.RawMessage(squareJSON)})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Número da gleba é obrigatório", apiErr.Message)

	_, err = c.CreateGleba(ctx, api.Gleba{Parcel: parcel.Parcel{NoGleba: "GL-1"}})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Geometria da gleba é obrigatória", apiErr.Message)

	id, err := c.CreateGleba(ctx, api.Gleba{
		Parcel:   parcel.Parcel{NoGleba: "GL-1", NomeGleba: "Sítio"},
		Geometry: json.RawMessage(squareJSON),
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = c.CreateGleba(ctx, api.Gleba{Parcel: parcel.Parcel{NoGleba: "GL-1"}, Geometry: json.RawMessage(squareJSON)})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Já existe uma gleba com este número", apiErr.Message)

	g, err := c.GetGleba(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, g.Area)
	assert.InDelta(t, 12392, *g.Area, 100)

	require.NoError(t, c.UpdateGleba(ctx, id, map[string]any{"proprietario": "Maria", "cep": "65000-000"}))
	err = c.UpdateGleba(ctx, id, map[string]any{"cep": "65000"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	require.NoError(t, c.UpdateGleba(ctx, id, map[string]any{"cep": "65010000", "cpf": "12345678909"}))
	g, err = c.GetGleba(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "65010-000", g.CEP)
	assert.Equal(t, "123.456.789-09", g.CPF)

	calc, err := c.CalculateGleba(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 111.2, calc.Calculations.Testadas.Frente, 1)
	assert.InDelta(t, calc.Calculations.Testadas.Frente, calc.Calculations.Testadas.Fundo, 0.5)
	assert.Equal(t, "Maria", calc.Gleba.Proprietario)
	require.NotNil(t, calc.Gleba.TestadaFrente)

	list, err := c.ListGlebas(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.DeleteGleba(ctx, id))
	_, err = c.GetGleba(ctx, id)
	assert.True(t, api.IsNotFound(err))
}

func TestCalculateRejectsLine(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/api/glebas", "alice",
		`{"no_gleba":"GL-9","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.request(t, http.MethodPost, fmt.Sprintf("/api/glebas/%d/calculate", created.ID), "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Geometria inválida para cálculo", errorText(t, rec))
}

func TestExportGlebas(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/api/glebas", "alice", `{"no_gleba":"GL-1","geometry":`+squareJSON+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.request(t, http.MethodGet, "/api/glebas/export", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="glebas_alice.geojson"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "\n  \"type\": \"FeatureCollection\"")

	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "GL-1", fc.Features[0].Properties["no_gleba"])
}

func TestLayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.client(t, "alice", "secret")
	user := f.client(t, "bob", "hunter2")

	g, err := admin.CreateLayerGroup(ctx, "p1", catalog.LayerGroup{Name: "Hidrografia"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(g.ID, "group_"))

	l, err := admin.CreateLayer(ctx, "p1", catalog.Layer{Name: "rios", DisplayName: "Rios", GroupID: &g.ID})
	require.NoError(t, err)
	assert.Equal(t, "alice", l.CreatedBy)

	_, err = user.CreateLayer(ctx, "p1", catalog.Layer{Name: "x", DisplayName: "X"})
	assert.Equal(t, http.StatusForbidden, api.StatusOf(err))

	groups, err := user.LayerGroups(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].LayerCount)

	layers, err := user.Layers(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, layers, 1)

	rec := f.request(t, http.MethodPost, "/api/v2/projects/p1/layer-groups", "alice", `{"description":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Nome do grupo é obrigatório", errorText(t, rec))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	h, err := f.client(t, "", "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Database)
	assert.Equal(t, Version, h.Version)
}

func TestPages(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = f.request(t, http.MethodGet, "/", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "WEBGIS_CONFIG")
	assert.Contains(t, rec.Body.String(), "Nenhuma camada criada")

	rec = f.request(t, http.MethodGet, "/login", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestTiles(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.srv.Config.Server.TilesDir, "12", "1500")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2100.webp"), []byte("RIFFtile"), 0o644))

	rec := f.request(t, http.MethodGet, "/tiles/12/1500/2100.webp", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFFtile", rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/tiles/12/1500/2100.webp", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = f.request(t, http.MethodGet, "/tiles/12/1500/2101.webp", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", rec.Body.String()[:4])

	rec = f.request(t, http.MethodGet, "/tiles/12/../2100.webp", "", "")
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestWatchReceivesOwnChanges(t *testing.T) {
	f := newFixture(t)
	alice := f.client(t, "alice", "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan api.Change, 4)
	done := make(chan error, 1)
	go func() { done <- alice.Watch(ctx, func(ch api.Change) { changes <- ch }) }()

	require.Eventually(t, func() bool { return f.srv.Hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := f.request(t, http.MethodPost, "/api/features", "bob", `{"id":"b1","geometry":{"type":"Point","coordinates":[1,2]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, err := alice.SaveFeature(context.Background(), api.FeatureRecord{
		ID:       "a1",
		Geometry: json.RawMessage(`{"type":"Point","coordinates":[1,2]}`),
	})
	require.NoError(t, err)

	select {
	case ch := <-changes:
		assert.Equal(t, "a1", ch.ID)
		assert.Equal(t, api.EntityFeature, ch.Entity)
		assert.Equal(t, "alice", ch.User)
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://maps.example.org"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://maps.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
