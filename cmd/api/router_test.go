package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taxiflow/artifact"
	"taxiflow/config"
	"taxiflow/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func testRouter(t *testing.T, models *services.ModelService) (*gin.Engine, *services.AuthService) {
	t.Helper()
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)

	cfg := &config.Config{
		JWT:  config.JWTConfig{Secret: "router-test", ExpiryHours: 1},
		CORS: config.CORSConfig{AllowedOrigins: "*"},
	}
	auth := services.NewAuthService(cfg.JWT)
	return setupRouter(routerDeps{cfg: cfg, db: db, models: models, auth: auth}), auth
}

func fixtureModels(t *testing.T) *services.ModelService {
	t.Helper()
	a, err := artifact.Load("../../artifact/testdata/lin_reg.json")
	require.NoError(t, err)
	return services.NewModelServiceWith(a)
}

func TestHealthRoute(t *testing.T) {
	r, _ := testRouter(t, fixtureModels(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["model_loaded"])
}

func TestPredictRoute(t *testing.T) {
	r, _ := testRouter(t, fixtureModels(t))

	req := httptest.NewRequest(http.MethodPost, "/predict",
		bytes.NewBufferString(`{"PULocationID":161,"DOLocationID":236,"trip_distance":2.5}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 13.2, body["duration"], 1e-9)
}

func TestPredictRouteWithoutModel(t *testing.T) {
	r, _ := testRouter(t, services.NewModelService("testdata/absent.bin"))

	req := httptest.NewRequest(http.MethodPost, "/predict",
		bytes.NewBufferString(`{"PULocationID":161,"DOLocationID":236,"trip_distance":2.5}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunsRequireAuth(t *testing.T) {
	r, _ := testRouter(t, fixtureModels(t))

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/abc"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestMetricsRoute(t *testing.T) {
	r, _ := testRouter(t, fixtureModels(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "taxiflow_")
}

func TestRunsWebSocketWithoutCache(t *testing.T) {
	r, auth := testRouter(t, fixtureModels(t))
	token, err := auth.GenerateToken(1, "ops@example.com", "operator")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/runs?token="+token, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterWithoutDatabase(t *testing.T) {
	cfg := &config.Config{
		JWT:  config.JWTConfig{Secret: "router-test", ExpiryHours: 1},
		CORS: config.CORSConfig{AllowedOrigins: "*"},
	}
	r := setupRouter(routerDeps{cfg: cfg, models: fixtureModels(t), auth: services.NewAuthService(cfg.JWT)})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict",
		bytes.NewBufferString(`{"PULocationID":161,"DOLocationID":236,"trip_distance":2.5}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 13.2, body["duration"], 1e-9)

	for _, path := range []string{"/api/v1/runs", "/api/v1/auth/login"} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
