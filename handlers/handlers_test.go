package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taxiflow/config"
	"taxiflow/middleware"
	"taxiflow/models"
	"taxiflow/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func predictRouter(modelPath string) (*gin.Engine, *services.ModelService) {
	svc := services.NewModelService(modelPath)
	h := NewPredictHandler(svc, services.NewCacheServiceFromClient(nil))
	r := gin.New()
	r.GET("/health", h.Health)
	r.POST("/predict", h.Predict)
	return r, svc
}

func TestPredict(t *testing.T) {
	r, svc := predictRouter("../artifact/testdata/lin_reg.json")

	rec := doJSON(r, http.MethodGet, "/health", nil)
	assert.Contains(t, rec.Body.String(), `"model_loaded":false`)

	rec = doJSON(r, http.MethodPost, "/predict", map[string]interface{}{
		"PULocationID": 161, "DOLocationID": 236, "trip_distance": 2.5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 13.2, resp.Duration, 1e-9)
	assert.Equal(t, int64(161), resp.PickupLocation)
	assert.Equal(t, int64(236), resp.DropoffLocation)
	assert.Equal(t, 2.5, resp.TripDistance)
	assert.True(t, svc.Loaded())
}

func TestPredictBadRequests(t *testing.T) {
	r, _ := predictRouter("../artifact/testdata/lin_reg.json")

	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"empty body", nil, "no JSON data"},
		{"not an object", "[1,2]", "JSON object"},
		{"missing distance", map[string]interface{}{"PULocationID": 161, "DOLocationID": 236}, "trip_distance"},
		{"missing pickup", map[string]interface{}{"DOLocationID": 236, "trip_distance": 1}, "PULocationID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(r, http.MethodPost, "/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestPredictModelMissing(t *testing.T) {
	r, _ := predictRouter("/nonexistent/lin_reg.bin")

	rec := doJSON(r, http.MethodPost, "/predict", map[string]interface{}{
		"PULocationID": 161, "DOLocationID": 236, "trip_distance": 2.5,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

var runColumns = []string{"run_id", "batch_id", "status", "input_path", "output_path", "model_version",
	"records", "throughput", "mean_duration", "output_bytes", "error", "started_at", "finished_at"}

func TestListRuns(t *testing.T) {
	db, mock := newMockDB(t)
	h := NewRunHandler(db, services.NewCacheServiceFromClient(nil))
	r := gin.New()
	r.GET("/runs", h.ListRuns)

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(runColumns).
		AddRow("r3", "b3", "succeeded", "in/b3.parquet", "out/p3.parquet", "v1", 10, 100.0, 12.5, 2048, nil, t0, t0).
		AddRow("r2", "b2", "succeeded", "in/b2.parquet", "out/p2.parquet", "v1", 10, 100.0, 12.5, 2048, nil, t0.Add(-time.Hour), t0).
		AddRow("r1", "b1", "succeeded", "in/b1.parquet", "out/p1.parquet", "v1", 10, 100.0, 12.5, 2048, nil, t0.Add(-2*time.Hour), t0)
	mock.ExpectQuery(`SELECT \* FROM "batch_runs" WHERE status = \$1 ORDER BY started_at DESC`).WillReturnRows(rows)

	rec := doJSON(r, http.MethodGet, "/runs?limit=2&status=succeeded", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data       []map[string]interface{} `json:"data"`
		NextCursor string                   `json:"next_cursor"`
		HasMore    bool                     `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	assert.True(t, resp.HasMore)
	assert.Equal(t, t0.Add(-time.Hour).Format(time.RFC3339Nano), resp.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsRejectsUnknownStatus(t *testing.T) {
	db, _ := newMockDB(t)
	r := gin.New()
	r.GET("/runs", NewRunHandler(db, services.NewCacheServiceFromClient(nil)).ListRuns)

	rec := doJSON(r, http.MethodGet, "/runs?status=pending", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query     string
		wantLimit int
		hasBefore bool
	}{
		{"", DefaultLimit, false},
		{"limit=10", 10, false},
		{"limit=-3", DefaultLimit, false},
		{"limit=5000", MaxLimit, false},
		{"before=2025-03-01T12:00:00Z", DefaultLimit, true},
		{"before=yesterday", DefaultLimit, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)

			p := ParsePagination(c)
			assert.Equal(t, tt.wantLimit, p.Limit)
			assert.Equal(t, tt.hasBefore, p.Before != nil)
		})
	}
}

func TestLogin(t *testing.T) {
	db, mock := newMockDB(t)
	auth := services.NewAuthService(config.JWTConfig{Secret: "s", ExpiryHours: 1})
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)

	r := gin.New()
	h := NewAuthHandler(db, auth)
	r.POST("/login", h.Login)

	mock.ExpectQuery(`SELECT \* FROM "operators" WHERE email = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "role", "created_at"}).
			AddRow(7, "ops@taxiflow.dev", hash, "operator", time.Now()))

	rec := doJSON(r, http.MethodPost, "/login", map[string]string{"email": "OPS@taxiflow.dev", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := auth.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.OperatorID)
	assert.NotContains(t, rec.Body.String(), hash)
}

func TestLoginWrongPassword(t *testing.T) {
	db, mock := newMockDB(t)
	auth := services.NewAuthService(config.JWTConfig{Secret: "s", ExpiryHours: 1})
	hash, _ := auth.HashPassword("correct-horse")
	r := gin.New()
	r.POST("/login", NewAuthHandler(db, auth).Login)

	mock.ExpectQuery(`SELECT \* FROM "operators"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "role"}).AddRow(7, "ops@taxiflow.dev", hash, "operator"))

	rec := doJSON(r, http.MethodPost, "/login", map[string]string{"email": "ops@taxiflow.dev", "password": "battery-staple"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	db, _ := newMockDB(t)
	r := gin.New()
	r.POST("/register", NewAuthHandler(db, services.NewAuthService(config.JWTConfig{Secret: "s"})).Register)

	rec := doJSON(r, http.MethodPost, "/register", map[string]string{"email": "not-an-email", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsWebSocketRequiresToken(t *testing.T) {
	auth := services.NewAuthService(config.JWTConfig{Secret: "s", ExpiryHours: 1})
	r := gin.New()
	r.GET("/ws/runs", RunsWebSocket(services.NewCacheServiceFromClient(nil), auth))

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/ws/runs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(r, http.MethodGet, "/ws/runs?token=bad", nil).Code)

	token, err := auth.GenerateToken(1, "ops@taxiflow.dev", "operator")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(r, http.MethodGet, "/ws/runs?token="+token, nil).Code)
}

func TestRunPage(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []models.BatchRun{
		{RunID: "c", StartedAt: base.Add(2 * time.Minute)},
		{RunID: "b", StartedAt: base.Add(time.Minute)},
		{RunID: "a", StartedAt: base},
	}

	page := PaginationParams{Limit: 2}.runPage(rows)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, base.Add(time.Minute).Format(time.RFC3339Nano), page.NextCursor)

	last := PaginationParams{Limit: 5}.runPage(rows)
	assert.False(t, last.HasMore)
	assert.Empty(t, last.NextCursor)
}

func TestParseRunFilter(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?status=failed&batch_id=taxi_batch_a", nil)

	f, err := ParseRunFilter(c)
	require.NoError(t, err)
	assert.Equal(t, RunFilter{Status: models.RunStatusFailed, BatchID: "taxi_batch_a"}, f)
	assert.Equal(t, "runs:redacted:failed:taxi_batch_a:50:", PaginationParams{Limit: DefaultLimit}.cacheKey(f, false))
	assert.Equal(t, "runs:full:failed:taxi_batch_a:50:", PaginationParams{Limit: DefaultLimit}.cacheKey(f, true))
}

func TestGetRunErrorDetailsByRole(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{models.RoleAdmin, "batch b9: chunk 3 failed: trip_distance is not finite"},
		{models.RoleOperator, redactedRunError},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			db, mock := newMockDB(t)
			r := gin.New()
			r.GET("/runs/:id", func(c *gin.Context) {
				c.Set(middleware.ClaimsKey, &services.Claims{OperatorID: 1, Role: tt.role})
			}, NewRunHandler(db, nil).GetRun)

			t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			mock.ExpectQuery(`SELECT \* FROM "batch_runs" WHERE run_id = \$1`).
				WillReturnRows(sqlmock.NewRows(runColumns).
					AddRow("r9", "b9", "failed", "in/b9.parquet", nil, "v1", 10, nil, nil, nil,
						"batch b9: chunk 3 failed: trip_distance is not finite", t0, t0))

			rec := doJSON(r, http.MethodGet, "/runs/r9", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var run models.BatchRun
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
			require.NotNil(t, run.Error)
			assert.Equal(t, tt.want, *run.Error)
		})
	}
}
