package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/patient-registry/internal/auth"
	"github.com/clinsync/patient-registry/internal/export"
	"github.com/clinsync/patient-registry/internal/store"
	"github.com/clinsync/patient-registry/pkg/config"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

type apiFixture struct {
	*fixture
	router *mux.Router
	auth   *auth.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := newFixture(t)
	testLogger := logger.New("debug")

	users := store.NewMemoryUserStore()
	authService := auth.NewService(&config.JWTConfig{
		SecretKey:      "test-secret-key",
		AccessTokenTTL: 3600,
		Issuer:         "clinsync-patient-registry",
	}, testLogger, users, auth.NewPasswordManager(), f.log, nil)

	handlers := NewHandlers(f.service, authService, export.NewExporter(testLogger), testLogger)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &apiFixture{fixture: f, router: router, auth: authService}
}

func (f *apiFixture) createUser(t *testing.T, email string, role types.UserRole) string {
	t.Helper()

	_, err := f.auth.CreateUser(context.Background(), &types.CreateUserRequest{
		Email:    email,
		Password: "secret123",
		Role:     role,
	}, nil, nil)
	require.NoError(t, err)

	token, _, err := f.auth.Login(context.Background(), &types.Credentials{
		Email:    email,
		Password: "secret123",
	})
	require.NoError(t, err)
	return token.AccessToken
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandlers_LoginAndMe(t *testing.T) {
	f := newAPIFixture(t)
	f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	resp := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "researcher@clinic.org",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var loginBody struct {
		Token types.AuthToken `json:"token"`
		User  types.User      `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &loginBody))
	assert.NotEmpty(t, loginBody.Token.AccessToken)
	assert.Equal(t, "researcher@clinic.org", loginBody.User.Email)

	me := f.do(t, http.MethodGet, "/api/auth/me", loginBody.Token.AccessToken, nil)
	require.Equal(t, http.StatusOK, me.Code)
}

func TestHandlers_LoginBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	resp := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "researcher@clinic.org",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHandlers_LoginRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	body := map[string]string{
		"email":    "researcher@clinic.org",
		"password": "wrong",
	}

	// All requests come from the same client IP in httptest.
	for i := 0; i < loginRateLimit; i++ {
		resp := f.do(t, http.MethodPost, "/api/auth/login", "", body)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	}

	resp := f.do(t, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Contains(t, resp.Body.String(), types.ErrCodeRateLimited)
}

func TestHandlers_PatientsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/patients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestHandlers_CreateAndListPatients(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	resp := f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))
	require.Equal(t, http.StatusCreated, resp.Code)

	var record types.PatientRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &record))
	assert.Equal(t, types.SyncStatusPending, record.SyncStatus)
	assert.Equal(t, "researcher@clinic.org", record.CreatedBy)

	list := f.do(t, http.MethodGet, "/api/patients", token, nil)
	require.Equal(t, http.StatusOK, list.Code)

	var listBody struct {
		Patients []*types.PatientRecord `json:"patients"`
		Total    int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listBody))
	assert.Equal(t, 1, listBody.Total)
}

func TestHandlers_CreatePatientStatusCodes(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	bad := f.do(t, http.MethodPost, "/api/patients", token, createRequest("bogus"))
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	first := f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))
	require.Equal(t, http.StatusCreated, first.Code)

	dup := f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))
	assert.Equal(t, http.StatusConflict, dup.Code)
}

func TestHandlers_SyncEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	created := f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))
	require.Equal(t, http.StatusCreated, created.Code)

	var record types.PatientRecord
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &record))

	synced := f.do(t, http.MethodPost, fmt.Sprintf("/api/patients/%s/sync", record.ID), token, nil)
	require.Equal(t, http.StatusOK, synced.Code)

	var result types.SyncResult
	require.NoError(t, json.Unmarshal(synced.Body.Bytes(), &result))
	assert.Equal(t, types.SyncStatusSynced, result.Status)

	missing := f.do(t, http.MethodPost, "/api/patients/missing/sync", token, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHandlers_AuditQueryAndStats(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))

	resp := f.do(t, http.MethodGet, "/api/audit?action=CREATE_PATIENT&actor=researcher", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var auditBody struct {
		Entries []*types.AuditEntry `json:"entries"`
		Total   int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &auditBody))
	assert.Equal(t, 1, auditBody.Total)

	badTime := f.do(t, http.MethodGet, "/api/audit?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, badTime.Code)

	stats := f.do(t, http.MethodGet, "/api/audit/stats", token, nil)
	assert.Equal(t, http.StatusOK, stats.Code)
}

func TestHandlers_AdminRoutesRequireAdministrator(t *testing.T) {
	f := newAPIFixture(t)
	researcher := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)
	admin := f.createUser(t, "admin@clinic.org", types.RoleAdministrator)

	denied := f.do(t, http.MethodGet, "/api/admin/users", researcher, nil)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	allowed := f.do(t, http.MethodGet, "/api/admin/users", admin, nil)
	assert.Equal(t, http.StatusOK, allowed.Code)

	created := f.do(t, http.MethodPost, "/api/admin/users", admin, map[string]string{
		"email":    "new@clinic.org",
		"password": "secret123",
		"role":     "researcher",
	})
	assert.Equal(t, http.StatusCreated, created.Code)
}

func TestHandlers_ExportCSV(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	f.do(t, http.MethodPost, "/api/patients", token, createRequest("PAT-123456-ABC"))

	resp := f.do(t, http.MethodGet, "/api/export/csv", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "PAT-123456-ABC")
}

func TestHandlers_ConnectivityStatus(t *testing.T) {
	f := newAPIFixture(t)
	token := f.createUser(t, "researcher@clinic.org", types.RoleResearcher)

	resp := f.do(t, http.MethodGet, "/api/status", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"online":true`)
}
