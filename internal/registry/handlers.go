package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinsync/patient-registry/internal/auth"
	"github.com/clinsync/patient-registry/internal/export"
	"github.com/clinsync/patient-registry/pkg/logger"
	"github.com/clinsync/patient-registry/pkg/types"
)

type contextKey string

const userContextKey contextKey = "user"

// Credential endpoints allow this many attempts per client IP per
// window before returning 429.
const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// Handlers handles HTTP requests for the patient registry
type Handlers struct {
	service      *Service
	auth         *auth.Service
	exporter     *export.Exporter
	logger       *logger.Logger
	loginLimiter *RateLimiter
}

// NewHandlers creates new HTTP handlers
func NewHandlers(service *Service, authService *auth.Service, exporter *export.Exporter, log *logger.Logger) *Handlers {
	return &Handlers{
		service:      service,
		auth:         authService,
		exporter:     exporter,
		logger:       log,
		loginLimiter: NewRateLimiter(loginRateLimit, loginRateWindow),
	}
}

// RegisterRoutes registers HTTP routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Public routes; credential endpoints are rate limited per IP.
	router.HandleFunc("/api/auth/login", h.limitCredentials(h.Login)).Methods("POST")
	router.HandleFunc("/api/auth/password-reset/request", h.limitCredentials(h.RequestPasswordReset)).Methods("POST")
	router.HandleFunc("/api/auth/password-reset/confirm", h.limitCredentials(h.ResetPassword)).Methods("POST")

	// Authenticated routes
	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(h.AuthMiddleware)

	authed.HandleFunc("/auth/me", h.CurrentUser).Methods("GET")

	authed.HandleFunc("/patients", h.CreatePatient).Methods("POST")
	authed.HandleFunc("/patients", h.ListPatients).Methods("GET")
	authed.HandleFunc("/patients/sync", h.SyncAllPending).Methods("POST")
	authed.HandleFunc("/patients/stats", h.SyncStats).Methods("GET")
	authed.HandleFunc("/patients/{recordID}", h.GetPatient).Methods("GET")
	authed.HandleFunc("/patients/{recordID}", h.UpdatePatient).Methods("PUT")
	authed.HandleFunc("/patients/{recordID}/sync", h.SyncPatient).Methods("POST")

	authed.HandleFunc("/audit", h.QueryAudit).Methods("GET")
	authed.HandleFunc("/audit/stats", h.AuditStats).Methods("GET")

	authed.HandleFunc("/status", h.ConnectivityStatus).Methods("GET")

	authed.HandleFunc("/export/csv", h.ExportCSV).Methods("GET")
	authed.HandleFunc("/export/pdf/{recordID}", h.ExportPDF).Methods("GET")

	// Administrator routes
	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(h.RequireRole(types.RoleAdministrator))

	admin.HandleFunc("/users", h.CreateUser).Methods("POST")
	admin.HandleFunc("/users", h.ListUsers).Methods("GET")
	admin.HandleFunc("/users/{userID}/status", h.SetUserStatus).Methods("PUT")
}

// AuthMiddleware validates the bearer token and stores the user on the
// request context
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.writeError(w, http.StatusUnauthorized, types.ErrCodeNotAuthenticated, "Missing bearer token")
			return
		}

		user, err := h.auth.ValidateToken(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			h.writeRegistryError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitCredentials rejects clients exceeding the credential attempt
// budget with 429
func (h *Handlers) limitCredentials(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.loginLimiter.Allow(requestMeta(r).IPAddress) {
			h.writeError(w, http.StatusTooManyRequests, types.ErrCodeRateLimited,
				"Too many attempts, try again later")
			return
		}
		next(w, r)
	}
}

// RequireRole gates a subtree on the user holding one of the roles
func (h *Handlers) RequireRole(roles ...types.UserRole) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !types.HasRole(h.currentUser(r), roles...) {
				h.writeError(w, http.StatusForbidden, types.ErrCodeForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Login handles credential authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var creds types.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	token, user, err := h.auth.Login(r.Context(), &creds)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// CurrentUser returns the authenticated user
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.currentUser(r))
}

// RequestPasswordReset issues a reset token for the given email
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	if _, err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	// Always 202: the response must not reveal whether the email exists.
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the account exists, a reset token has been issued",
	})
}

// ResetPassword consumes a reset token
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// CreatePatient handles patient record creation
func (h *Handlers) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req types.CreatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	record, err := h.service.CreatePatientRecord(r.Context(), &req, h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, record)
}

// ListPatients returns all patient records, newest first
func (h *Handlers) ListPatients(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListPatientRecords(r.Context())
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"patients": records,
		"total":    len(records),
	})
}

// GetPatient returns a single patient record
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPatientRecord(r.Context(), mux.Vars(r)["recordID"])
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// UpdatePatient applies field-level updates
func (h *Handlers) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	var updates types.PatientUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	record, err := h.service.UpdatePatientRecord(r.Context(), mux.Vars(r)["recordID"], &updates, h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// SyncPatient pushes a single record to the external registry
func (h *Handlers) SyncPatient(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SyncPatientRecord(r.Context(), mux.Vars(r)["recordID"], h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// SyncAllPending pushes every pending record
func (h *Handlers) SyncAllPending(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.SyncAllPending(r.Context(), h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// SyncStats returns record counts per sync status
func (h *Handlers) SyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SyncStats(r.Context())
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// QueryAudit returns audit entries matching the query parameters
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	entries, err := h.service.QueryAuditLog(r.Context(), filter)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// AuditStats returns aggregated audit log activity
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AuditStats(r.Context())
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// ConnectivityStatus reports external registry reachability
func (h *Handlers) ConnectivityStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": h.service.Online(),
	})
}

// ExportCSV streams all patient records as CSV
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListPatientRecords(r.Context())
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="patients.csv"`)
	if err := h.exporter.WriteCSV(w, records); err != nil {
		h.logger.WithError(err).Error("Failed to stream CSV export")
	}
}

// ExportPDF renders a single patient record summary as PDF
func (h *Handlers) ExportPDF(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetPatientRecord(r.Context(), mux.Vars(r)["recordID"])
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	pdf, err := h.exporter.RenderPDF(r.Context(), record)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.PatientID+`.pdf"`)
	w.Write(pdf)
}

// CreateUser registers a new account (administrators only)
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	user, err := h.auth.CreateUser(r.Context(), &req, h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, user)
}

// ListUsers returns all accounts (administrators only)
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.auth.ListUsers(r.Context())
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": len(users),
	})
}

// SetUserStatus enables or disables an account (administrators only)
func (h *Handlers) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload")
		return
	}

	user, err := h.auth.SetUserActive(r.Context(), mux.Vars(r)["userID"], req.IsActive, h.currentUser(r), requestMeta(r))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) currentUser(r *http.Request) *types.User {
	user, _ := r.Context().Value(userContextKey).(*types.User)
	return user
}

func requestMeta(r *http.Request) *types.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	} else if idx := strings.IndexByte(ip, ','); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}

	return &types.RequestMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

func parseAuditFilter(r *http.Request) (*types.AuditFilter, error) {
	q := r.URL.Query()
	filter := &types.AuditFilter{
		Action:     types.AuditAction(q.Get("action")),
		ActorEmail: q.Get("actor"),
		EntityType: types.EntityType(q.Get("entity_type")),
	}

	parseTime := func(key string) (time.Time, error) {
		value := q.Get(key)
		if value == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, types.NewValidationError(types.ErrCodeInvalidInput,
				key+" must be RFC3339", nil)
		}
		return t, nil
	}

	var err error
	if filter.From, err = parseTime("from"); err != nil {
		return nil, err
	}
	if filter.To, err = parseTime("to"); err != nil {
		return nil, err
	}

	parseInt := func(key string) (int, error) {
		value := q.Get(key)
		if value == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, types.NewValidationError(types.ErrCodeInvalidInput,
				key+" must be a non-negative integer", nil)
		}
		return n, nil
	}

	if filter.Limit, err = parseInt("limit"); err != nil {
		return nil, err
	}
	if filter.Offset, err = parseInt("offset"); err != nil {
		return nil, err
	}

	return filter, nil
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	errorResponse := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	h.writeJSON(w, status, errorResponse)
}

// writeRegistryError maps a service error to an HTTP status
func (h *Handlers) writeRegistryError(w http.ResponseWriter, err error) {
	var regErr *types.RegistryError
	if !errors.As(err, &regErr) {
		h.writeError(w, http.StatusInternalServerError, types.ErrCodeInternalError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch regErr.Type {
	case types.ErrorTypeValidation:
		status = http.StatusBadRequest
	case types.ErrorTypeConflict:
		status = http.StatusConflict
	case types.ErrorTypeNotFound:
		status = http.StatusNotFound
	case types.ErrorTypeAuthentication:
		status = http.StatusUnauthorized
	case types.ErrorTypeAuthorization:
		status = http.StatusForbidden
	case types.ErrorTypeSync:
		status = http.StatusBadGateway
	case types.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    regErr.Code,
			"message": regErr.Message,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if len(regErr.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = regErr.Details
	}

	h.writeJSON(w, status, response)
}
