package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinsync/patient-registry/pkg/types"
)

// HTTPTarget submits records to the external research registry over
// its JSON API
type HTTPTarget struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

// NewHTTPTarget creates a target for the registry at baseURL
func NewHTTPTarget(baseURL, apiToken string, timeout time.Duration) *HTTPTarget {
	return &HTTPTarget{
		baseURL:  baseURL,
		apiToken: apiToken,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type pushPayload struct {
	PatientID     string `json:"patient_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	DateOfBirth   string `json:"date_of_birth,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Diagnosis     string `json:"diagnosis,omitempty"`
	TreatmentPlan string `json:"treatment_plan,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type pushResponse struct {
	RecordID string `json:"record_id"`
}

// Push submits a record and returns the external record ID assigned by
// the remote registry
func (t *HTTPTarget) Push(ctx context.Context, record *types.PatientRecord) (string, error) {
	payload := pushPayload{
		PatientID:     record.PatientID,
		FirstName:     record.FirstName,
		LastName:      record.LastName,
		Gender:        record.Gender,
		Diagnosis:     record.Diagnosis,
		TreatmentPlan: record.TreatmentPlan,
		Notes:         record.Notes,
	}
	if record.DateOfBirth != nil {
		payload.DateOfBirth = record.DateOfBirth.Format("2006-01-02")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewSyncError(types.ErrCodeSyncFailed, "failed to encode record", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/records", bytes.NewReader(body))
	if err != nil {
		return "", types.NewSyncError(types.ErrCodeSyncFailed, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", types.NewSyncError(types.ErrCodeSyncFailed, "remote registry unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", types.NewSyncError(types.ErrCodeSyncFailed,
			fmt.Sprintf("remote registry returned %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", types.NewSyncError(types.ErrCodeSyncFailed, "failed to decode registry response", err)
	}
	if result.RecordID == "" {
		return "", types.NewSyncError(types.ErrCodeSyncFailed, "remote registry returned no record ID", nil)
	}

	return result.RecordID, nil
}

// Healthy probes the registry health endpoint
func (t *HTTPTarget) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
