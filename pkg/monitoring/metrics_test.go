package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// The default registry rejects duplicate registration, so all tests in
// this package share one collector.
var collector = NewMetricsCollector("test-service")

func TestMetricsCollector_RecordAuthAttempt(t *testing.T) {
	collector.RecordAuthAttempt("password", "failure")
	collector.RecordAuthAttempt("password", "failure")
	collector.RecordAuthAttempt("password", "success")

	failures := testutil.ToFloat64(authAttemptsTotal.WithLabelValues("password", "failure", "test-service"))
	successes := testutil.ToFloat64(authAttemptsTotal.WithLabelValues("password", "success", "test-service"))
	assert.Equal(t, 2.0, failures)
	assert.Equal(t, 1.0, successes)
}

func TestMetricsCollector_RecordAuditEvent(t *testing.T) {
	collector.RecordAuditEvent("CREATE_PATIENT", true)
	collector.RecordAuditEvent("CREATE_PATIENT", true)
	collector.RecordAuditEvent("SYNC_PATIENT", false)

	ok := testutil.ToFloat64(auditEventsTotal.WithLabelValues("CREATE_PATIENT", "true", "test-service"))
	failed := testutil.ToFloat64(auditEventsTotal.WithLabelValues("SYNC_PATIENT", "false", "test-service"))
	assert.Equal(t, 2.0, ok)
	assert.Equal(t, 1.0, failed)
}

func TestMetricsCollector_RecordSystemError(t *testing.T) {
	collector.RecordSystemError("reconnect_sync", "sync_engine")

	count := testutil.ToFloat64(systemErrors.WithLabelValues("reconnect_sync", "test-service", "sync_engine"))
	assert.Equal(t, 1.0, count)
}

func TestMetricsCollector_SyncGauges(t *testing.T) {
	collector.SetPendingRecords(7)
	collector.SetConnectivity(false)

	assert.Equal(t, 7.0, testutil.ToFloat64(pendingRecords.WithLabelValues("test-service")))
	assert.Equal(t, 0.0, testutil.ToFloat64(connectivityState.WithLabelValues("test-service")))

	collector.SetConnectivity(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(connectivityState.WithLabelValues("test-service")))
}

func TestMetricsCollector_RecordSyncAttempt(t *testing.T) {
	collector.RecordSyncAttempt("synced", 120*time.Millisecond)

	count := testutil.ToFloat64(syncAttemptsTotal.WithLabelValues("synced", "test-service"))
	assert.Equal(t, 1.0, count)
}
