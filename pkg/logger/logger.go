package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with registry-specific helpers
type Logger struct {
	*logrus.Logger
}

// New creates a new logger instance
func New(level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithField creates a new logger entry with a single field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithError creates a new logger entry with an error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithComponent creates a new logger entry with a component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

// WithRecordID creates a new logger entry with a patient record ID field
func (l *Logger) WithRecordID(recordID string) *logrus.Entry {
	return l.Logger.WithField("record_id", recordID)
}

// Audit logs audit events with structured format
func (l *Logger) Audit(actorEmail, action, entity string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":   true,
		"actor":   actorEmail,
		"action":  action,
		"entity":  entity,
		"success": success,
		"details": details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// SyncAttempt logs the outcome of a remote sync attempt
func (l *Logger) SyncAttempt(recordID string, success bool, reason string, durationMs int64) {
	entry := l.Logger.WithFields(logrus.Fields{
		"sync":        true,
		"record_id":   recordID,
		"success":     success,
		"duration_ms": durationMs,
	})

	if success {
		entry.Info("Sync attempt completed")
	} else {
		entry.WithField("reason", reason).Warn("Sync attempt failed")
	}
}
