package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS billing_audit_log").WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(context.Background(), db)
	require.NoError(t, err)
	return logger, mock
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		logger, mock := newTestDBLogger(t)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(context.Background(), nil)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS billing_audit_log").WillReturnError(errors.New("permission denied"))

		logger, err := NewDBLogger(context.Background(), db)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure billing_audit_log table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := newTestDBLogger(t)

	event := &Event{
		Timestamp:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EventType:      EventTypeSubscriptionActivated,
		Status:         EventStatusSuccess,
		ActorID:        "admin-1",
		ActorRole:      "platform_admin",
		OrganizationID: "org-1",
		ResourceType:   ResourceTypeOrganization,
		ResourceID:     "org-1",
		Message:        "activated",
		Metadata:       map[string]interface{}{"plan": "basic"},
		Changes: &ChangeDetails{
			Before: map[string]interface{}{"status": "expired"},
			After:  map[string]interface{}{"status": "active"},
		},
	}

	mock.ExpectQuery("INSERT INTO billing_audit_log").
		WithArgs(
			event.Timestamp, event.EventType, event.Status,
			"admin-1", "platform_admin", "org-1",
			ResourceTypeOrganization, "org-1", "",
			"activated", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogError(t *testing.T) {
	logger, mock := newTestDBLogger(t)
	mock.ExpectQuery("INSERT INTO billing_audit_log").WillReturnError(errors.New("disk full"))

	err := logger.Log(context.Background(), &Event{EventType: EventTypePaymentConfirmed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit log")
}

func TestDBLogger_Search(t *testing.T) {
	logger, mock := newTestDBLogger(t)
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status",
		"actor_id", "actor_role", "organization_id",
		"resource_type", "resource_id", "request_id",
		"message", "metadata", "changes",
	}).AddRow(
		7, ts, "credits.bonus_granted", "success",
		"admin-1", "platform_admin", "org-1",
		"credit_ledger", "org-1", nil,
		"granted", []byte(`{"credits":50}`), []byte(`{"before":{"bonus_credits":0},"after":{"bonus_credits":50}}`),
	)

	mock.ExpectQuery("SELECT (.+) FROM billing_audit_log WHERE 1=1 AND organization_id = \\$1 AND event_type = ANY\\(\\$2\\) ORDER BY timestamp DESC, id DESC LIMIT \\$3").
		WithArgs("org-1", sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), SearchFilter{
		OrganizationID: "org-1",
		EventTypes:     []EventType{EventTypeCreditsBonusGranted},
		Limit:          10,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, EventTypeCreditsBonusGranted, e.EventType)
	assert.Equal(t, ResourceTypeLedger, e.ResourceType)
	assert.Equal(t, "", e.RequestID)
	assert.Equal(t, float64(50), e.Metadata["credits"])
	require.NotNil(t, e.Changes)
	assert.Equal(t, float64(50), e.Changes.After["bonus_credits"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
