package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
)

func countWindows(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.BetaWindow{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	conn := dbtest.Open(t)
	client := FromConn(conn)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Create(&models.BetaWindow{}).Error
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countWindows(t, conn))
}

func TestWithTxRollsBackOnErrorAndPanic(t *testing.T) {
	conn := dbtest.Open(t)
	client := FromConn(conn)
	boom := errors.New("boom")

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&models.BetaWindow{}).Error)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&models.BetaWindow{}).Error)
			panic("handler bug")
		})
	})
	assert.Zero(t, countWindows(t, conn))
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	client := FromConn(dbtest.Open(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestPingAndClose(t *testing.T) {
	client := FromConn(dbtest.Open(t))
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.EqualError(t, err, "database DSN is required")
}

func TestIsUniqueViolation(t *testing.T) {
	const constraint = "ux_payment_attempts_live_key"
	pgxErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: constraint}
	pqErr := &pq.Error{Code: uniqueViolationCode, Constraint: "ux_webhook_events_gateway_event"}

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"pgx match", fmt.Errorf("insert attempt: %w", pgxErr), constraint, true},
		{"pgx any constraint", pgxErr, "", true},
		{"pgx other constraint", pgxErr, "ux_other", false},
		{"pgx other code", &pgconn.PgError{Code: "23503"}, "", false},
		{"pq match", pqErr, "ux_webhook_events_gateway_event", true},
		{"pq other constraint", pqErr, constraint, false},
		{"postgres text", errors.New(`ERROR: duplicate key value violates unique constraint "` + constraint + `"`), constraint, true},
		{"postgres text mismatch", errors.New(`ERROR: duplicate key value violates unique constraint "other"`), constraint, false},
		{"sqlite", errors.New("UNIQUE constraint failed: webhook_events.gateway_event_id"), "ux_webhook_events_gateway_event", true},
		{"unrelated", errors.New("connection refused"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}

func TestUniqueIndexSurfacesAsViolation(t *testing.T) {
	conn := dbtest.Open(t)
	row := models.WebhookEvent{
		Gateway:          "stripe",
		GatewayEventID:   "evt_dup",
		GatewayReference: "cs_1",
		Outcome:          "succeeded",
		Source:           "webhook",
		ReceivedAt:       time.Now().UTC(),
	}
	first := row
	first.ID = uuid.New()
	require.NoError(t, conn.Create(&first).Error)

	second := row
	second.ID = uuid.New()
	err := conn.Create(&second).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err, "ux_webhook_events_gateway_event"))
}
