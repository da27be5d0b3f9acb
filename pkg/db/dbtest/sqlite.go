// Package dbtest opens throwaway sqlite databases carrying the billing schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE subscription_accounts (
  id TEXT PRIMARY KEY,
  teacher_id TEXT NOT NULL,
  grace_period_days INTEGER NOT NULL,
  access_state TEXT NOT NULL DEFAULT 'active',
  state_changed_at DATETIME,
  superseded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_subscription_accounts_live_teacher ON subscription_accounts (teacher_id) WHERE superseded_at IS NULL;`,
	`CREATE TABLE subscription_state_transitions (
  id TEXT PRIMARY KEY,
  subscription_account_id TEXT NOT NULL,
  from_state TEXT NOT NULL,
  to_state TEXT NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE platform_settings (
  id INTEGER PRIMARY KEY,
  beta_testing_enabled INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`,
	`INSERT INTO platform_settings (id, beta_testing_enabled) VALUES (1, 0);`,
	`CREATE TABLE beta_windows (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  started_at DATETIME NOT NULL,
  ended_at DATETIME
);`,
	`CREATE TABLE batches (
  id TEXT PRIMARY KEY,
  owner_teacher_id TEXT NOT NULL,
  name TEXT NOT NULL,
  fees TEXT,
  student_limit INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE batch_students (
  batch_id TEXT NOT NULL,
  student_id TEXT NOT NULL,
  material_access_blocked INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  PRIMARY KEY (batch_id, student_id)
);`,
	`CREATE TABLE billing_periods (
  id TEXT PRIMARY KEY,
  subscription_account_id TEXT NOT NULL,
  batch_id TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  period_end DATETIME NOT NULL,
  amount_due TEXT NOT NULL,
  commission_per_student TEXT NOT NULL,
  effective_student_count INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  settled_at DATETIME,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_billing_periods_scope_start ON billing_periods (subscription_account_id, batch_id, period_start);`,
	`CREATE TABLE payment_attempts (
  id TEXT PRIMARY KEY,
  subscription_account_id TEXT NOT NULL,
  batch_id TEXT,
  billing_period_ids TEXT NOT NULL,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  gateway TEXT NOT NULL,
  gateway_reference TEXT,
  redirect_url TEXT,
  expires_at DATETIME,
  mode TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  idempotency_key TEXT NOT NULL,
  failure_reason TEXT,
  finalized_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_payment_attempts_gateway_reference ON payment_attempts (gateway_reference) WHERE gateway_reference IS NOT NULL;`,
	`CREATE UNIQUE INDEX ux_payment_attempts_live_key ON payment_attempts (idempotency_key) WHERE status <> 'failed';`,
	`CREATE TABLE webhook_events (
  id TEXT PRIMARY KEY,
  gateway TEXT NOT NULL,
  gateway_event_id TEXT NOT NULL,
  gateway_reference TEXT NOT NULL,
  outcome TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT 'webhook',
  status TEXT NOT NULL DEFAULT 'received',
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  payload TEXT,
  received_at DATETIME NOT NULL,
  processed_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_webhook_events_gateway_event ON webhook_events (gateway_event_id);`,
	`CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  subscription_account_id TEXT NOT NULL,
  payment_attempt_id TEXT,
  billing_period_id TEXT,
  type TEXT NOT NULL,
  amount TEXT NOT NULL DEFAULT '0',
  metadata TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with every billing table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to apply schema: %v\n%s", err, stmt)
		}
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// OpenSerial is Open capped at one connection. Concurrent callers queue on the pool
// instead of failing on shared-cache table locks, so transactions interleave one at
// a time.
func OpenSerial(t testing.TB) *gorm.DB {
	t.Helper()
	conn := Open(t)
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return conn
}
