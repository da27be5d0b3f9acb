package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/tutorbill-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := migrate.Validate(migrate.Embedded()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEmbeddedMatchesMigrationsDir(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	if len(embedded) != len(onDisk) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}

func TestPaymentAttemptsMigrationGuardsIdempotency(t *testing.T) {
	content := readMigration(t, "create_payment_attempts")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS payment_attempts",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_gateway_reference",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_live_key",
		"WHERE status <> 'failed'",
		"DROP TABLE IF EXISTS payment_attempts",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestBillingPeriodsMigrationIsUniquePerMonth(t *testing.T) {
	content := readMigration(t, "create_billing_periods")
	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_periods_scope_start",
		"(subscription_account_id, batch_id, period_start)",
		"CHECK (amount_due >= 0)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWebhookEventsMigrationDedupsEvents(t *testing.T) {
	content := readMigration(t, "create_webhook_events")
	if !strings.Contains(content, "CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_gateway_event") {
		t.Errorf("missing unique gateway event index")
	}
}
