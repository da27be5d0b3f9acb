package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

func TestQueryLoggerReportsOnlySlowOrFailedStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	ql := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: buf}), 50*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT * FROM billing_periods", 3 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len(), "fast and not-found statements stay quiet")

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	assert.Contains(t, buf.String(), "slow sql statement")
	assert.Contains(t, buf.String(), "billing_periods")

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("deadlock detected"))
	assert.Contains(t, buf.String(), "sql statement failed")
	assert.Contains(t, buf.String(), "deadlock detected")
}

func TestQueryLoggerWithoutServiceLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		newQueryLogger(nil, time.Second).Trace(context.Background(), time.Now(), func() (string, int64) { return "", 0 }, errors.New("x"))
	})
}
