package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodBody = "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"

func TestValidateReportsEveryProblem(t *testing.T) {
	migrations := fstest.MapFS{
		"20260101000000_first.sql":     {Data: []byte(goodBody)},
		"20260101000000_duplicate.sql": {Data: []byte(goodBody)},
		"2026_bad_name.sql":            {Data: []byte(goodBody)},
		"20260102000000_no_down.sql":   {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"README.md":                    {Data: []byte("ignored")},
	}

	err := Validate(migrations)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "already used by")
	assert.Contains(t, msg, "2026_bad_name.sql")
	assert.Contains(t, msg, `20260102000000_no_down.sql: missing "-- +goose Down"`)
	assert.NotContains(t, msg, "README.md")
}

func TestValidateAcceptsCleanSet(t *testing.T) {
	migrations := fstest.MapFS{
		"20260101000000_first.sql":  {Data: []byte(goodBody)},
		"20260102000000_second.sql": {Data: []byte(goodBody)},
	}
	assert.NoError(t, Validate(migrations))
}

func TestNewMigrationFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := NewMigrationFile(dir, "  Add Refund Columns! ", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_refund_columns.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"))
	assert.NoError(t, Validate(os.DirFS(dir)))

	_, err = NewMigrationFile(dir, "add refund columns", now)
	assert.Error(t, err, "existing file must not be overwritten")

	_, err = NewMigrationFile(dir, "!!!", now)
	assert.Error(t, err)
}
