package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/dealbook/migrations"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"001_reconciliation.sql", "001_reconciliation"},
		{"001_reconciliation.SQL", "001_reconciliation"},
		{"001_reconciliation", "001_reconciliation"},
		{".sql", ".sql"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeVersion(tt.input), tt.input)
	}
}

func TestFindMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.sql":      {Data: []byte("CREATE INDEX x ON loans (bank_id);")},
		"001_reconciliation.sql": {Data: []byte("CREATE TABLE projects (id BIGINT);")},
		"README.md":              {Data: []byte("notes")},
		"archive/000_old.sql":    {Data: []byte("SELECT 1;")},
	}

	got, err := findMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Migration{Version: "001_reconciliation", Name: "001_reconciliation.sql"}, got[0])
	assert.Equal(t, "002_add_index", got[1].Version)
}

func TestFindMigrations_Embedded(t *testing.T) {
	got, err := findMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "001_reconciliation", got[0].Version)
}

func TestBuildStatus(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	files := []Migration{
		{Version: "001_reconciliation", Name: "001_reconciliation.sql"},
		{Version: "002_add_index", Name: "002_add_index.sql"},
	}
	applied := map[string]time.Time{
		"001_reconciliation": at,
		"000_legacy":         at,
	}

	status := buildStatus(files, applied)

	require.Len(t, status.Applied, 1)
	assert.Equal(t, "001_reconciliation", status.Applied[0].Version)
	assert.Equal(t, at, *status.Applied[0].AppliedAt)

	require.Len(t, status.Pending, 1)
	assert.Equal(t, "002_add_index", status.Pending[0].Version)
	assert.Nil(t, status.Pending[0].AppliedAt)

	require.Len(t, status.Drift, 1)
	assert.Equal(t, "000_legacy.sql", status.Drift[0].Name)
}

func TestMigrations_NilPool(t *testing.T) {
	ctx := context.Background()

	_, err := RunMigrations(ctx, nil, migrations.FS)
	assert.Error(t, err)

	_, err = GetMigrationStatus(ctx, nil, migrations.FS)
	assert.Error(t, err)
}
