package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesAreSortedAndEmbedded(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])

	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestInitMigrationDeclaresSchemeUniqueness(t *testing.T) {
	raw, err := migrationFiles.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)

	sql := string(raw)
	for _, table := range []string{"groups", "members", "transactions", "meeting_attendances", "loan_requests", "scheme_eligibilities"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.True(t, strings.Contains(sql, "UNIQUE (member_id, scheme_name)"))
	assert.Contains(t, sql, "channel_id TEXT NOT NULL UNIQUE")
}
