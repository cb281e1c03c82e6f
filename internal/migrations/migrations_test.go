package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.Len(t, names, 2)

	for _, name := range names {
		data, err := embeddedMigrations.ReadFile(dir + "/" + name)
		require.NoError(t, err)
		content := string(data)
		assert.True(t, strings.HasPrefix(content, "-- +goose Up"), name)
		assert.Contains(t, content, "-- +goose Down", name)
	}
}

func TestNotificationScopeConstraint(t *testing.T) {
	data, err := embeddedMigrations.ReadFile(dir + "/00002_notifications.sql")
	require.NoError(t, err)
	content := string(data)

	for _, branch := range []string{
		"(scope = 'System'  AND company_id IS NULL     AND target_user_id IS NULL)",
		"(scope = 'Company' AND company_id IS NOT NULL AND target_user_id IS NULL)",
		"(scope = 'User'    AND company_id IS NULL     AND target_user_id IS NOT NULL)",
	} {
		assert.Contains(t, content, branch)
	}
}
