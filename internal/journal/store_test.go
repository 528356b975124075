package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := map[string]string{
		"SELECT 1":                      "SELECT 1",
		"WHERE a = ? AND b = ?":         "WHERE a = $1 AND b = $2",
		"WHERE a = '?' AND b = ?":       "WHERE a = '?' AND b = $1",
		"WHERE a = 'it''s ?' AND b = ?": "WHERE a = 'it''s ?' AND b = $1",
		"VALUES (?, ?, 1, ?)":           "VALUES ($1, $2, 1, $3)",
		"WHERE note = '' AND id = ?":    "WHERE note = '' AND id = $1",
	}
	for in, want := range tests {
		require.Equal(t, want, rebind(in), in)
	}
}
