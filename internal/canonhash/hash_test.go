package canonhash_test

import (
	"testing"

	"github.com/opal-lang/tenantctl/internal/canonhash"
	"github.com/stretchr/testify/require"
)

func TestSum_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{
		"targets": []any{"p1", "p2"},
		"op": map[string]any{
			"action": "database.create",
			"params": map[string]any{"name": "Main", "database_id": "db-main"},
		},
	}
	b := map[string]any{
		"op": map[string]any{
			"params": map[string]any{"database_id": "db-main", "name": "Main"},
			"action": "database.create",
		},
		"targets": []any{"p1", "p2"},
	}

	require.Equal(t, canonhash.Sum(a), canonhash.Sum(b))
}

func TestSum_ArrayOrderMatters(t *testing.T) {
	a := map[string]any{"targets": []any{"p1", "p2"}}
	b := map[string]any{"targets": []any{"p2", "p1"}}

	require.NotEqual(t, canonhash.Sum(a), canonhash.Sum(b))
}

func TestSum_ScalarDistinctFromString(t *testing.T) {
	require.NotEqual(t, canonhash.Sum("1"), canonhash.Sum(float64(1)))
}
