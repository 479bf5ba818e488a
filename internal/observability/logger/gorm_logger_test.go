package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "INSERT", operationFromSQL(`INSERT INTO "resources" ("id") VALUES (1) ON CONFLICT DO UPDATE SET revision = resources.revision + 1`))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "UNKNOWN", operationFromSQL("  "))
}

func TestTableFromSQL(t *testing.T) {
	assert.Equal(t, "resources", tableFromSQL(`INSERT INTO "resources" ("id") VALUES (1)`))
	assert.Equal(t, "cost_records", tableFromSQL("UPDATE `cost_records` SET revision = 2"))
	assert.Equal(t, "recommendations", tableFromSQL("SELECT id FROM recommendations WHERE id = ?"))
	assert.Empty(t, tableFromSQL("SAVEPOINT sp1"))
}

func TestIsBulkIngest(t *testing.T) {
	assert.True(t, isBulkIngest("/api/costs/bulk"))
	assert.False(t, isBulkIngest("/ws/activity-stream/:organization_id"))
}
