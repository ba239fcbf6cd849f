package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/database"
)

var actor = authz.Actor{ID: "fin-1", Name: "Finance", Role: authz.RoleFinanceAdmin}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "audit_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordCommitsWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	r := NewRecorder(db, nil)

	err := db.WithTx(ctx, func(tx *database.Tx) error {
		return r.Record(ctx, tx, Entry{
			Actor:    actor,
			Action:   ActionSettlementCreated,
			Module:   ModuleSettlements,
			TargetID: Target(42),
			After:    map[string]any{"amount": "1000"},
		})
	})
	require.NoError(t, err)

	logs, err := db.ListActivityLogs(ctx, ModuleSettlements, "42")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, actor.ID, logs[0].ActorID)
	assert.Equal(t, actor.Role, logs[0].ActorRole)
	assert.NotEmpty(t, logs[0].ID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &meta))
	assert.Equal(t, map[string]any{"amount": "1000"}, meta["after"])
	assert.NotContains(t, meta, "before")
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	r := NewRecorder(db, nil)

	err := db.WithTx(ctx, func(tx *database.Tx) error {
		if err := r.Record(ctx, tx, Entry{Actor: actor, Action: ActionSettlementDeleted, Module: ModuleSettlements, TargetID: "7"}); err != nil {
			return err
		}
		return errors.New("mutation failed")
	})
	require.Error(t, err)

	logs, err := db.ListActivityLogs(ctx, ModuleSettlements, "7")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRecordBestEffortSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	r := NewRecorder(db, nil)

	// channels cannot be encoded; the failure is logged, not returned
	r.RecordBestEffort(ctx, Entry{Actor: actor, Action: ActionBackupExported, Module: ModuleMaintenance, TargetID: "x", Extra: map[string]any{"bad": make(chan int)}})
	r.RecordBestEffort(ctx, Entry{Actor: actor, Action: ActionBackupExported, Module: ModuleMaintenance, TargetID: "x"})

	logs, err := db.ListActivityLogs(ctx, ModuleMaintenance, "x")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
