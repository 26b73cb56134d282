package coins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRunDB builds statements without a live server. Writes skip the default transaction,
// which would otherwise dial.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=test dbname=test sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)

	return db
}

func TestEnabledQuery(t *testing.T) {
	db := dryRunDB(t)

	var rows []Coin
	stmt := enabledQuery(db).Find(&rows).Statement

	assert.Equal(t, `SELECT * FROM "coins" WHERE enabled = $1 ORDER BY symbol`, stmt.SQL.String())
	assert.Equal(t, []interface{}{true}, stmt.Vars)
}

func TestUpsertQuery(t *testing.T) {
	db := dryRunDB(t)

	coin := Coin{Symbol: "BTC", Enabled: false}
	stmt := upsertQuery(db).Create(&coin).Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "coins" ("symbol","enabled") VALUES ($1,$2)`)
	assert.Contains(t, sql, `ON CONFLICT ("symbol") DO UPDATE SET "enabled"="excluded"."enabled"`)
	assert.Equal(t, []interface{}{"BTC", false}, stmt.Vars)
	assert.False(t, coin.Enabled)
}

func TestSetEnabled_DryRun(t *testing.T) {
	s := New(dryRunDB(t))
	require.NoError(t, s.SetEnabled(context.Background(), "btc", false))
	require.NoError(t, s.SetEnabled(context.Background(), "eth", true))
}

func TestCoin_TableName(t *testing.T) {
	assert.Equal(t, "coins", Coin{}.TableName())
}
