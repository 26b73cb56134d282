package orderjournal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/martistream/internal/domain"
)

func TestWALStore_SaveAndRead(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, uint64(0), store.CurrentIndex())

	orders := []domain.Order{
		{ID: 1, Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Status: domain.OrderStatusNew, Price: 30000},
		{ID: 1, Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Status: domain.OrderStatusFilled, Price: 30000, CumulativeFilledQuantity: 0.5},
		{ID: 2, Symbol: "ETHUSDT", Side: "SELL", Type: "MARKET", Status: domain.OrderStatusNew},
	}
	for _, o := range orders {
		require.NoError(t, store.Save(o))
	}

	assert.Equal(t, uint64(3), store.CurrentIndex())

	all, err := store.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		assert.Equal(t, uint64(i+1), rec.Index)
		assert.Equal(t, orders[i], rec.Order)
	}

	tail, err := store.RecordsAfter(2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(2), tail[0].Order.ID)

	none, err := store.RecordsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWALStore_RejectsOrderWithoutID(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	assert.Error(t, store.Save(domain.Order{Symbol: "BTCUSDT"}))
	assert.Equal(t, uint64(0), store.CurrentIndex())
}

func TestWALStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(domain.Order{ID: 9, Symbol: "BNBUSDT", Status: domain.OrderStatusCanceled}))
	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	records, err := reopened.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(9), records[0].Order.ID)
}

func TestWALStore_NilStore(t *testing.T) {
	var store *WALStore
	assert.Error(t, store.Save(domain.Order{ID: 1}))
	_, err := store.RecordsAfter(0)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), store.CurrentIndex())
}

func TestWALStore_SkipsForeignEntries(t *testing.T) {
	store, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Save(domain.Order{ID: 1, Symbol: "BTCUSDT", Status: domain.OrderStatusNew}))
	require.NoError(t, store.wal.Write(store.wal.CurrentIndex()+1, "marker_1", []byte(`{}`)))
	require.NoError(t, store.Save(domain.Order{ID: 2, Symbol: "ETHUSDT", Status: domain.OrderStatusNew}))

	records, err := store.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Index)
	assert.Equal(t, uint64(3), records[1].Index)
	assert.Equal(t, int64(2), records[1].Order.ID)
}
