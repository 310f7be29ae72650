package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceLevelCounters(t *testing.T) {
	pl := newPriceLevel(100)
	pl.AddOrder(&Order{ID: 1, Price: 100, Qty: 10, Timestamp: 5})
	pl.AddOrder(&Order{ID: 2, Price: 100, Qty: 30, Iceberg: true, VisibleQty: 5, Timestamp: 9})

	assert.EqualValues(t, 40, pl.Quantity())
	assert.EqualValues(t, 2, pl.OrderCount())
	assert.EqualValues(t, 25, pl.HiddenQuantity())
	assert.EqualValues(t, 9, pl.LastUpdate())

	o := pl.RemoveOrder(2)
	require.NotNil(t, o)
	assert.EqualValues(t, 10, pl.Quantity())
	assert.EqualValues(t, 1, pl.OrderCount())
	assert.Zero(t, pl.HiddenQuantity())
}

func TestPriceLevelRemoveKeepsTimePriority(t *testing.T) {
	pl := newPriceLevel(100)
	for id := uint64(1); id <= 4; id++ {
		pl.AddOrder(&Order{ID: id, Price: 100, Qty: 1})
	}
	require.NotNil(t, pl.RemoveOrder(2))

	var ids []uint64
	for o := pl.Head(); o != nil; o = o.Next() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []uint64{1, 3, 4}, ids)

	assert.Equal(t, uint64(1), pl.PopHead().ID)
	assert.Equal(t, uint64(3), pl.Head().ID)
}

func TestPriceLevelRemoveUnknown(t *testing.T) {
	pl := newPriceLevel(100)
	pl.AddOrder(&Order{ID: 1, Price: 100, Qty: 1})

	assert.Nil(t, pl.RemoveOrder(42))
	assert.EqualValues(t, 1, pl.OrderCount())
}

func TestPriceLevelSyntheticNotRemovableByID(t *testing.T) {
	pl := newPriceLevel(100)
	pl.AddOrder(&Order{Price: 100, Qty: 3, Synthetic: true})

	assert.Nil(t, pl.RemoveOrder(0))
	assert.False(t, pl.Empty())
}
