package tradingtypes

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHolding_Add_WeightedAverage(t *testing.T) {
	h := Holding{StockCode: "005930", Quantity: 10, AvgPrice: decimal.NewFromInt(100)}
	h = h.Add(10, decimal.NewFromInt(200))

	assert.EqualValues(t, 20, h.Quantity)
	assert.True(t, h.AvgPrice.Equal(decimal.NewFromInt(150)), "got %s", h.AvgPrice)
}

func TestHolding_Add_FromEmpty(t *testing.T) {
	h := Holding{StockCode: "005930"}
	h = h.Add(5, decimal.NewFromInt(300))

	assert.EqualValues(t, 5, h.Quantity)
	assert.True(t, h.AvgPrice.Equal(decimal.NewFromInt(300)))
}

func TestHolding_Reduce_PartialKeepsAvgPrice(t *testing.T) {
	h := Holding{StockCode: "005930", Quantity: 10, AvgPrice: decimal.NewFromInt(150)}
	h = h.Reduce(4)

	assert.EqualValues(t, 6, h.Quantity)
	assert.True(t, h.AvgPrice.Equal(decimal.NewFromInt(150)))
}

func TestHolding_Reduce_FullClosesPosition(t *testing.T) {
	h := Holding{StockCode: "005930", Quantity: 10, AvgPrice: decimal.NewFromInt(150)}
	h = h.Reduce(10)

	assert.Zero(t, h.Quantity)
}

func TestHolding_Reduce_OverReduceClampsToZero(t *testing.T) {
	h := Holding{StockCode: "005930", Quantity: 3, AvgPrice: decimal.NewFromInt(150)}
	h = h.Reduce(100)

	assert.Zero(t, h.Quantity)
}
