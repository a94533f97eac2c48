package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/broker"
	"github.com/newthinker/tradecore/internal/core"
)

func request(side broker.OrderSide, lots int64) broker.OrderRequest {
	return broker.OrderRequest{
		ClientOrderID: "c-1",
		Symbol:        "SBER",
		Side:          side,
		Quantity:      lots,
		LotSize:       10,
		Price:         100,
	}
}

func TestSender_Fill(t *testing.T) {
	s := NewSender(0.001)

	fill, err := s.Send(context.Background(), request(broker.OrderSideBuy, 3))
	require.NoError(t, err)

	assert.Equal(t, broker.FillStatusFilled, fill.Status)
	assert.Equal(t, int64(3), fill.ExecutedQuantity)
	assert.Equal(t, 100.0, fill.ExecutedPrice)
	assert.InDelta(t, 3.0, fill.Commission, 1e-9)
	assert.NotEmpty(t, fill.OrderID)
	assert.True(t, fill.Executed())
}

func TestSender_Slippage(t *testing.T) {
	s := NewSender(0, WithSlippage(0.5))

	buy, err := s.Send(context.Background(), request(broker.OrderSideBuy, 1))
	require.NoError(t, err)
	assert.InDelta(t, 100.5, buy.ExecutedPrice, 1e-9)

	req := request(broker.OrderSideSell, 1)
	req.ClientOrderID = "c-2"
	sell, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 99.5, sell.ExecutedPrice, 1e-9)
}

func TestSender_PartialFill(t *testing.T) {
	s := NewSender(0, WithMaxLots(2))

	fill, err := s.Send(context.Background(), request(broker.OrderSideBuy, 5))
	require.NoError(t, err)
	assert.Equal(t, broker.FillStatusPartial, fill.Status)
	assert.Equal(t, int64(2), fill.ExecutedQuantity)
}

func TestSender_IdempotentRetry(t *testing.T) {
	s := NewSender(0)
	req := request(broker.OrderSideBuy, 1)

	first, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	second, err := s.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, s.Orders(), 1)
}

func TestSender_Invalid(t *testing.T) {
	s := NewSender(0)

	_, err := s.Send(context.Background(), request(broker.OrderSideBuy, 0))
	assert.ErrorIs(t, err, broker.ErrInvalidQuantity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Send(ctx, request(broker.OrderSideBuy, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplay(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.Bar, 4)
	for i := range bars {
		bars[i] = core.Bar{Symbol: "SBER", Time: t0.AddDate(0, 0, i), Close: float64(100 + i)}
	}
	r := NewReplay(map[string][]core.Bar{"SBER": bars})
	ctx := context.Background()

	h, err := r.History(ctx, "SBER", 2)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, 100.0, h[0].Close)

	for range 2 {
		_, err = r.History(ctx, "SBER", 2)
		require.NoError(t, err)
	}
	h, err = r.History(ctx, "SBER", 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, []float64{102, 103}, []float64{h[0].Close, h[1].Close})
	assert.True(t, r.Done())

	_, err = r.History(ctx, "SBER", 2)
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = r.History(ctx, "GAZP", 2)
	assert.ErrorIs(t, err, core.ErrNoData)
}
