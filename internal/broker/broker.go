// Package broker reconciles in-flight orders against the active execution
// backend: it owns the pending-fill queue, assembles Trade records once a
// fill confirms, and persists them. The queue survives transient fill-query
// failures so a flaky backend never silently drops an order.
package broker

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stockrs-go/tradeengine/internal/apperr"
	"github.com/stockrs-go/tradeengine/internal/execution"
	"github.com/stockrs-go/tradeengine/internal/tradingtypes"
)

// Store is the persistence surface Broker needs: writing a confirmed trade.
// Overview bookkeeping (open/high/low/close) is the caller's concern, driven
// off the OnTrade hook, since those aggregates depend on account balance,
// not on the trade record alone.
type Store interface {
	SaveTrade(ctx context.Context, trade tradingtypes.Trade) error
}

type pendingOrder struct {
	orderID       string
	order         tradingtypes.Order
	intendedPrice decimal.Decimal
	// avgPriceAtSubmit is the pre-sell average cost basis, captured before
	// ExecuteOrder so a filled sell can still report what it closed out at.
	avgPriceAtSubmit decimal.Decimal
	hasAvgPrice      bool
}

// Broker is the reconciler: Submit enqueues an order against the backend,
// Reconcile drains the queue of anything that has since filled.
type Broker struct {
	mu      sync.Mutex
	backend execution.Backend
	store   Store
	pending []pendingOrder
	onTrade func(tradingtypes.Trade)
}

// New constructs a Broker. backend is the active ExecutionBackend (SimBroker
// or LiveClient); store persists confirmed trades.
func New(backend execution.Backend, store Store) *Broker {
	return &Broker{backend: backend, store: store}
}

// OnTrade registers a callback invoked synchronously after each trade is
// persisted, so the Runner can fold it into the day's Overview and hand the
// fill back to Strategy.
func (b *Broker) OnTrade(fn func(tradingtypes.Trade)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrade = fn
}

// Submit executes order through the backend and enqueues it for
// reconciliation. For sells, the average cost basis is fetched before
// ExecuteOrder runs — the position still exists at that point — and carried
// through to the eventual Trade so Reconcile never has to re-derive it from
// an already-emptied holding.
func (b *Broker) Submit(ctx context.Context, order tradingtypes.Order, intendedPrice decimal.Decimal) (string, error) {
	var avgPrice decimal.Decimal
	hasAvgPrice := false
	if order.Side == tradingtypes.SideSell {
		price, err := b.backend.GetAveragePrice(ctx, order.StockCode)
		if err != nil {
			return "", apperr.Wrap(apperr.KindExecution, "broker.Submit", err)
		}
		avgPrice = price
		hasAvgPrice = true
	}

	orderID, err := b.backend.ExecuteOrder(ctx, order)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.pending = append(b.pending, pendingOrder{
		orderID:          orderID,
		order:            order,
		intendedPrice:    intendedPrice,
		avgPriceAtSubmit: avgPrice,
		hasAvgPrice:      hasAvgPrice,
	})
	b.mu.Unlock()
	return orderID, nil
}

// Reconcile polls every pending order id once. Filled orders are assembled
// into a Trade, persisted, and removed from the queue; pending orders stay
// queued. A fill-query or save error aborts the pass immediately, leaving
// the erroring order and everything after it in the queue for the next
// tick — the queue is never dropped on a transient failure.
func (b *Broker) Reconcile(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	remaining := make([]pendingOrder, 0, len(b.pending))
	for i, p := range b.pending {
		fill, err := b.backend.CheckFill(ctx, p.orderID)
		if err != nil {
			remaining = append(remaining, b.pending[i:]...)
			b.pending = remaining
			return apperr.Wrap(apperr.KindExecution, "broker.Reconcile", err)
		}

		switch fill.State {
		case execution.FillStatePending:
			remaining = append(remaining, p)
		case execution.FillStateFilled:
			p.order.Fee = fill.Fee
			trade := b.assembleTrade(p, fill)
			if err := b.store.SaveTrade(ctx, trade); err != nil {
				remaining = append(remaining, b.pending[i:]...)
				b.pending = remaining
				return apperr.Wrap(apperr.KindData, "broker.Reconcile", err)
			}
			if b.onTrade != nil {
				b.onTrade(trade)
			}
		case execution.FillStateRejected:
			// Dropped: a rejected order never becomes a trade and nothing
			// downstream needs to see it.
		}
	}
	b.pending = remaining
	return nil
}

func (b *Broker) assembleTrade(p pendingOrder, fill execution.Fill) tradingtypes.Trade {
	trade := tradingtypes.Trade{
		OrderID:       p.orderID,
		RunID:         p.order.RunID,
		StockCode:     p.order.StockCode,
		Side:          p.order.Side,
		Quantity:      fill.Quantity,
		IntendedPrice: p.intendedPrice,
		Price:         fill.Price,
		Fee:           fill.Fee,
		Strategy:      p.order.Strategy,
		ExecutedAt:    p.order.CreatedAt,
	}
	if p.order.Side == tradingtypes.SideSell && p.hasAvgPrice {
		trade.AvgPrice = p.avgPriceAtSubmit
		if !p.avgPriceAtSubmit.IsZero() {
			trade.Profit = fill.Price.Sub(p.avgPriceAtSubmit).Mul(decimal.NewFromInt(fill.Quantity)).Sub(fill.Fee)
			trade.ROI = fill.Price.Sub(p.avgPriceAtSubmit).Div(p.avgPriceAtSubmit)
		}
	}
	return trade
}

// ResetForNewDay is Broker's leg of Runner's fixed Overnight reset sequence
// (Strategy, then Broker, then Store — Store last, so the day's overview
// close is finalized only after Strategy and Broker have already turned
// over). The pending-fill queue is not a per-day cache: an order submitted
// just before MarketClose must still reconcile after Overnight, so there is
// nothing here to clear. The method exists so the sequence Runner drives is
// complete and explicit rather than silently skipping Broker's turn.
func (b *Broker) ResetForNewDay(ctx context.Context, date string) error {
	return nil
}

// Pending reports the number of orders still awaiting reconciliation, used
// by tests and by the Runner's shutdown diagnostics.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
