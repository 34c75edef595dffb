package orderengine

import (
	"fmt"
	"strconv"
	"strings"
)

// RestorePendingOrder rebuilds one queued order from durable storage. It is
// used at startup to replay the mock_pending_orders table before the first
// live tick arrives, and never performs I/O itself — the caller reads rows,
// this just re-establishes in-memory state. It also advances the engine's
// order-id counter so freshly-submitted orders never collide with a
// restored id (SPEC_FULL.md §9, order-id monotonicity after restart).
func (e *Engine) RestorePendingOrder(order PendingOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()

	restored := order
	e.enqueue(&restored)
	e.orderStrategyMap[order.OrderID] = order.StrategyID
	if seq, ok := parseOrderSeq(order.OrderID); ok && seq >= e.nextSeq {
		e.nextSeq = seq
	}
}

// parseOrderSeq extracts the numeric suffix from a MOCK-NNNNNNNN id.
func parseOrderSeq(orderID string) (int, bool) {
	const prefix = "MOCK-"
	if !strings.HasPrefix(orderID, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(orderID, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetRawPendingOrders snapshots every currently-queued order for one
// strategy, for the caller to persist.
func (e *Engine) GetRawPendingOrders(strategyID string) []PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []PendingOrder
	for _, orders := range e.pendingOrders {
		for _, o := range orders {
			if o.StrategyID == strategyID {
				out = append(out, *o)
			}
		}
	}
	return out
}

// FormatOrderID renders a sequence number in the MOCK-NNNNNNNN scheme, used
// by tests and persistence round-trips that need to construct ids outside
// of nextOrderID.
func FormatOrderID(seq int) string {
	return fmt.Sprintf("MOCK-%08d", seq)
}
