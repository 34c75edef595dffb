package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/orderengine"
	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// f64 converts a decimal.Decimal to the float64 column representation used
// throughout this package (positions.go, orders.go) for monetary columns.
func f64(d decimal.Decimal) float64 { return d.InexactFloat64() }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// UpsertStrategyState writes strategyState.Balance/ReservedBalance/
// TotalCommission for one (credential_id, strategy_id) pair. Open-position
// rows are written separately by ReplaceMockPositions.
func (db *DB) UpsertStrategyState(ctx context.Context, credentialID, strategyID string, balance, reserved, totalCommission decimal.Decimal, initialBalance decimal.Decimal) error {
	query := `
		INSERT INTO paper_trading_strategies (
			credential_id, strategy_id, initial_balance, balance, reserved_balance,
			total_commission, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (credential_id, strategy_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			reserved_balance = EXCLUDED.reserved_balance,
			total_commission = EXCLUDED.total_commission,
			updated_at = NOW()
	`
	_, err := db.pool.Exec(ctx, query, credentialID, strategyID,
		f64(initialBalance), f64(balance), f64(reserved), f64(totalCommission))
	if err != nil {
		return fmt.Errorf("failed to upsert paper trading strategy: %w", err)
	}
	return nil
}

// ReplaceMockPositions deletes and reinserts every open position row for a
// strategy, mirroring the in-memory map it was persisted from.
func (db *DB) ReplaceMockPositions(ctx context.Context, credentialID, strategyID string, positions map[string]*processor.ProcessorPosition) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin mock positions transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM mock_positions WHERE credential_id = $1 AND strategy_id = $2`,
		credentialID, strategyID); err != nil {
		return fmt.Errorf("failed to clear mock positions: %w", err)
	}

	for key, pos := range positions {
		_, err := tx.Exec(ctx, `
			INSERT INTO mock_positions (
				credential_id, strategy_id, position_key, symbol, side, quantity,
				entry_price, entry_time, fees, position_id, group_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, credentialID, strategyID, key, pos.Symbol, string(pos.Side),
			f64(pos.Quantity), f64(pos.EntryPrice), pos.EntryTime, f64(pos.Fees),
			pos.PositionID, pos.GroupID)
		if err != nil {
			return fmt.Errorf("failed to insert mock position %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mock positions transaction: %w", err)
	}
	return nil
}

// AppendMockExecution appends one execution row, the durable record of a
// fill produced by the mock order engine.
func (db *DB) AppendMockExecution(ctx context.Context, credentialID, strategyID string, fill orderengine.MockOrderFill) error {
	query := `
		INSERT INTO mock_executions (
			credential_id, strategy_id, order_id, symbol, side, price, quantity,
			commission, is_fully_filled, released_reservation, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.pool.Exec(ctx, query, credentialID, strategyID, fill.OrderID,
		fill.Symbol, string(fill.Side), f64(fill.Price), f64(fill.Quantity),
		f64(fill.Commission), fill.IsFullyFilled, f64(fill.ReleasedReservation),
		fill.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append mock execution: %w", err)
	}
	return nil
}

// ReplaceMockPendingOrders deletes and reinserts every pending order row for
// a strategy under one credential.
func (db *DB) ReplaceMockPendingOrders(ctx context.Context, credentialID, strategyID string, orders []orderengine.PendingOrder) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin pending orders transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM mock_pending_orders WHERE credential_id = $1 AND strategy_id = $2`,
		credentialID, strategyID); err != nil {
		return fmt.Errorf("failed to clear pending orders: %w", err)
	}

	for _, order := range orders {
		var price, stopPrice *float64
		if order.Price != nil {
			v := f64(*order.Price)
			price = &v
		}
		if order.StopPrice != nil {
			v := f64(*order.StopPrice)
			stopPrice = &v
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO mock_pending_orders (
				credential_id, strategy_id, order_id, symbol, side, order_type,
				original_quantity, remaining_quantity, price, stop_price,
				reserved_amount, created_at, stop_triggered
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, credentialID, strategyID, order.OrderID, order.Symbol, string(order.Side),
			string(order.OrderType), f64(order.OriginalQuantity), f64(order.RemainingQuantity),
			price, stopPrice, f64(order.ReservedAmount), order.CreatedAt, order.StopTriggered)
		if err != nil {
			return fmt.Errorf("failed to insert pending order %s: %w", order.OrderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pending orders transaction: %w", err)
	}
	return nil
}

// LoadPaperTradingState reconstructs every strategy ledger (balance,
// reservations, open positions) and every pending order recorded for a
// credential, in the shape the mock exchange provider restores from at
// startup.
func (db *DB) LoadPaperTradingState(ctx context.Context, credentialID string) (map[string]*PaperStrategyRow, []orderengine.PendingOrder, error) {
	strategies := make(map[string]*PaperStrategyRow)

	rows, err := db.pool.Query(ctx, `
		SELECT strategy_id, initial_balance, balance, reserved_balance, total_commission
		FROM paper_trading_strategies
		WHERE credential_id = $1
	`, credentialID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query paper trading strategies: %w", err)
	}
	for rows.Next() {
		var row PaperStrategyRow
		var initial, balance, reserved, commission float64
		if err := rows.Scan(&row.StrategyID, &initial, &balance, &reserved, &commission); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan paper trading strategy: %w", err)
		}
		row.InitialBalance = dec(initial)
		row.Balance = dec(balance)
		row.ReservedBalance = dec(reserved)
		row.TotalCommission = dec(commission)
		row.Positions = make(map[string]*processor.ProcessorPosition)
		strategies[row.StrategyID] = &row
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating paper trading strategies: %w", err)
	}

	posRows, err := db.pool.Query(ctx, `
		SELECT strategy_id, position_key, symbol, side, quantity, entry_price,
			entry_time, fees, position_id, group_id
		FROM mock_positions
		WHERE credential_id = $1
	`, credentialID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query mock positions: %w", err)
	}
	for posRows.Next() {
		var strategyID, key, symbol, side string
		var quantity, entryPrice, fees float64
		var entryTime time.Time
		var positionID, groupID string
		if err := posRows.Scan(&strategyID, &key, &symbol, &side, &quantity, &entryPrice,
			&entryTime, &fees, &positionID, &groupID); err != nil {
			posRows.Close()
			return nil, nil, fmt.Errorf("failed to scan mock position: %w", err)
		}
		if row, ok := strategies[strategyID]; ok {
			row.Positions[key] = &processor.ProcessorPosition{
				Symbol: symbol, Side: processor.Side(side), Quantity: dec(quantity),
				EntryPrice: dec(entryPrice), EntryTime: entryTime, Fees: dec(fees),
				PositionID: positionID, GroupID: groupID,
			}
		}
	}
	posRows.Close()
	if err := posRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating mock positions: %w", err)
	}

	var pending []orderengine.PendingOrder
	orderRows, err := db.pool.Query(ctx, `
		SELECT order_id, strategy_id, symbol, side, order_type, original_quantity,
			remaining_quantity, price, stop_price, reserved_amount, created_at, stop_triggered
		FROM mock_pending_orders
		WHERE credential_id = $1
	`, credentialID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query mock pending orders: %w", err)
	}
	for orderRows.Next() {
		var o orderengine.PendingOrder
		var side, orderType string
		var originalQty, remainingQty, reservedAmount float64
		var price, stopPrice *float64
		if err := orderRows.Scan(&o.OrderID, &o.StrategyID, &o.Symbol, &side, &orderType,
			&originalQty, &remainingQty, &price, &stopPrice, &reservedAmount,
			&o.CreatedAt, &o.StopTriggered); err != nil {
			orderRows.Close()
			return nil, nil, fmt.Errorf("failed to scan mock pending order: %w", err)
		}
		o.Side = processor.Side(side)
		o.OrderType = orderengine.OrderType(orderType)
		o.OriginalQuantity = dec(originalQty)
		o.RemainingQuantity = dec(remainingQty)
		o.ReservedAmount = dec(reservedAmount)
		if price != nil {
			v := dec(*price)
			o.Price = &v
		}
		if stopPrice != nil {
			v := dec(*stopPrice)
			o.StopPrice = &v
		}
		pending = append(pending, o)
	}
	orderRows.Close()
	if err := orderRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating mock pending orders: %w", err)
	}

	return strategies, pending, nil
}

// PaperStrategyRow is the row shape LoadPaperTradingState restores, mirroring
// exchange.StrategyState's fields without importing internal/exchange (which
// would import internal/db to implement PersistenceStore, an import cycle).
type PaperStrategyRow struct {
	StrategyID      string
	InitialBalance  decimal.Decimal
	Balance         decimal.Decimal
	ReservedBalance decimal.Decimal
	TotalCommission decimal.Decimal
	Positions       map[string]*processor.ProcessorPosition
}

