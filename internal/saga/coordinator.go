package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
	"github.com/mkrivacevic11921rn/settlement-core/internal/metrics"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	repo "github.com/mkrivacevic11921rn/settlement-core/internal/repository"
)

// AckSender reports saga outcomes to the trading subsystem. Delivery runs
// through the outbox; the coordinator never blocks on it and never learns
// whether it arrived.
type AckSender interface {
	SendAck(ctx context.Context, uid string, failed bool, message string)
}

// Coordinator is the trade settlement saga. Callers drive it one stage at a
// time: Initiate, then Proceed until FINISHED. Any stage failure, or an
// explicit Rollback, compensates exactly the work the reached stage has done
// and reports the failure over the ack channel. Methods return nothing;
// the trading subsystem is the only audience for outcomes.
type Coordinator struct {
	store repo.Store
	acks  AckSender
	reg   *registry
}

func NewCoordinator(store repo.Store, acks AckSender) *Coordinator {
	return &Coordinator{store: store, acks: acks, reg: newRegistry()}
}

// Initiate registers a trade under the caller-supplied uid at stage
// INITIALIZED. A duplicate uid is refused so a replayed initiation can never
// double-settle.
func (c *Coordinator) Initiate(ctx context.Context, uid string, buyerAccountID, sellerAccountID int64, amount float64) {
	if amount <= 0 {
		c.acks.SendAck(ctx, uid, true, "trade amount must be positive")
		return
	}
	buyer, err := c.store.Accounts.GetByID(ctx, buyerAccountID)
	if err != nil {
		c.acks.SendAck(ctx, uid, true, fmt.Sprintf("buyer account %d: %v", buyerAccountID, err))
		return
	}
	seller, err := c.store.Accounts.GetByID(ctx, sellerAccountID)
	if err != nil {
		c.acks.SendAck(ctx, uid, true, fmt.Sprintf("seller account %d: %v", sellerAccountID, err))
		return
	}
	// Trades settle in one currency; a cross-currency pair aborts before any
	// state exists for it.
	if buyer.Currency != seller.Currency {
		c.acks.SendAck(ctx, uid, true, ledger.ErrCurrencyMismatch.Error())
		return
	}

	t := models.TradeSettlement{
		UID:             uid,
		BuyerAccountID:  buyerAccountID,
		SellerAccountID: sellerAccountID,
		Amount:          amount,
		Stage:           models.StageInitialized,
	}
	if !c.reg.put(t) {
		c.acks.SendAck(ctx, uid, true, "trade already in progress")
		return
	}
	if err := c.appendLog(ctx, t); err != nil {
		slog.Error("saga: append log", "uid", uid, "err", err)
		c.reg.remove(uid)
		c.acks.SendAck(ctx, uid, true, "trade settlement could not be recorded")
		return
	}
	metrics.SagaTransitions.WithLabelValues(string(models.StageInitialized)).Inc()
	slog.Info("saga: trade initialized", "uid", uid, "amount", amount)
	c.acks.SendAck(ctx, uid, false, "Trade settlement initialized")
}

// Proceed advances the trade by exactly one stage. A stage failure triggers
// compensation for everything done so far; the caller finds out through the
// ack, not a return value. Proceed on an unknown uid is a no-op.
func (c *Coordinator) Proceed(ctx context.Context, uid string) {
	e, ok := c.reg.get(uid)
	if !ok {
		slog.Warn("saga: proceed on unknown trade", "uid", uid)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.trade.Stage {
	case models.StageInitialized:
		c.advance(ctx, e, models.StageAssetsReserved, "Assets reserved", c.reserve)
	case models.StageAssetsReserved:
		c.advance(ctx, e, models.StageAssetsTransfered, "Assets transferred", c.transferAssets)
	case models.StageAssetsTransfered:
		c.finish(ctx, e)
	case models.StageFinished:
		// Terminal; the registry entry is gone in the normal path, but a
		// racing caller may still hold it.
		c.reg.remove(uid)
	}
}

// Rollback compensates an in-flight trade on explicit request from the
// trading subsystem. Unknown uids are ignored, matching Proceed.
func (c *Coordinator) Rollback(ctx context.Context, uid string) {
	e, ok := c.reg.get(uid)
	if !ok {
		slog.Warn("saga: rollback on unknown trade", "uid", uid)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c.compensate(ctx, e, "Trade settlement rolled back on request")
}

// advance runs one stage mutation and, on success, records and acknowledges
// the new stage. On failure it compensates the stages already done.
func (c *Coordinator) advance(ctx context.Context, e *entry, next models.TradeStage, ackMsg string, step func(context.Context, models.TradeSettlement) error) {
	if err := step(ctx, e.trade); err != nil {
		slog.Error("saga: stage failed", "uid", e.trade.UID, "stage", next, "err", err)
		c.compensate(ctx, e, fmt.Sprintf("stage %s failed: %v", next, err))
		return
	}
	e.trade.Stage = next
	if err := c.appendLog(ctx, e.trade); err != nil {
		slog.Error("saga: append log", "uid", e.trade.UID, "err", err)
	}
	metrics.SagaTransitions.WithLabelValues(string(next)).Inc()
	slog.Info("saga: stage reached", "uid", e.trade.UID, "stage", next)
	c.acks.SendAck(ctx, e.trade.UID, false, ackMsg)
}

// reserve moves the trade amount from the buyer's spendable balance into
// reservation. Insufficient funds fail the stage without touching anything.
func (c *Coordinator) reserve(ctx context.Context, t models.TradeSettlement) error {
	return c.store.WithTx(ctx, func(r repo.Repositories) error {
		buyer, err := r.Accounts.GetByID(ctx, t.BuyerAccountID)
		if err != nil {
			return err
		}
		if buyer.Balance < t.Amount {
			return ledger.ErrInsufficientFunds
		}
		buyer.Balance -= t.Amount
		buyer.ReservedBalance += t.Amount
		return r.Accounts.Update(ctx, buyer)
	})
}

// transferAssets consumes the reservation and credits the seller, writing
// the ledger row for the trade leg in the same unit of work.
func (c *Coordinator) transferAssets(ctx context.Context, t models.TradeSettlement) error {
	return c.store.WithTx(ctx, func(r repo.Repositories) error {
		buyer, err := r.Accounts.GetByID(ctx, t.BuyerAccountID)
		if err != nil {
			return err
		}
		seller, err := r.Accounts.GetByID(ctx, t.SellerAccountID)
		if err != nil {
			return err
		}
		buyer.ReservedBalance -= t.Amount
		seller.Balance += t.Amount
		if err := r.Accounts.Update(ctx, buyer); err != nil {
			return err
		}
		if err := r.Accounts.Update(ctx, seller); err != nil {
			return err
		}
		_, err = r.Transactions.Create(ctx, models.Transaction{
			FromAccountID: buyer.ID,
			ToAccountID:   seller.ID,
			Amount:        t.Amount,
			Currency:      buyer.Currency,
			Description:   fmt.Sprintf("OTC trade %s asset transfer", t.UID),
			Timestamp:     time.Now(),
		})
		return err
	})
}

// finish closes the saga: the durable log is settled and the uid leaves the
// registry, so recovery will never touch this trade again.
func (c *Coordinator) finish(ctx context.Context, e *entry) {
	e.trade.Stage = models.StageFinished
	if err := c.appendLog(ctx, e.trade); err != nil {
		slog.Error("saga: append log", "uid", e.trade.UID, "err", err)
	}
	if err := c.store.SagaLog.Close(ctx, e.trade.UID); err != nil {
		slog.Error("saga: close log", "uid", e.trade.UID, "err", err)
	}
	c.reg.remove(e.trade.UID)
	metrics.SagaTransitions.WithLabelValues(string(models.StageFinished)).Inc()
	slog.Info("saga: trade finished", "uid", e.trade.UID)
	c.acks.SendAck(ctx, e.trade.UID, false, "Trade settlement finished")
}

// compensate undoes exactly what the reached stage has done. A completed
// compensation closes the saga log; a failed one leaves the log open so
// startup recovery retries it.
func (c *Coordinator) compensate(ctx context.Context, e *entry, reason string) {
	t := e.trade
	err := c.store.WithTx(ctx, func(r repo.Repositories) error {
		switch t.Stage {
		case models.StageInitialized:
			return nil
		case models.StageAssetsReserved:
			buyer, err := r.Accounts.GetByID(ctx, t.BuyerAccountID)
			if err != nil {
				return err
			}
			buyer.ReservedBalance -= t.Amount
			buyer.Balance += t.Amount
			return r.Accounts.Update(ctx, buyer)
		// A FINISHED record can still be open when the close write was lost
		// to a crash; its funds sit exactly where a transferred trade's do.
		case models.StageAssetsTransfered, models.StageFinished:
			buyer, err := r.Accounts.GetByID(ctx, t.BuyerAccountID)
			if err != nil {
				return err
			}
			seller, err := r.Accounts.GetByID(ctx, t.SellerAccountID)
			if err != nil {
				return err
			}
			seller.Balance -= t.Amount
			buyer.Balance += t.Amount
			if err := r.Accounts.Update(ctx, buyer); err != nil {
				return err
			}
			if err := r.Accounts.Update(ctx, seller); err != nil {
				return err
			}
			_, err = r.Transactions.Create(ctx, models.Transaction{
				FromAccountID: seller.ID,
				ToAccountID:   buyer.ID,
				Amount:        t.Amount,
				Currency:      buyer.Currency,
				Description:   fmt.Sprintf("OTC trade %s rollback", t.UID),
				Timestamp:     time.Now(),
			})
			return err
		default:
			return fmt.Errorf("cannot compensate stage %s", t.Stage)
		}
	})

	e.trade.Failed = true
	if logErr := c.appendLog(ctx, e.trade); logErr != nil {
		slog.Error("saga: append log", "uid", t.UID, "err", logErr)
	}

	if err != nil {
		// The registry entry and the open log record both survive, so the
		// rollback can be retried by hand or by the next restart.
		slog.Error("saga: compensation failed", "uid", t.UID, "stage", t.Stage, "err", err)
		c.acks.SendAck(ctx, t.UID, true, fmt.Sprintf("%s; rollback pending retry", reason))
		return
	}

	if err := c.store.SagaLog.Close(ctx, t.UID); err != nil {
		slog.Error("saga: close log", "uid", t.UID, "err", err)
	}
	c.reg.remove(t.UID)
	metrics.SagaRollbacks.Inc()
	slog.Warn("saga: trade rolled back", "uid", t.UID, "stage", t.Stage, "reason", reason)
	c.acks.SendAck(ctx, t.UID, true, reason)
}

// Recover rolls back every trade left open by a crash. It must run before
// the HTTP surface starts accepting new trade traffic.
func (c *Coordinator) Recover(ctx context.Context) error {
	recs, err := c.store.SagaLog.Active(ctx)
	if err != nil {
		return fmt.Errorf("load active saga records: %w", err)
	}
	for _, rec := range recs {
		t := models.TradeSettlement{
			UID:             rec.UID,
			BuyerAccountID:  rec.BuyerAccountID,
			SellerAccountID: rec.SellerAccountID,
			Amount:          rec.Amount,
			Stage:           rec.Stage,
			Failed:          rec.Failed,
		}
		if !c.reg.put(t) {
			continue
		}
		e, _ := c.reg.get(rec.UID)
		e.mu.Lock()
		slog.Warn("saga: recovering interrupted trade", "uid", rec.UID, "stage", rec.Stage)
		c.compensate(ctx, e, "Trade settlement interrupted by restart")
		e.mu.Unlock()
	}
	if len(recs) > 0 {
		slog.Info("saga: recovery complete", "trades", len(recs))
	}
	return nil
}

func (c *Coordinator) appendLog(ctx context.Context, t models.TradeSettlement) error {
	return c.store.SagaLog.Append(ctx, models.SagaLogRecord{
		UID:             t.UID,
		BuyerAccountID:  t.BuyerAccountID,
		SellerAccountID: t.SellerAccountID,
		Amount:          t.Amount,
		Stage:           t.Stage,
		Failed:          t.Failed,
		At:              time.Now(),
	})
}
