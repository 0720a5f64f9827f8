package persistence

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
)

// pgTx is one unit of work on Postgres.
type pgTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

// affected turns a zero-row conditional write into err.
func affected(res sql.Result, op string, onZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, op)
	}
	if n == 0 {
		return onZero
	}
	return nil
}

// --- Wallets ---

func (t *pgTx) GetWallet(ctx context.Context, accountID uuid.UUID, asset ledger.Asset) (*ledger.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM custody.wallets WHERE account_id = $1 AND asset = $2 FOR UPDATE`,
		accountID, string(asset)))
	if stderrors.Is(err, sql.ErrNoRows) {
		return ledger.NewWallet(accountID, asset), nil
	}
	if err != nil {
		return nil, dbError(err, "get wallet")
	}
	return &w, nil
}

// PutWallet inserts a new wallet (Version 0) or updates one iff its
// version is unchanged. Concurrent first inserts lose with a conflict.
func (t *pgTx) PutWallet(ctx context.Context, w *ledger.Wallet) error {
	if w.Version == 0 {
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO custody.wallets (account_id, asset, balance, locked_balance, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (account_id, asset) DO NOTHING`,
			w.AccountID, string(w.Asset), w.Balance, w.LockedBalance, w.UpdatedAt)
		if err != nil {
			return dbError(err, "insert wallet")
		}
		if err := affected(res, "insert wallet", ledger.Conflictf("wallet %s/%s created concurrently", w.AccountID, w.Asset)); err != nil {
			return err
		}
		w.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.wallets
		SET balance = $3, locked_balance = $4, version = version + 1, updated_at = $5
		WHERE account_id = $1 AND asset = $2 AND version = $6`,
		w.AccountID, string(w.Asset), w.Balance, w.LockedBalance, w.UpdatedAt, w.Version)
	if err != nil {
		return dbError(err, "update wallet")
	}
	if err := affected(res, "update wallet", ledger.Conflictf("wallet %s/%s version %d moved", w.AccountID, w.Asset, w.Version)); err != nil {
		return err
	}
	w.Version++
	return nil
}

// --- Pools ---

func (t *pgTx) GetPool(ctx context.Context, asset ledger.Asset) (*ledger.PoolWallet, error) {
	p, err := scanPool(t.tx.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM custody.pool_wallets WHERE asset = $1 FOR UPDATE`, string(asset)))
	if stderrors.Is(err, sql.ErrNoRows) {
		return ledger.NewPoolWallet(asset), nil
	}
	if err != nil {
		return nil, dbError(err, "get pool")
	}
	return &p, nil
}

func (t *pgTx) PutPool(ctx context.Context, p *ledger.PoolWallet) error {
	if p.Version == 0 {
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO custody.pool_wallets (asset, balance, total_deposits, total_withdrawals, version, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (asset) DO NOTHING`,
			string(p.Asset), p.Balance, p.TotalDeposits, p.TotalWithdrawals, p.UpdatedAt)
		if err != nil {
			return dbError(err, "insert pool")
		}
		if err := affected(res, "insert pool", ledger.Conflictf("pool %s created concurrently", p.Asset)); err != nil {
			return err
		}
		p.Version = 1
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.pool_wallets
		SET balance = $2, total_deposits = $3, total_withdrawals = $4, version = version + 1, updated_at = $5
		WHERE asset = $1 AND version = $6`,
		string(p.Asset), p.Balance, p.TotalDeposits, p.TotalWithdrawals, p.UpdatedAt, p.Version)
	if err != nil {
		return dbError(err, "update pool")
	}
	if err := affected(res, "update pool", ledger.Conflictf("pool %s version %d moved", p.Asset, p.Version)); err != nil {
		return err
	}
	p.Version++
	return nil
}

// --- Settlement requests ---

func (t *pgTx) InsertSettlement(ctx context.Context, r *ledger.SettlementRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody.settlement_requests (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.AccountID, string(r.Kind), string(r.Asset), r.Amount, string(r.Status), r.UserConfirmed,
		r.ReviewerID, r.RejectionReason, r.CreatedAt, r.ConfirmedAt, r.ReviewedAt, r.CompletedAt)
	return dbError(err, "insert settlement")
}

func (t *pgTx) GetSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error) {
	r, err := scanSettlement(t.tx.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM custody.settlement_requests WHERE id = $1 FOR UPDATE`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("settlement %s", id)
	}
	if err != nil {
		return nil, dbError(err, "get settlement")
	}
	return r, nil
}

// TransitionSettlement is the conditional status write: it only applies
// while the stored status is still from.
func (t *pgTx) TransitionSettlement(ctx context.Context, r *ledger.SettlementRequest, from ledger.SettlementStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.settlement_requests
		SET status = $2, user_confirmed = $3, reviewer_id = $4, rejection_reason = $5,
		    confirmed_at = $6, reviewed_at = $7, completed_at = $8
		WHERE id = $1 AND status = $9`,
		r.ID, string(r.Status), r.UserConfirmed, r.ReviewerID, r.RejectionReason,
		r.ConfirmedAt, r.ReviewedAt, r.CompletedAt, string(from))
	if err != nil {
		return dbError(err, "transition settlement")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "transition settlement")
	}
	if n == 0 {
		return t.settlementMoved(ctx, r.ID)
	}
	return nil
}

func (t *pgTx) settlementMoved(ctx context.Context, id uuid.UUID) error {
	var status string
	err := t.tx.QueryRowContext(ctx, `SELECT status FROM custody.settlement_requests WHERE id = $1`, id).Scan(&status)
	if stderrors.Is(err, sql.ErrNoRows) {
		return ledger.NotFoundf("settlement %s", id)
	}
	if err != nil {
		return dbError(err, "settlement status")
	}
	return ledger.AlreadyProcessedf("settlement %s is %s", id, status)
}

// --- Reservations ---

const reservationColumns = `id, account_id, asset, amount, status, purpose, reference_id, created_at, closed_at`

func (t *pgTx) InsertReservation(ctx context.Context, r *ledger.Reservation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody.reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.AccountID, string(r.Asset), r.Amount, string(r.Status), string(r.Purpose),
		r.ReferenceID, r.CreatedAt, r.ClosedAt)
	return dbError(err, "insert reservation")
}

func (t *pgTx) GetReservation(ctx context.Context, id uuid.UUID) (*ledger.Reservation, error) {
	var (
		r                      ledger.Reservation
		asset, status, purpose string
		ref                    uuid.NullUUID
		closed                 sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM custody.reservations WHERE id = $1 FOR UPDATE`, id).
		Scan(&r.ID, &r.AccountID, &asset, &r.Amount, &status, &purpose, &ref, &r.CreatedAt, &closed)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("reservation %s", id)
	}
	if err != nil {
		return nil, dbError(err, "get reservation")
	}
	r.Asset = ledger.Asset(asset)
	r.Status = ledger.ReservationStatus(status)
	r.Purpose = ledger.ReservationPurpose(purpose)
	if ref.Valid {
		r.ReferenceID = &ref.UUID
	}
	r.ClosedAt = nullTime(closed)
	return &r, nil
}

func (t *pgTx) TransitionReservation(ctx context.Context, r *ledger.Reservation, from ledger.ReservationStatus) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.reservations SET status = $2, closed_at = $3
		WHERE id = $1 AND status = $4`,
		r.ID, string(r.Status), r.ClosedAt, string(from))
	if err != nil {
		return dbError(err, "transition reservation")
	}
	return affected(res, "transition reservation", ledger.AlreadyProcessedf("reservation %s is no longer %s", r.ID, from))
}

// --- Bot positions ---

func (t *pgTx) InsertBotPosition(ctx context.Context, p *ledger.BotPosition) error {
	p.Version = 1
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody.bot_positions (`+botColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.AccountID, p.BotID, string(p.Asset), p.ReservationID, p.InvestedAmount, p.CurrentValue,
		p.TotalProfit, string(p.Status), p.Version, p.CreatedAt, p.StoppedAt)
	return dbError(err, "insert bot position")
}

func (t *pgTx) GetBotPosition(ctx context.Context, id uuid.UUID) (*ledger.BotPosition, error) {
	p, err := scanBot(t.tx.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM custody.bot_positions WHERE id = $1 FOR UPDATE`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("bot position %s", id)
	}
	if err != nil {
		return nil, dbError(err, "get bot position")
	}
	return p, nil
}

func (t *pgTx) UpdateBotPosition(ctx context.Context, p *ledger.BotPosition) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.bot_positions
		SET current_value = $2, total_profit = $3, status = $4, stopped_at = $5, version = version + 1
		WHERE id = $1 AND version = $6`,
		p.ID, p.CurrentValue, p.TotalProfit, string(p.Status), p.StoppedAt, p.Version)
	if err != nil {
		return dbError(err, "update bot position")
	}
	if err := affected(res, "update bot position", ledger.Conflictf("bot position %s version %d moved", p.ID, p.Version)); err != nil {
		return err
	}
	p.Version++
	return nil
}

// --- Orders ---

func (t *pgTx) InsertOrder(ctx context.Context, o *ledger.Order) error {
	o.Version = 1
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody.orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.AccountID, o.Pair.String(), string(o.Side), string(o.Type), o.Price, o.Amount, o.FilledAmount,
		string(o.Status), o.ReservationID, o.Version, o.CreatedAt, o.UpdatedAt)
	return dbError(err, "insert order")
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM custody.orders WHERE id = $1 FOR UPDATE`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("order %s", id)
	}
	if err != nil {
		return nil, dbError(err, "get order")
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *ledger.Order) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE custody.orders
		SET price = $2, amount = $3, filled_amount = $4, status = $5, reservation_id = $6,
		    updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8`,
		o.ID, o.Price, o.Amount, o.FilledAmount, string(o.Status), o.ReservationID, o.UpdatedAt, o.Version)
	if err != nil {
		return dbError(err, "update order")
	}
	if err := affected(res, "update order", ledger.Conflictf("order %s version %d moved", o.ID, o.Version)); err != nil {
		return err
	}
	o.Version++
	return nil
}

// --- Journal, outbox, processed messages ---

func (t *pgTx) AppendJournal(ctx context.Context, batch *ledger.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	return writeJournalBatch(ctx, t.tx, batch.Journals)
}

func (t *pgTx) AppendOutbox(ctx context.Context, env event.Envelope) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO custody.outbox (event_id, event_type, aggregate_id, account_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		env.EventID, env.EventType, env.AggregateID, env.AccountID, env.OccurredAt, []byte(env.Payload))
	return dbError(err, "append outbox")
}

func (t *pgTx) MarkProcessed(ctx context.Context, key string) error {
	return markProcessed(ctx, t.tx, key)
}
