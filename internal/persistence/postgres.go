package persistence

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/store"
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// queryer is the subset shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore implements store.Store on Postgres. Rows read inside a unit
// of work are locked with SELECT ... FOR UPDATE and written back with a
// version check, so lost updates surface as ledger.ErrConflict.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ store.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// OpenDB opens and pings a Postgres pool.
func OpenDB(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres open")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}
	return db, nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in one READ COMMITTED transaction. Row locks and version
// checks provide the isolation the ledger needs.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return dbError(err, "begin tx")
	}

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return dbError(err, "commit")
	}
	return nil
}

// dbError maps driver errors onto the ledger taxonomy. Serialization
// failures, deadlocks and unique violations are conflicts; everything else
// is internal.
func dbError(err error, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, op)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return ledger.Conflictf("%s: %s", op, pqErr.Message)
		case "23505":
			return ledger.Conflictf("%s: duplicate key on %s", op, pqErr.Constraint)
		case "23514":
			return errors.Wrap(fmt.Errorf("%w: check %s violated", ledger.ErrInvariantViolation, pqErr.Constraint), op)
		}
	}
	return errors.Wrap(fmt.Errorf("%w: %w", ledger.ErrInternal, err), op)
}

// --- Reader ---

const walletColumns = `account_id, asset, balance, locked_balance, version, updated_at`

func scanWallet(row interface{ Scan(...interface{}) error }) (ledger.Wallet, error) {
	var w ledger.Wallet
	var asset string
	err := row.Scan(&w.AccountID, &asset, &w.Balance, &w.LockedBalance, &w.Version, &w.UpdatedAt)
	w.Asset = ledger.Asset(asset)
	return w, err
}

func (s *PostgresStore) ListWallets(ctx context.Context, accountID uuid.UUID) ([]ledger.Wallet, error) {
	return s.queryWallets(ctx, `SELECT `+walletColumns+` FROM custody.wallets WHERE account_id = $1 ORDER BY asset`, accountID)
}

func (s *PostgresStore) ListAllWallets(ctx context.Context) ([]ledger.Wallet, error) {
	return s.queryWallets(ctx, `SELECT `+walletColumns+` FROM custody.wallets ORDER BY account_id, asset`)
}

func (s *PostgresStore) queryWallets(ctx context.Context, query string, args ...interface{}) ([]ledger.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "list wallets")
	}
	defer rows.Close()

	var out []ledger.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, dbError(err, "scan wallet")
		}
		out = append(out, w)
	}
	return out, dbError(rows.Err(), "list wallets")
}

const poolColumns = `asset, balance, total_deposits, total_withdrawals, version, updated_at`

func scanPool(row interface{ Scan(...interface{}) error }) (ledger.PoolWallet, error) {
	var p ledger.PoolWallet
	var asset string
	err := row.Scan(&asset, &p.Balance, &p.TotalDeposits, &p.TotalWithdrawals, &p.Version, &p.UpdatedAt)
	p.Asset = ledger.Asset(asset)
	return p, err
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]ledger.PoolWallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+poolColumns+` FROM custody.pool_wallets ORDER BY asset`)
	if err != nil {
		return nil, dbError(err, "list pools")
	}
	defer rows.Close()

	var out []ledger.PoolWallet
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, dbError(err, "scan pool")
		}
		out = append(out, p)
	}
	return out, dbError(rows.Err(), "list pools")
}

const settlementColumns = `id, account_id, kind, asset, amount, status, user_confirmed, reviewer_id,
	rejection_reason, created_at, confirmed_at, reviewed_at, completed_at`

func scanSettlement(row interface{ Scan(...interface{}) error }) (*ledger.SettlementRequest, error) {
	var (
		r                                  ledger.SettlementRequest
		kind, asset, status                string
		reviewer                           uuid.NullUUID
		reason                             sql.NullString
		confirmedAt, reviewedAt, completed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AccountID, &kind, &asset, &r.Amount, &status, &r.UserConfirmed, &reviewer,
		&reason, &r.CreatedAt, &confirmedAt, &reviewedAt, &completed)
	if err != nil {
		return nil, err
	}
	r.Kind = ledger.SettlementKind(kind)
	r.Asset = ledger.Asset(asset)
	r.Status = ledger.SettlementStatus(status)
	if reviewer.Valid {
		r.ReviewerID = &reviewer.UUID
	}
	if reason.Valid {
		r.RejectionReason = &reason.String
	}
	r.ConfirmedAt = nullTime(confirmedAt)
	r.ReviewedAt = nullTime(reviewedAt)
	r.CompletedAt = nullTime(completed)
	return &r, nil
}

func (s *PostgresStore) FindSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error) {
	r, err := scanSettlement(s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM custody.settlement_requests WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("settlement %s", id)
	}
	return r, dbError(err, "find settlement")
}

func (s *PostgresStore) ListSettlements(ctx context.Context, filter store.SettlementFilter) ([]ledger.SettlementRequest, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + settlementColumns + ` FROM custody.settlement_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err, "list settlements")
	}
	defer rows.Close()

	var out []ledger.SettlementRequest
	for rows.Next() {
		r, err := scanSettlement(rows)
		if err != nil {
			return nil, dbError(err, "scan settlement")
		}
		out = append(out, *r)
	}
	return out, dbError(rows.Err(), "list settlements")
}

const botColumns = `id, account_id, bot_id, asset, reservation_id, invested_amount, current_value,
	total_profit, status, version, created_at, stopped_at`

func scanBot(row interface{ Scan(...interface{}) error }) (*ledger.BotPosition, error) {
	var (
		p             ledger.BotPosition
		asset, status string
		stopped       sql.NullTime
	)
	err := row.Scan(&p.ID, &p.AccountID, &p.BotID, &asset, &p.ReservationID, &p.InvestedAmount, &p.CurrentValue,
		&p.TotalProfit, &status, &p.Version, &p.CreatedAt, &stopped)
	if err != nil {
		return nil, err
	}
	p.Asset = ledger.Asset(asset)
	p.Status = ledger.BotStatus(status)
	p.StoppedAt = nullTime(stopped)
	return &p, nil
}

func (s *PostgresStore) ListBotPositions(ctx context.Context, accountID uuid.UUID) ([]ledger.BotPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM custody.bot_positions WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, dbError(err, "list bot positions")
	}
	defer rows.Close()

	var out []ledger.BotPosition
	for rows.Next() {
		p, err := scanBot(rows)
		if err != nil {
			return nil, dbError(err, "scan bot position")
		}
		out = append(out, *p)
	}
	return out, dbError(rows.Err(), "list bot positions")
}

const orderColumns = `id, account_id, symbol, side, order_type, price, amount, filled_amount, status,
	reservation_id, version, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*ledger.Order, error) {
	var (
		o                         ledger.Order
		symbol, side, typ, status string
		reservation               uuid.NullUUID
	)
	err := row.Scan(&o.ID, &o.AccountID, &symbol, &side, &typ, &o.Price, &o.Amount, &o.FilledAmount, &status,
		&reservation, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pair, err := ledger.ParsePair(symbol)
	if err != nil {
		return nil, err
	}
	o.Pair = pair
	o.Side = ledger.OrderSide(side)
	o.Type = ledger.OrderType(typ)
	o.Status = ledger.OrderStatus(status)
	if reservation.Valid {
		o.ReservationID = &reservation.UUID
	}
	return &o, nil
}

func (s *PostgresStore) FindOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM custody.orders WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFoundf("order %s", id)
	}
	return o, dbError(err, "find order")
}

// ScanJournal streams the journal in append order.
func (s *PostgresStore) ScanJournal(ctx context.Context, fn func(ledger.Journal) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, debit_account, credit_account, asset, amount, journal_type, created_at
		FROM custody.journal ORDER BY seq`)
	if err != nil {
		return dbError(err, "scan journal")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			j                          ledger.Journal
			debit, credit, asset, kind string
		)
		if err := rows.Scan(&j.JournalID, &j.BatchID, &j.EventRef, &debit, &credit, &asset, &j.Amount, &kind, &j.Timestamp); err != nil {
			return dbError(err, "scan journal row")
		}
		if j.DebitAccount, err = ledger.ParseAccountPath(debit); err != nil {
			return errors.Wrapf(err, "journal %s", j.JournalID)
		}
		if j.CreditAccount, err = ledger.ParseAccountPath(credit); err != nil {
			return errors.Wrapf(err, "journal %s", j.JournalID)
		}
		if j.JournalType, err = ledger.ParseJournalType(kind); err != nil {
			return errors.Wrapf(err, "journal %s", j.JournalID)
		}
		j.Asset = ledger.Asset(asset)

		if err := fn(j); err != nil {
			return err
		}
	}
	return dbError(rows.Err(), "scan journal")
}

// --- Outbox ---

// FetchUnpublished returns the oldest unrelayed events in sequence order.
func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]event.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, aggregate_id, account_id, occurred_at, payload
		FROM custody.outbox
		WHERE published_at IS NULL
		ORDER BY sequence
		LIMIT $1`, limit)
	if err != nil {
		return nil, dbError(err, "fetch outbox")
	}
	defer rows.Close()

	var out []event.Envelope
	for rows.Next() {
		var env event.Envelope
		var payload []byte
		if err := rows.Scan(&env.Sequence, &env.EventID, &env.EventType, &env.AggregateID, &env.AccountID,
			&env.OccurredAt, &payload); err != nil {
			return nil, dbError(err, "scan outbox")
		}
		env.Payload = payload
		out = append(out, env)
	}
	return out, dbError(rows.Err(), "fetch outbox")
}

func (s *PostgresStore) MarkPublished(ctx context.Context, sequences []int64) error {
	if len(sequences) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE custody.outbox SET published_at = NOW() WHERE sequence = ANY($1)`, pq.Array(sequences))
	return dbError(err, "mark published")
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
