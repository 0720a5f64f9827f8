package query

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/core"
	"CustodyLedger/internal/ledger"
	"CustodyLedger/internal/notify"
	"CustodyLedger/internal/observability"
	"CustodyLedger/internal/pricing"
	"CustodyLedger/internal/store"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ActivitySource serves recent per-account notifications.
type ActivitySource interface {
	QueryByAccount(accountID uuid.UUID, limit int) []notify.Notification
}

// Service serves read-only queries outside any unit of work. Callers may
// only read their own account unless they are admins.
type Service struct {
	reader   store.Reader
	prices   pricing.Feed
	activity ActivitySource
	metrics  *observability.Metrics
	logger   zerolog.Logger
	clock    func() time.Time
}

func NewService(reader store.Reader, prices pricing.Feed, activity ActivitySource,
	metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		reader:   reader,
		prices:   prices,
		activity: activity,
		metrics:  metrics,
		logger:   logger.With().Str("component", "query").Logger(),
		clock:    time.Now,
	}
}

func (s *Service) GetSettlement(ctx context.Context, actor auth.Principal, id uuid.UUID) (r *ledger.SettlementRequest, err error) {
	defer s.observe("GetSettlement", &err)()

	r, err = s.reader.FindSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canRead(actor, r.AccountID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListSettlements serves both a user's history and the admin review queue.
// Non-admins are always scoped to their own account.
func (s *Service) ListSettlements(ctx context.Context, actor auth.Principal, filter store.SettlementFilter) (out []ledger.SettlementRequest, err error) {
	defer s.observe("ListSettlements", &err)()

	if !actor.IsAdmin() {
		if filter.AccountID != nil && *filter.AccountID != actor.AccountID {
			return nil, ledger.Unauthorizedf("account %s may not list settlements of %s", actor.AccountID, *filter.AccountID)
		}
		own := actor.AccountID
		filter.AccountID = &own
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.reader.ListSettlements(ctx, filter)
}

func (s *Service) GetPoolWallets(ctx context.Context, actor auth.Principal) (out []ledger.PoolWallet, err error) {
	defer s.observe("GetPoolWallets", &err)()

	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.reader.ListPools(ctx)
}

func (s *Service) ListBotPositions(ctx context.Context, actor auth.Principal, accountID uuid.UUID) (out []ledger.BotPosition, err error) {
	defer s.observe("ListBotPositions", &err)()

	if err := canRead(actor, accountID); err != nil {
		return nil, err
	}
	return s.reader.ListBotPositions(ctx, accountID)
}

func (s *Service) GetOrder(ctx context.Context, actor auth.Principal, id uuid.UUID) (o *ledger.Order, err error) {
	defer s.observe("GetOrder", &err)()

	o, err = s.reader.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canRead(actor, o.AccountID); err != nil {
		return nil, err
	}
	return o, nil
}

// RecentActivity returns the newest notifications for accountID.
func (s *Service) RecentActivity(ctx context.Context, actor auth.Principal, accountID uuid.UUID, limit int) (out []notify.Notification, err error) {
	defer s.observe("RecentActivity", &err)()

	if err := canRead(actor, accountID); err != nil {
		return nil, err
	}
	if s.activity == nil {
		return []notify.Notification{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.activity.QueryByAccount(accountID, limit), nil
}

// --- Admin APIs ---

// VerifyIntegrity replays the whole journal and checks it is zero-sum per
// asset and that every stored wallet and pool matches the replay.
func (s *Service) VerifyIntegrity(ctx context.Context, actor auth.Principal) (report *IntegrityReport, err error) {
	defer s.observe("VerifyIntegrity", &err)()

	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	tracker := ledger.NewBalanceTracker()
	hasher := core.NewJournalHasher()
	if err := s.reader.ScanJournal(ctx, func(j ledger.Journal) error {
		tracker.ApplyJournal(j)
		hasher.Add(j)
		return nil
	}); err != nil {
		return nil, err
	}

	report = &IntegrityReport{
		JournalEntries: hasher.Count(),
		JournalHash:    hasher.Sum(),
		CheckedAt:      s.clock().UTC(),
	}

	for asset, total := range tracker.ComputeGlobalBalance() {
		if !total.IsZero() {
			report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{Asset: asset, Imbalance: total})
		}
	}
	sort.Slice(report.UnbalancedAssets, func(i, j int) bool {
		return report.UnbalancedAssets[i].Asset < report.UnbalancedAssets[j].Asset
	})

	validator := ledger.NewInvariantValidator(tracker)
	wallets, err := s.reader.ListAllWallets(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := s.reader.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	report.Mismatches = append(validator.ReconcileWallets(wallets), validator.ReconcilePools(pools)...)

	report.IsHealthy = len(report.UnbalancedAssets) == 0 && len(report.Mismatches) == 0
	if !report.IsHealthy {
		s.logger.Error().
			Int("unbalanced_assets", len(report.UnbalancedAssets)).
			Int("mismatches", len(report.Mismatches)).
			Msg("integrity check failed")
	}
	return report, nil
}

// --- helpers ---

func canRead(actor auth.Principal, accountID uuid.UUID) error {
	if actor.IsAdmin() || actor.Owns(accountID) {
		return nil
	}
	return ledger.Unauthorizedf("account %s may not read account %s", actor.AccountID, accountID)
}

func (s *Service) observe(method string, err *error) func() {
	start := time.Now()
	return func() {
		if s.metrics == nil {
			return
		}
		s.metrics.QueryRequests.WithLabelValues(method).Inc()
		s.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if *err != nil {
			s.metrics.QueryErrors.WithLabelValues(method, ledger.Code(*err)).Inc()
		}
	}
}
