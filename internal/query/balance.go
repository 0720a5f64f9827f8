package query

import (
	"CustodyLedger/internal/auth"
	"CustodyLedger/internal/ledger"
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetWallets returns the account's wallets. Valuation comes from the
// pricing feed and is best effort: a feed failure leaves values empty.
func (s *Service) GetWallets(ctx context.Context, actor auth.Principal, accountID uuid.UUID) (resp *WalletsResponse, err error) {
	defer s.observe("GetWallets", &err)()

	if err := canRead(actor, accountID); err != nil {
		return nil, err
	}
	wallets, err := s.reader.ListWallets(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp = &WalletsResponse{AccountID: accountID, Wallets: make([]WalletView, 0, len(wallets))}
	assets := make([]ledger.Asset, 0, len(wallets))
	for _, w := range wallets {
		resp.Wallets = append(resp.Wallets, WalletView{
			AccountID:     w.AccountID,
			Asset:         w.Asset,
			Balance:       w.Balance,
			LockedBalance: w.LockedBalance,
			Available:     w.Available(),
			UpdatedAt:     w.UpdatedAt,
		})
		assets = append(assets, w.Asset)
	}

	if s.prices == nil || len(assets) == 0 {
		return resp, nil
	}
	prices, perr := s.prices.Prices(ctx, assets)
	if perr != nil {
		s.logger.Warn().Err(perr).Msg("pricing feed unavailable")
		resp.PricesStale = true
		return resp, nil
	}

	total := decimal.Zero
	for i := range resp.Wallets {
		v := &resp.Wallets[i]
		p, ok := prices[v.Asset]
		if !ok {
			continue
		}
		value := v.Balance.Mul(p)
		v.Price = &p
		v.Value = &value
		total = total.Add(value)
	}
	resp.TotalValue = &total
	return resp, nil
}
