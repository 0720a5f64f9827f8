package ledger_test

import (
	"CustodyLedger/internal/ledger"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustWallet(t *testing.T, balance, locked string) *ledger.Wallet {
	t.Helper()
	w := ledger.NewWallet(uuid.New(), ledger.AssetUSDT)
	w.Balance = d(balance)
	w.LockedBalance = d(locked)
	if err := w.CheckInvariant(); err != nil {
		t.Fatalf("fixture violates invariant: %v", err)
	}
	return w
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	accountID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(accountID, ledger.SubTypeLocked, ledger.AssetUSDT)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:locked:USDT"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PoolAndExternalPaths(t *testing.T) {
	if got := ledger.NewPoolAccountKey(ledger.AssetBTC).AccountPath(); got != "pool:BTC" {
		t.Errorf("got %q, want pool:BTC", got)
	}
	if got := ledger.NewExternalAccountKey(ledger.SubTypeBotPnL, ledger.AssetUSDC).AccountPath(); got != "external:bot_pnl:USDC" {
		t.Errorf("got %q, want external:bot_pnl:USDC", got)
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeAvailable, ledger.AssetETH),
		ledger.NewPoolAccountKey(ledger.AssetUSDT),
		ledger.NewExternalAccountKey(ledger.SubTypeTreasury, ledger.AssetDAI),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, k)
		}
	}

	if _, err := ledger.ParseAccountPath("user:not-a-uuid:available:USDT"); err == nil {
		t.Error("expected error for malformed user id")
	}
	if _, err := ledger.ParseAccountPath("system:fees:USDT"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

// ============================================================================
// Test: Assets and amounts
// ============================================================================

func TestParseAsset(t *testing.T) {
	a, err := ledger.ParseAsset(" usdc ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a != ledger.AssetUSDC {
		t.Errorf("got %s, want USDC", a)
	}

	_, err = ledger.ParseAsset("DOGE")
	if !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("DOGE: expected ErrValidation, got %v", err)
	}
}

func TestParsePair(t *testing.T) {
	p, err := ledger.ParsePair("btc-usdt")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Base != ledger.AssetBTC || p.Quote != ledger.AssetUSDT {
		t.Errorf("got %s, want BTC/USDT", p)
	}
	if _, err := ledger.ParsePair("USDT/USDT"); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("identical legs: expected ErrValidation, got %v", err)
	}
}

func TestPair_ValidatePrice(t *testing.T) {
	pair := ledger.Pair{Base: ledger.AssetBTC, Quote: ledger.AssetUSDT}

	valid := [][2]string{
		{"64000.5", "0.5"},
		{"20000", "0.00000001"},
		{"0.000001", "1"},
	}
	for _, c := range valid {
		if err := pair.ValidatePrice(d(c[0]), d(c[1])); err != nil {
			t.Errorf("price %s qty %s: unexpected error %v", c[0], c[1], err)
		}
	}

	invalid := [][2]string{
		{"0", "1"},
		{"-1", "1"},
		{"1.000000000001", "0.00000001"}, // price beyond quote precision
		{"3.1234567891", "0.0000001"},
		{"1.5", "0.00000001"}, // notional 0.000000015
		{"64000.5", "0.00000001"},
	}
	for _, c := range invalid {
		if err := pair.ValidatePrice(d(c[0]), d(c[1])); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("price %s qty %s: expected ErrValidation, got %v", c[0], c[1], err)
		}
	}
}

func TestValidatePrecision_Signed(t *testing.T) {
	if err := ledger.ValidatePrecision(ledger.AssetUSDT, d("-12.345678")); err != nil {
		t.Errorf("negative at precision: %v", err)
	}
	if err := ledger.ValidatePrecision(ledger.AssetUSDT, d("-12.3456789")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("negative beyond precision: expected ErrValidation, got %v", err)
	}
	if err := ledger.ValidatePrecision(ledger.Asset("DOGE"), d("1")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("unsupported asset: expected ErrValidation, got %v", err)
	}
}

func TestParseAmount_Strict(t *testing.T) {
	valid := map[string]string{
		"1":          "1",
		"0.5":        "0.5",
		" 1000.25 ":  "1000.25",
		"0000012.10": "12.1",
	}
	for in, want := range valid {
		got, err := ledger.ParseAmount(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if !got.Equal(d(want)) {
			t.Errorf("%q: got %s, want %s", in, got, want)
		}
	}

	invalid := []string{"", "0", "-1", "0.000", "1e3", "NaN", "Inf", "+5", "1.2.3", ".5", "5.", "abc", "--1"}
	for _, in := range invalid {
		if _, err := ledger.ParseAmount(in); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("%q: expected ErrValidation, got %v", in, err)
		}
	}
}

func TestParseSignedAmount(t *testing.T) {
	got, err := ledger.ParseSignedAmount("-12.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(d("-12.5")) {
		t.Errorf("got %s, want -12.5", got)
	}
	if _, err := ledger.ParseSignedAmount("1e2"); err == nil {
		t.Error("exponent notation should be rejected")
	}
}

func TestValidateAmount_Precision(t *testing.T) {
	if err := ledger.ValidateAmount(ledger.AssetUSDT, d("1.123456")); err != nil {
		t.Errorf("6 decimals should be accepted: %v", err)
	}
	if err := ledger.ValidateAmount(ledger.AssetUSDT, d("1.1234567")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("7 decimals should be rejected, got %v", err)
	}
	if err := ledger.ValidateAmount(ledger.AssetUSDT, d("1.500000000")); err != nil {
		t.Errorf("trailing zeros should be accepted: %v", err)
	}
}

// ============================================================================
// Test: Wallet
// ============================================================================

func TestWallet_LockUnlock(t *testing.T) {
	w := mustWallet(t, "1000", "0")

	if err := w.Lock(d("300")); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !w.LockedBalance.Equal(d("300")) || !w.Available().Equal(d("700")) {
		t.Errorf("after lock: locked=%s available=%s", w.LockedBalance, w.Available())
	}

	if err := w.Unlock(d("300")); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !w.LockedBalance.IsZero() || !w.Available().Equal(d("1000")) {
		t.Errorf("after unlock: locked=%s available=%s", w.LockedBalance, w.Available())
	}
}

func TestWallet_LockInsufficientNoMutation(t *testing.T) {
	w := mustWallet(t, "100", "60")

	err := w.Lock(d("50"))
	var insufficient *ledger.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !insufficient.Required.Equal(d("50")) || !insufficient.Available[ledger.AssetUSDT].Equal(d("40")) {
		t.Errorf("shortfall: required=%s available=%v", insufficient.Required, insufficient.Available)
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Error("error should match ErrInsufficientFunds")
	}
	if !w.LockedBalance.Equal(d("60")) {
		t.Errorf("locked mutated on failure: %s", w.LockedBalance)
	}
}

func TestWallet_UnlockBeyondLockedIsInvariantViolation(t *testing.T) {
	w := mustWallet(t, "100", "10")

	err := w.Unlock(d("11"))
	if !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInternal) {
		t.Error("invariant violation should be in the internal category")
	}
	if ledger.Code(err) != ledger.CodeInternal {
		t.Errorf("code: got %s, want %s", ledger.Code(err), ledger.CodeInternal)
	}
}

func TestWallet_DebitRespectsLocked(t *testing.T) {
	w := mustWallet(t, "100", "80")

	if err := w.Debit(d("30")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := w.Debit(d("20")); err != nil {
		t.Fatalf("debit within available: %v", err)
	}
	if !w.Balance.Equal(d("80")) {
		t.Errorf("balance: got %s, want 80", w.Balance)
	}
	if err := w.CheckInvariant(); err != nil {
		t.Errorf("invariant: %v", err)
	}
}

func TestWallet_NonPositiveAmountsRejected(t *testing.T) {
	w := mustWallet(t, "100", "0")
	ops := map[string]func(decimal.Decimal) error{
		"lock": w.Lock, "unlock": w.Unlock, "credit": w.Credit, "debit": w.Debit,
	}
	for name, op := range ops {
		if err := op(decimal.Zero); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("%s(0): expected ErrValidation, got %v", name, err)
		}
	}
}

// ============================================================================
// Test: PoolWallet
// ============================================================================

func TestPoolWallet_PayDepositInsufficient(t *testing.T) {
	p := ledger.NewPoolWallet(ledger.AssetUSDT)
	p.Balance = d("500000")

	err := p.PayDeposit(d("1000000"))
	if !errors.Is(err, ledger.ErrInsufficientPoolLiquidity) {
		t.Fatalf("expected ErrInsufficientPoolLiquidity, got %v", err)
	}
	if !p.Balance.Equal(d("500000")) || !p.TotalDeposits.IsZero() {
		t.Errorf("pool mutated on failure: balance=%s deposits=%s", p.Balance, p.TotalDeposits)
	}
}

func TestPoolWallet_Counters(t *testing.T) {
	p := ledger.NewPoolWallet(ledger.AssetUSDT)
	if err := p.Replenish(d("1000")); err != nil {
		t.Fatal(err)
	}
	if err := p.PayDeposit(d("400")); err != nil {
		t.Fatal(err)
	}
	if err := p.ReceiveWithdrawal(d("150")); err != nil {
		t.Fatal(err)
	}

	if !p.Balance.Equal(d("750")) {
		t.Errorf("balance: got %s, want 750", p.Balance)
	}
	if !p.TotalDeposits.Equal(d("400")) || !p.TotalWithdrawals.Equal(d("150")) {
		t.Errorf("counters: deposits=%s withdrawals=%s", p.TotalDeposits, p.TotalWithdrawals)
	}
}

// ============================================================================
// Test: SettlementRequest transitions
// ============================================================================

func TestSettlementRequest_Lifecycle(t *testing.T) {
	now := time.Now()
	r := ledger.NewSettlementRequest(uuid.New(), ledger.SettlementWithdrawal, ledger.AssetUSDT, d("500"), now)

	if r.Status != ledger.SettlementPending {
		t.Fatalf("initial status: %s", r.Status)
	}
	if err := r.Confirm(now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := r.Confirm(now); !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Errorf("second confirm: expected ErrAlreadyProcessed, got %v", err)
	}

	reviewer := uuid.New()
	if err := r.Complete(reviewer, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := r.Fail(reviewer, "late", now); !errors.Is(err, ledger.ErrAlreadyProcessed) {
		t.Errorf("fail after complete: expected ErrAlreadyProcessed, got %v", err)
	}
	if r.Status != ledger.SettlementCompleted || r.CompletedAt == nil || *r.ReviewerID != reviewer {
		t.Errorf("unexpected final state: %+v", r)
	}
}

func TestSettlementRequest_FailRequiresReason(t *testing.T) {
	r := ledger.NewSettlementRequest(uuid.New(), ledger.SettlementDeposit, ledger.AssetUSDT, d("1"), time.Now())
	_ = r.Confirm(time.Now())

	if err := r.Fail(uuid.New(), "   ", time.Now()); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if r.Status != ledger.SettlementAwaitingReview {
		t.Errorf("status changed on invalid reject: %s", r.Status)
	}
}

// ============================================================================
// Test: PickFundingAsset
// ============================================================================

func TestPickFundingAsset_PreferenceOrder(t *testing.T) {
	candidates := []ledger.FundingCandidate{
		{Asset: ledger.AssetUSDT, Available: d("250")},
		{Asset: ledger.AssetUSDC, Available: d("900")},
	}

	got, err := ledger.PickFundingAsset(candidates, d("200"))
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got != ledger.AssetUSDT {
		t.Errorf("got %s, want USDT (first sufficient)", got)
	}
}

func TestPickFundingAsset_FallsThrough(t *testing.T) {
	candidates := []ledger.FundingCandidate{
		{Asset: ledger.AssetUSDT, Available: d("50")},
		{Asset: ledger.AssetUSDC, Available: d("200")},
	}

	got, err := ledger.PickFundingAsset(candidates, d("200"))
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got != ledger.AssetUSDC {
		t.Errorf("got %s, want USDC", got)
	}
}

func TestPickFundingAsset_NoSingleAssetCovers(t *testing.T) {
	candidates := []ledger.FundingCandidate{
		{Asset: ledger.AssetUSDT, Available: d("150")},
		{Asset: ledger.AssetUSDC, Available: d("100")},
	}

	_, err := ledger.PickFundingAsset(candidates, d("200"))
	var insufficient *ledger.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !insufficient.Required.Equal(d("200")) {
		t.Errorf("required: got %s, want 200", insufficient.Required)
	}
	if !insufficient.Available[ledger.AssetUSDT].Equal(d("150")) || !insufficient.Available[ledger.AssetUSDC].Equal(d("100")) {
		t.Errorf("available per asset: %v", insufficient.Available)
	}
	if !insufficient.Shortfall().Equal(d("50")) {
		t.Errorf("shortfall: got %s, want 50", insufficient.Shortfall())
	}
	want := "insufficient funds: required 200, available USDC=100 USDT=150"
	if err.Error() != want {
		t.Errorf("message: got %q, want %q", err.Error(), want)
	}
}

func TestPickFundingAsset_Validation(t *testing.T) {
	if _, err := ledger.PickFundingAsset(nil, d("1")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("empty candidates: expected ErrValidation, got %v", err)
	}
	if _, err := ledger.PickFundingAsset([]ledger.FundingCandidate{{Asset: ledger.AssetUSDT, Available: d("1")}}, decimal.Zero); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("zero required: expected ErrValidation, got %v", err)
	}
}

// ============================================================================
// Test: BotPosition
// ============================================================================

func TestBotPosition_ApplyProfit(t *testing.T) {
	p := &ledger.BotPosition{ID: uuid.New(), Asset: ledger.AssetUSDT, Status: ledger.BotActive, InvestedAmount: d("100"), CurrentValue: d("100"), TotalProfit: decimal.Zero}

	if err := p.ApplyProfit(d("25")); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyProfit(d("-40")); err != nil {
		t.Fatal(err)
	}
	if !p.CurrentValue.Equal(d("85")) || !p.TotalProfit.Equal(d("-15")) {
		t.Errorf("value=%s profit=%s", p.CurrentValue, p.TotalProfit)
	}
	if err := p.ApplyProfit(d("-86")); !errors.Is(err, ledger.ErrValidation) {
		t.Errorf("negative value: expected ErrValidation, got %v", err)
	}
	for _, delta := range []string{"0.0000001", "-0.0000001"} {
		if err := p.ApplyProfit(d(delta)); !errors.Is(err, ledger.ErrValidation) {
			t.Errorf("delta %s beyond USDT precision: expected ErrValidation, got %v", delta, err)
		}
	}
	if !p.CurrentValue.Equal(d("85")) {
		t.Errorf("rejected deltas moved the value to %s", p.CurrentValue)
	}
	if err := p.ApplyProfit(d("0.000001")); err != nil {
		t.Errorf("delta at USDT precision: %v", err)
	}

	_ = p.Stop(time.Now())
	if err := p.ApplyProfit(d("1")); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("stopped position: expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Test: Journal, BalanceTracker, InvariantValidator
// ============================================================================

func TestBatch_Validate(t *testing.T) {
	b := ledger.NewBatch("test", time.Now())
	if err := b.Validate(); err == nil {
		t.Error("empty batch should be invalid")
	}

	user := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeAvailable, ledger.AssetUSDT)
	b.Add(user, user, ledger.AssetUSDT, d("1"), ledger.JournalTypeLock)
	if err := b.Validate(); err == nil {
		t.Error("self-transfer should be invalid")
	}

	b = ledger.NewBatch("test", time.Now())
	b.Add(user, ledger.NewPoolAccountKey(ledger.AssetBTC), ledger.AssetUSDT, d("1"), ledger.JournalTypeDepositSettle)
	if err := b.Validate(); err == nil {
		t.Error("mixed assets should be invalid")
	}
}

func TestBalanceTracker_ReplayMatchesWallet(t *testing.T) {
	accountID := uuid.New()
	avail := ledger.NewUserAccountKey(accountID, ledger.SubTypeAvailable, ledger.AssetUSDT)
	locked := ledger.NewUserAccountKey(accountID, ledger.SubTypeLocked, ledger.AssetUSDT)
	pool := ledger.NewPoolAccountKey(ledger.AssetUSDT)
	treasury := ledger.NewExternalAccountKey(ledger.SubTypeTreasury, ledger.AssetUSDT)

	b := ledger.NewBatch("scenario", time.Now())
	b.Add(pool, treasury, ledger.AssetUSDT, d("5000"), ledger.JournalTypePoolFunding)
	b.Add(avail, pool, ledger.AssetUSDT, d("1000"), ledger.JournalTypeDepositSettle)
	b.Add(locked, avail, ledger.AssetUSDT, d("300"), ledger.JournalTypeLock)

	bt := ledger.NewBalanceTracker()
	if err := bt.ApplyBatch(b); err != nil {
		t.Fatalf("apply: %v", err)
	}

	w := ledger.Wallet{AccountID: accountID, Asset: ledger.AssetUSDT, Balance: d("1000"), LockedBalance: d("300")}
	p := ledger.PoolWallet{Asset: ledger.AssetUSDT, Balance: d("4000")}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if m := v.ReconcileWallets([]ledger.Wallet{w}); len(m) != 0 {
		t.Errorf("wallet mismatches: %+v", m)
	}
	if m := v.ReconcilePools([]ledger.PoolWallet{p}); len(m) != 0 {
		t.Errorf("pool mismatches: %+v", m)
	}

	w.LockedBalance = d("200")
	if m := v.ReconcileWallets([]ledger.Wallet{w}); len(m) != 1 || m[0].Field != "locked_balance" {
		t.Errorf("expected one locked_balance mismatch, got %+v", m)
	}
	if m := v.ReconcileWallets(nil); len(m) != 1 || m[0].Problem != "wallet missing" {
		t.Errorf("expected missing wallet, got %+v", m)
	}
}

// ============================================================================
// Test: Error codes
// ============================================================================

func TestCode(t *testing.T) {
	cases := map[error]string{
		ledger.Validationf("x"):                   ledger.CodeValidation,
		ledger.NotFoundf("x"):                     ledger.CodeNotFound,
		ledger.Unauthorizedf("x"):                 ledger.CodeUnauthorized,
		ledger.AlreadyProcessedf("x"):             ledger.CodeAlreadyProcessed,
		ledger.InvalidStatef("x"):                 ledger.CodeInvalidState,
		ledger.Conflictf("x"):                     ledger.CodeConflict,
		&ledger.PoolLiquidityError{}:              ledger.CodeInsufficientPoolLiquidity,
		ledger.NewInsufficientFunds(uuid.Nil, ledger.AssetUSDT, d("1"), d("0")): ledger.CodeInsufficientFunds,
		errors.New("boom"):                        ledger.CodeInternal,
	}
	for err, want := range cases {
		if got := ledger.Code(err); got != want {
			t.Errorf("%v: got %s, want %s", err, got, want)
		}
	}
	if !ledger.Retryable(ledger.Conflictf("x")) || ledger.Retryable(ledger.NotFoundf("x")) {
		t.Error("only conflicts are retryable")
	}
}
