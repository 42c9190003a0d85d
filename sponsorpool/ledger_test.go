package sponsorpool

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	sponsorA = common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	sponsorB = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	payer1   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	target1  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	// transfer(address,uint256)
	callTransfer = common.Hex2Bytes("a9059cbb0000000000000000000000001111111111111111111111111111111111111111")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func asCaller(addr common.Address) TxContext {
	return TxContext{Caller: addr, GasPrice: u(1)}
}

// newFundedLedger builds a ledger over a MemBackend with both test sponsors
// holding plenty of balance.
func newFundedLedger(t *testing.T) (*Ledger, *NodeAuthority, *MemBackend) {
	t.Helper()
	funds := NewMemBackend()
	funds.Mint(sponsorA, u(1_000_000))
	funds.Mint(sponsorB, u(1_000_000))
	l, auth := NewLedger(funds)
	return l, auth, funds
}

func mustDeposit(t *testing.T, l *Ledger, sponsor common.Address, key ScopeKey, amount uint64) {
	t.Helper()
	if err := l.Deposit(asCaller(sponsor), key, u(amount)); err != nil {
		t.Fatalf("deposit of %d failed: %v", amount, err)
	}
}

// Deposits alone must keep available == totalShares == sum of deposits, with
// shares minted 1:1.
func TestDepositConservation(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := TargetScope(target1)

	mustDeposit(t, l, sponsorA, key, 100)
	mustDeposit(t, l, sponsorB, key, 200)
	mustDeposit(t, l, sponsorA, key, 50)

	if got := l.Available(key); !got.Eq(u(350)) {
		t.Fatalf("available = %s, want 350", got.Dec())
	}
	if got := l.TotalShares(key); !got.Eq(u(350)) {
		t.Fatalf("totalShares = %s, want 350", got.Dec())
	}
	if got := l.SharesOf(key, sponsorA); !got.Eq(u(150)) {
		t.Fatalf("shares[A] = %s, want 150", got.Dec())
	}
	if got := l.SharesOf(key, sponsorB); !got.Eq(u(200)) {
		t.Fatalf("shares[B] = %s, want 200", got.Dec())
	}
}

func TestZeroDepositIsNoop(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := TargetScope(target1)
	if err := l.Deposit(asCaller(sponsorA), key, u(0)); err != nil {
		t.Fatalf("zero deposit must not error, got %v", err)
	}
	if got := l.TotalShares(key); !got.IsZero() {
		t.Fatalf("zero deposit minted %s shares", got.Dec())
	}
}

// A withdrawal request above the pro-rata ceiling is silently capped.
func TestWithdrawCappedAtShare(t *testing.T) {
	l, _, funds := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)
	mustDeposit(t, l, sponsorB, key, 300)

	got, err := l.Withdraw(asCaller(sponsorA), key, u(10_000))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !got.Eq(u(100)) {
		t.Fatalf("withdrew %s, want cap 100", got.Dec())
	}
	if bal := funds.BalanceOf(sponsorA); !bal.Eq(u(1_000_000)) {
		t.Fatalf("sponsor A balance = %s, want round trip to 1000000", bal.Dec())
	}
	if got := l.SharesOf(key, sponsorA); !got.IsZero() {
		t.Fatalf("shares[A] = %s after full redemption", got.Dec())
	}
}

// Spending 30 out of a 100+200 pool gives both sponsors a 10% haircut.
func TestLossMutualization(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)
	mustDeposit(t, l, sponsorB, key, 200)

	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(30)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if got := l.Withdrawable(key, sponsorA); !got.Eq(u(90)) {
		t.Fatalf("withdrawable(A) = %s, want 90", got.Dec())
	}
	if got := l.Withdrawable(key, sponsorB); !got.Eq(u(180)) {
		t.Fatalf("withdrawable(B) = %s, want 180", got.Dec())
	}
	// Shares themselves are untouched by spending.
	if got := l.TotalShares(key); !got.Eq(u(300)) {
		t.Fatalf("totalShares = %s, want 300", got.Dec())
	}
}

// Depositing into a pool that already took a loss immediately dilutes the new
// deposit: withdrawable < deposited. This is the observed arithmetic of the
// share model, not a bug.
func TestLateDepositorDilution(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)
	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(50)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}

	mustDeposit(t, l, sponsorB, key, 100)
	// (50+100)*100/(100+100) = 75
	if got := l.Withdrawable(key, sponsorB); !got.Eq(u(75)) {
		t.Fatalf("withdrawable(B) = %s, want 75", got.Dec())
	}
	// And the early depositor recovers part of the loss from the dilution.
	if got := l.Withdrawable(key, sponsorA); !got.Eq(u(75)) {
		t.Fatalf("withdrawable(A) = %s, want 75", got.Dec())
	}
}

// With both a (payer,target) pool and a (target) pool funded, deduction must
// debit only the higher-priority (payer,target) pool.
func TestDeductionPriorityOrder(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	ptKey := PayerTargetScope(payer1, target1)
	tKey := TargetScope(target1)
	mustDeposit(t, l, sponsorA, ptKey, 100)
	mustDeposit(t, l, sponsorB, tKey, 100)

	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(40)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if got := l.Available(ptKey); !got.Eq(u(60)) {
		t.Fatalf("payer/target pool = %s, want 60", got.Dec())
	}
	if got := l.Available(tKey); !got.Eq(u(100)) {
		t.Fatalf("target pool = %s, want 100 (untouched)", got.Dec())
	}
}

// A pool that cannot cover the whole fee is skipped, not partially drained.
func TestNoFeeSplitting(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	ptKey := PayerTargetScope(payer1, target1)
	tKey := TargetScope(target1)
	mustDeposit(t, l, sponsorA, ptKey, 30)
	mustDeposit(t, l, sponsorB, tKey, 100)

	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(40)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if got := l.Available(ptKey); !got.Eq(u(30)) {
		t.Fatalf("payer/target pool = %s, want 30 (skipped)", got.Dec())
	}
	if got := l.Available(tKey); !got.Eq(u(60)) {
		t.Fatalf("target pool = %s, want 60", got.Dec())
	}
}

func TestDeductRequiresNodeAuthority(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)

	if err := l.DeductFees(nil, payer1, target1, callTransfer, u(10)); !errors.Is(err, ErrNotNode) {
		t.Fatalf("nil authority: got %v, want ErrNotNode", err)
	}
	// An authority minted for a different ledger must not work either.
	_, foreign := NewLedger(NewMemBackend())
	if err := l.DeductFees(foreign, payer1, target1, callTransfer, u(10)); !errors.Is(err, ErrNotNode) {
		t.Fatalf("foreign authority: got %v, want ErrNotNode", err)
	}
	if got := l.Available(key); !got.Eq(u(100)) {
		t.Fatalf("pool modified by rejected deduction: %s", got.Dec())
	}
}

func TestDeductUncovered(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	mustDeposit(t, l, sponsorA, TargetScope(target1), 10)

	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(50)); !errors.Is(err, ErrNotSponsored) {
		t.Fatalf("got %v, want ErrNotSponsored", err)
	}
	ok, err := l.IsCovered(payer1, target1, callTransfer, u(50))
	if err != nil || ok {
		t.Fatalf("IsCovered = (%v, %v), want (false, nil)", ok, err)
	}
}

// Withdrawals inside a zero-gas-price transaction are refused outright.
func TestWithdrawBlockedInSponsoredTx(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)

	for _, ctx := range []TxContext{
		{Caller: sponsorA, GasPrice: u(0)},
		{Caller: sponsorA, GasPrice: nil},
	} {
		if _, err := l.Withdraw(ctx, key, u(10)); !errors.Is(err, ErrNotAllowedInSponsoredTx) {
			t.Fatalf("gasPrice=%v: got %v, want ErrNotAllowedInSponsoredTx", ctx.GasPrice, err)
		}
	}
	if got := l.Available(key); !got.Eq(u(100)) {
		t.Fatalf("pool modified by blocked withdrawal: %s", got.Dec())
	}
}

func TestWithdrawNothing(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := TargetScope(target1)
	if _, err := l.Withdraw(asCaller(sponsorA), key, u(10)); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("empty pool: got %v, want ErrNothingToWithdraw", err)
	}
	mustDeposit(t, l, sponsorB, key, 100)
	if _, err := l.Withdraw(asCaller(sponsorA), key, u(10)); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("no shares: got %v, want ErrNothingToWithdraw", err)
	}
	if _, err := l.Withdraw(asCaller(sponsorB), key, u(0)); !errors.Is(err, ErrNothingToWithdraw) {
		t.Fatalf("zero request: got %v, want ErrNothingToWithdraw", err)
	}
}

// rejectingBackend lets deposits through and refuses everything after, so
// rollback paths can be driven deterministically.
type rejectingBackend struct {
	*MemBackend
	failTransfer bool
	failBurn     bool
}

var errSinkDown = errors.New("sink down")

func (b *rejectingBackend) Transfer(to common.Address, amount *uint256.Int) error {
	if b.failTransfer {
		return errSinkDown
	}
	return b.MemBackend.Transfer(to, amount)
}

func (b *rejectingBackend) Burn(amount *uint256.Int) error {
	if b.failBurn {
		return errSinkDown
	}
	return b.MemBackend.Burn(amount)
}

func TestWithdrawRollbackOnTransferFailure(t *testing.T) {
	funds := &rejectingBackend{MemBackend: NewMemBackend(), failTransfer: true}
	funds.Mint(sponsorA, u(1000))
	l, _ := NewLedger(funds)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)

	if _, err := l.Withdraw(asCaller(sponsorA), key, u(40)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := l.Available(key); !got.Eq(u(100)) {
		t.Fatalf("available = %s after rollback, want 100", got.Dec())
	}
	if got := l.TotalShares(key); !got.Eq(u(100)) {
		t.Fatalf("totalShares = %s after rollback, want 100", got.Dec())
	}
	if got := l.SharesOf(key, sponsorA); !got.Eq(u(100)) {
		t.Fatalf("shares[A] = %s after rollback, want 100", got.Dec())
	}
}

func TestDeductRollbackOnBurnFailure(t *testing.T) {
	funds := &rejectingBackend{MemBackend: NewMemBackend(), failBurn: true}
	funds.Mint(sponsorA, u(1000))
	l, auth := NewLedger(funds)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)

	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(30)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := l.Available(key); !got.Eq(u(100)) {
		t.Fatalf("available = %s after rollback, want 100", got.Dec())
	}
}

func TestDepositRollbackOnCollectFailure(t *testing.T) {
	l, _ := NewLedger(NewMemBackend()) // sponsor holds nothing
	key := TargetScope(target1)
	if err := l.Deposit(asCaller(sponsorA), key, u(100)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := l.TotalShares(key); !got.IsZero() {
		t.Fatalf("shares minted despite failed collect: %s", got.Dec())
	}
}

func TestMalformedCalldata(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	short := []byte{0xa9, 0x05}

	if _, err := l.IsCovered(payer1, target1, short, u(1)); !errors.Is(err, ErrMalformedCalldata) {
		t.Fatalf("IsCovered: got %v, want ErrMalformedCalldata", err)
	}
	if err := l.DeductFees(auth, payer1, target1, short, u(1)); !errors.Is(err, ErrMalformedCalldata) {
		t.Fatalf("DeductFees: got %v, want ErrMalformedCalldata", err)
	}
}

// Zero fees are trivially covered and leave every pool untouched.
func TestZeroFeeDeduction(t *testing.T) {
	l, auth, _ := newFundedLedger(t)
	ok, err := l.IsCovered(payer1, target1, callTransfer, u(0))
	if err != nil || !ok {
		t.Fatalf("IsCovered(0) = (%v, %v), want (true, nil)", ok, err)
	}
	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(0)); err != nil {
		t.Fatalf("zero-fee deduct failed: %v", err)
	}
}

func TestSponsorshipEvents(t *testing.T) {
	l, _, _ := newFundedLedger(t)
	key := PayerScope(payer1)

	ch := make(chan SponsorshipEvent, 2)
	sub := l.SubscribeSponsorshipEvents(ch)
	defer sub.Unsubscribe()

	mustDeposit(t, l, sponsorA, key, 100)
	if _, err := l.Withdraw(asCaller(sponsorA), key, u(40)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	ev := <-ch
	if ev.Kind != Sponsored || ev.Scope != key || ev.Sponsor != sponsorA || !ev.Amount.Eq(u(100)) {
		t.Fatalf("unexpected deposit event: %+v", ev)
	}
	ev = <-ch
	if ev.Kind != Unsponsored || !ev.Amount.Eq(u(40)) {
		t.Fatalf("unexpected withdrawal event: %+v", ev)
	}
}

// End-to-end walk of the documented scenario: deposit 100 into the (target)
// pool, cover and deduct a 50 fee for an arbitrary payer, then check the
// remaining redeemable amount.
func TestEndToEndScenario(t *testing.T) {
	l, auth, funds := newFundedLedger(t)
	key := TargetScope(target1)
	mustDeposit(t, l, sponsorA, key, 100)

	ok, err := l.IsCovered(payer1, target1, callTransfer, u(50))
	if err != nil || !ok {
		t.Fatalf("IsCovered = (%v, %v), want (true, nil)", ok, err)
	}
	if err := l.DeductFees(auth, payer1, target1, callTransfer, u(50)); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}
	if got := l.Available(key); !got.Eq(u(50)) {
		t.Fatalf("available = %s, want 50", got.Dec())
	}
	if got := l.TotalShares(key); !got.Eq(u(100)) {
		t.Fatalf("totalShares = %s, want 100", got.Dec())
	}
	if got := l.Withdrawable(key, sponsorA); !got.Eq(u(50)) {
		t.Fatalf("withdrawable = %s, want 50", got.Dec())
	}
	if got := funds.Burned(); !got.Eq(u(50)) {
		t.Fatalf("burned = %s, want 50", got.Dec())
	}
}
