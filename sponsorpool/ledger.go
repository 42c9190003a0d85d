// Package sponsorpool implements a pooled fee-sponsorship ledger: third
// parties deposit funds into pools addressed by scope keys, the node drains
// those pools to cover transaction fees on behalf of users and contracts, and
// sponsors later redeem their pro-rata remaining share.
//
// The ledger keeps accounting only; actual value lives in a FundsBackend.
// Every public operation is all-or-nothing: on any failure the pool state of
// that call is rolled back before the error is returned.
package sponsorpool

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// TxContext carries the host-provided facts about the call being executed:
// who signed it and at what effective gas price it runs. A zero gas price
// means the fee of the executing transaction was itself covered by a pool.
type TxContext struct {
	Caller   common.Address
	GasPrice *uint256.Int
}

// sponsored reports whether the executing transaction is fee-sponsored. A nil
// gas price is treated as sponsored so that a host forgetting to plumb the
// signal cannot open the withdrawal path.
func (c TxContext) sponsored() bool {
	return c.GasPrice == nil || c.GasPrice.IsZero()
}

// NodeAuthority is the capability required to deduct fees. NewLedger mints
// exactly one per ledger; the host hands it to its internal transaction
// machinery and nowhere else. It cannot be forged from outside the package.
type NodeAuthority struct {
	ledger *Ledger
}

// Ledger is the shared fee-sponsorship state: one pool per scope key, created
// lazily on first deposit and never destroyed. A single lock serializes all
// read-modify-write sequences, which is what the original host environment
// guaranteed by running calls one at a time.
type Ledger struct {
	mu    sync.RWMutex
	pools map[ScopeKey]*pool
	funds FundsBackend
	feed  event.Feed
	log   log.Logger
}

// NewLedger creates an empty ledger on top of the given funds backend and
// mints the node authority for it.
func NewLedger(funds FundsBackend) (*Ledger, *NodeAuthority) {
	l := &Ledger{
		pools: make(map[ScopeKey]*pool),
		funds: funds,
		log:   log.New("module", "sponsorpool"),
	}
	return l, &NodeAuthority{ledger: l}
}

// Deposit contributes amount to the pool behind key, minting shares 1:1 for
// the caller. A zero amount is a no-op, not an error. The funds are pulled
// from the caller through the backend; if the pull is rejected the pool is
// left exactly as it was and ErrTransferFailed is returned.
func (l *Ledger) Deposit(ctx TxContext, key ScopeKey, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	sponsor := ctx.Caller

	l.mu.Lock()
	p := l.pools[key]
	if p == nil {
		p = newPool()
		l.pools[key] = p
	}
	if err := p.deposit(sponsor, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.funds.Collect(sponsor, amount); err != nil {
		p.withdraw(sponsor, amount) // exact reversal of the deposit above
		l.mu.Unlock()
		transferFailCounter.Inc(1)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.mu.Unlock()

	depositMeter.Mark(1)
	l.log.Debug("Pool sponsored", "scope", key, "sponsor", sponsor, "amount", amount)
	l.feed.Send(SponsorshipEvent{Kind: Sponsored, Scope: key, Sponsor: sponsor, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Withdraw redeems the caller's share of the pool behind key, capped at
// Withdrawable. The effective amount is returned. The ledger mutation happens
// before the payout; a rejected payout rolls it back and the call fails as a
// whole.
//
// Withdrawals are refused inside sponsored transactions: the zero-gas-price
// execution context exists to spend pool money on fees, and must not double
// as a channel for draining it.
func (l *Ledger) Withdraw(ctx TxContext, key ScopeKey, requested *uint256.Int) (*uint256.Int, error) {
	if ctx.sponsored() {
		return nil, ErrNotAllowedInSponsoredTx
	}
	sponsor := ctx.Caller

	l.mu.Lock()
	p := l.pools[key]
	if p == nil {
		l.mu.Unlock()
		return nil, ErrNothingToWithdraw
	}
	amount := p.withdrawable(sponsor)
	if requested.Cmp(amount) < 0 {
		amount.Set(requested)
	}
	if amount.IsZero() {
		l.mu.Unlock()
		return nil, ErrNothingToWithdraw
	}
	p.withdraw(sponsor, amount)
	if err := l.funds.Transfer(sponsor, amount); err != nil {
		p.restore(sponsor, amount)
		l.mu.Unlock()
		transferFailCounter.Inc(1)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.mu.Unlock()

	withdrawMeter.Mark(1)
	l.log.Debug("Pool unsponsored", "scope", key, "sponsor", sponsor, "amount", amount)
	l.feed.Send(SponsorshipEvent{Kind: Unsponsored, Scope: key, Sponsor: sponsor, Amount: new(uint256.Int).Set(amount)})
	return amount, nil
}

// IsCovered reports whether some pool in the scope chain of (payer, target,
// calldata) holds at least fee. Read-only; the winning pool is not revealed
// beyond the walk order being fixed.
func (l *Ledger) IsCovered(payer, target common.Address, calldata []byte, fee *uint256.Int) (bool, error) {
	keys, err := Resolve(payer, target, calldata)
	if err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, covered := l.findCovering(keys, fee)
	return covered, nil
}

// DeductFees charges fee for a call from payer to target: the first pool in
// priority order whose balance covers the whole fee is debited by exactly
// fee, and the fee is handed to the backend's burn sink. Fees are never split
// across pools. Requires the node authority minted for this ledger.
func (l *Ledger) DeductFees(auth *NodeAuthority, payer, target common.Address, calldata []byte, fee *uint256.Int) error {
	if auth == nil || auth.ledger != l {
		return ErrNotNode
	}
	keys, err := Resolve(payer, target, calldata)
	if err != nil {
		return err
	}

	l.mu.Lock()
	p, covered := l.findCovering(keys, fee)
	if !covered {
		l.mu.Unlock()
		uncoveredCounter.Inc(1)
		return ErrNotSponsored
	}
	if p != nil {
		p.spend(fee)
	}
	if err := l.funds.Burn(fee); err != nil {
		if p != nil {
			p.available.Add(&p.available, fee)
		}
		l.mu.Unlock()
		burnFailCounter.Inc(1)
		l.log.Warn("Fee burn rejected", "payer", payer, "target", target, "fee", fee, "err", err)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.mu.Unlock()

	deductMeter.Mark(1)
	l.log.Debug("Fees deducted", "payer", payer, "target", target, "fee", fee)
	return nil
}

// findCovering walks the resolved keys in priority order and returns the
// first pool whose balance covers fee. A zero fee is covered by the very
// first scope even when no pool record exists yet; the returned pool is nil
// in that case because there is nothing to debit.
func (l *Ledger) findCovering(keys [5]ScopeKey, fee *uint256.Int) (*pool, bool) {
	for _, key := range keys {
		p := l.pools[key]
		if p == nil {
			if fee.IsZero() {
				return nil, true
			}
			continue
		}
		if p.covers(fee) {
			return p, true
		}
	}
	return nil, false
}

// Available returns the redeemable balance of the pool behind key.
func (l *Ledger) Available(key ScopeKey) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p := l.pools[key]; p != nil {
		return new(uint256.Int).Set(&p.available)
	}
	return new(uint256.Int)
}

// TotalShares returns the outstanding share total of the pool behind key.
func (l *Ledger) TotalShares(key ScopeKey) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p := l.pools[key]; p != nil {
		return new(uint256.Int).Set(&p.totalShares)
	}
	return new(uint256.Int)
}

// SharesOf returns the sponsor's outstanding shares in the pool behind key.
func (l *Ledger) SharesOf(key ScopeKey, sponsor common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p := l.pools[key]; p != nil {
		if share := p.shares[sponsor]; share != nil {
			return new(uint256.Int).Set(share)
		}
	}
	return new(uint256.Int)
}

// Withdrawable returns the amount the sponsor could redeem from the pool
// behind key right now: floor(available * shares / totalShares), zero for an
// empty pool.
func (l *Ledger) Withdrawable(key ScopeKey, sponsor common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p := l.pools[key]; p != nil {
		return p.withdrawable(sponsor)
	}
	return new(uint256.Int)
}
