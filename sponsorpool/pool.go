package sponsorpool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// pool is the accounting record behind one scope key.
//
// available is the redeemable balance; it shrinks when fees are deducted and
// when sponsors withdraw. totalShares shrinks only on withdrawal, never on
// fee spending, which is what mutualizes a loss: spending lowers the share
// price available/totalShares for every holder proportionally, including
// holders who deposit after the loss.
type pool struct {
	available   uint256.Int
	totalShares uint256.Int
	shares      map[common.Address]*uint256.Int
}

func newPool() *pool {
	return &pool{shares: make(map[common.Address]*uint256.Int)}
}

// deposit mints shares 1:1 with the deposited amount, regardless of the
// current share price. All three balances move by exactly amount or, on
// overflow, none of them do.
func (p *pool) deposit(sponsor common.Address, amount *uint256.Int) error {
	var newAvail, newTotal, newShare uint256.Int
	if _, overflow := newAvail.AddOverflow(&p.available, amount); overflow {
		return ErrBalanceOverflow
	}
	if _, overflow := newTotal.AddOverflow(&p.totalShares, amount); overflow {
		return ErrBalanceOverflow
	}
	if prev := p.shares[sponsor]; prev != nil {
		if _, overflow := newShare.AddOverflow(prev, amount); overflow {
			return ErrBalanceOverflow
		}
	} else {
		newShare.Set(amount)
	}
	p.available.Set(&newAvail)
	p.totalShares.Set(&newTotal)
	p.shares[sponsor] = &newShare
	return nil
}

// withdrawable returns floor(available * shares[sponsor] / totalShares), the
// sponsor's pro-rata slice of what is left. Zero when the pool has no shares
// outstanding; the division never runs in that case.
func (p *pool) withdrawable(sponsor common.Address) *uint256.Int {
	out := new(uint256.Int)
	if p.totalShares.IsZero() {
		return out
	}
	share := p.shares[sponsor]
	if share == nil || share.IsZero() {
		return out
	}
	// 512-bit intermediate; the quotient is bounded by available so the
	// overflow flag cannot fire here.
	out.MulDivOverflow(&p.available, share, &p.totalShares)
	return out
}

// withdraw burns amount from all three balances. The caller has already
// capped amount at withdrawable(sponsor), which keeps every subtraction in
// range: amount <= available, and amount <= shares[sponsor] <= totalShares
// whenever available <= totalShares (deposits are 1:1 and only spend and
// withdraw move available down, so that always holds).
func (p *pool) withdraw(sponsor common.Address, amount *uint256.Int) {
	p.available.Sub(&p.available, amount)
	p.totalShares.Sub(&p.totalShares, amount)
	share := p.shares[sponsor]
	share.Sub(share, amount)
	if share.IsZero() {
		delete(p.shares, sponsor)
	}
}

// restore re-adds a just-withdrawn amount during rollback. No overflow
// checks: the pool held these exact values a moment ago.
func (p *pool) restore(sponsor common.Address, amount *uint256.Int) {
	p.available.Add(&p.available, amount)
	p.totalShares.Add(&p.totalShares, amount)
	share := p.shares[sponsor]
	if share == nil {
		share = new(uint256.Int)
		p.shares[sponsor] = share
	}
	share.Add(share, amount)
}

// spend debits a deducted fee. Shares are untouched; see the type comment.
// The caller guarantees fee <= available.
func (p *pool) spend(fee *uint256.Int) {
	p.available.Sub(&p.available, fee)
}

// covers reports whether the pool can pay the whole fee. Fees are never split
// across pools, so partial balance does not count.
func (p *pool) covers(fee *uint256.Int) bool {
	return p.available.Cmp(fee) >= 0
}
