package sponsorpool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
)

// EventKind tags a SponsorshipEvent.
type EventKind uint8

const (
	// Sponsored marks a deposit into a pool.
	Sponsored EventKind = iota
	// Unsponsored marks a withdrawal from a pool.
	Unsponsored
)

func (k EventKind) String() string {
	if k == Sponsored {
		return "sponsored"
	}
	return "unsponsored"
}

// SponsorshipEvent is emitted once per successful state-changing contribution
// call, after the ledger mutation has committed. Amount is the effective
// amount moved, which for withdrawals may be lower than what was requested.
type SponsorshipEvent struct {
	Kind    EventKind
	Scope   ScopeKey
	Sponsor common.Address
	Amount  *uint256.Int
}

// SubscribeSponsorshipEvents registers a sink for deposit and withdrawal
// notifications. Fee deductions are not announced; the node observes those
// as the caller.
func (l *Ledger) SubscribeSponsorshipEvents(ch chan<- SponsorshipEvent) event.Subscription {
	return l.feed.Subscribe(ch)
}
