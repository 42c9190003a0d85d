package sponsorpool

import "errors"

var (
	// ErrNotNode is returned when DeductFees is invoked without the node
	// authority handed out by NewLedger. Deduction is the one privileged
	// operation; everything else is open.
	ErrNotNode = errors.New("caller is not the node")

	// ErrNotSponsored is returned when no pool in the resolved scope chain
	// holds enough balance to cover the requested fee.
	ErrNotSponsored = errors.New("call is not sponsored")

	// ErrNothingToWithdraw is returned when the capped withdrawal amount
	// works out to zero, either because the sponsor holds no shares or the
	// pool has been fully drained.
	ErrNothingToWithdraw = errors.New("nothing to withdraw")

	// ErrNotAllowedInSponsoredTx rejects withdrawals attempted from inside a
	// fee-sponsored (zero effective gas price) transaction.
	ErrNotAllowedInSponsoredTx = errors.New("withdrawal not allowed in sponsored transaction")

	// ErrMalformedCalldata is returned when calldata is too short to carry an
	// operation selector.
	ErrMalformedCalldata = errors.New("malformed calldata")

	// ErrTransferFailed wraps a rejection from the funds backend. The ledger
	// mutation of the failing call is rolled back in full.
	ErrTransferFailed = errors.New("funds transfer failed")

	// ErrBalanceOverflow is returned when a deposit would push a pool past
	// 2^256-1. Amounts are bounded by the funds backend, so hitting this
	// means the caller fed garbage; the pool is left untouched.
	ErrBalanceOverflow = errors.New("pool balance overflow")
)
