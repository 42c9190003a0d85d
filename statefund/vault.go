// Package statefund provides the StateDB-backed funds vault for the
// sponsorship ledger: one dedicated account holds every pooled deposit, and
// the ledger moves value in and out of it through the FundsBackend interface.
package statefund

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/holiman/uint256"
)

// Vault implements sponsorpool.FundsBackend on top of a go-ethereum StateDB.
//
// Collect and Transfer are plain balance moves between the counterparty and
// the vault account. Burn sub-balances the vault without a receiving side,
// shrinking total supply the way the host chain retires fees.
type Vault struct {
	db   *state.StateDB
	addr common.Address
	// mu serializes balance access because StateDB is **not** thread-safe.
	mu sync.Mutex
}

// NewVault binds a vault to the given state and account. The account does not
// need to exist yet; the first Collect materializes it.
func NewVault(db *state.StateDB, addr common.Address) *Vault {
	return &Vault{db: db, addr: addr}
}

// Address returns the vault account.
func (v *Vault) Address() common.Address { return v.addr }

// Balance returns the current vault balance.
func (v *Vault) Balance() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.db.GetBalance(v.addr).Clone()
}

// Collect moves a deposit from the sponsor account into the vault.
func (v *Vault) Collect(from common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.db.GetBalance(from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance at %s", from.Hex())
	}
	v.db.SubBalance(from, amount, tracing.BalanceChangeTransfer)
	v.db.AddBalance(v.addr, amount, tracing.BalanceChangeTransfer)
	return nil
}

// Transfer pays a withdrawal out of the vault.
func (v *Vault) Transfer(to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkVaultBalance(amount); err != nil {
		return err
	}
	v.db.SubBalance(v.addr, amount, tracing.BalanceChangeTransfer)
	v.db.AddBalance(to, amount, tracing.BalanceChangeTransfer)
	return nil
}

// Burn retires a deducted fee: the value leaves the vault and is credited
// nowhere.
func (v *Vault) Burn(amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkVaultBalance(amount); err != nil {
		return err
	}
	v.db.SubBalance(v.addr, amount, tracing.BalanceDecreaseSelfdestructBurn)
	return nil
}

// checkVaultBalance rejects moves the vault cannot fund. The ledger keeps
// available <= vault balance as long as every deposit went through Collect,
// so a failure here means the vault account was touched behind our back.
func (v *Vault) checkVaultBalance(amount *uint256.Int) error {
	if have := v.db.GetBalance(v.addr); have.Cmp(amount) < 0 {
		return fmt.Errorf("vault underfunded: have %s, need %s", have.Dec(), amount.Dec())
	}
	return nil
}
