package sponsorpool

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FundsBackend is the external funds system the ledger sits on top of. The
// ledger never holds value itself; it only keeps the accounting. Every method
// either moves the full amount or returns an error, in which case the ledger
// rolls the calling operation back.
type FundsBackend interface {
	// Collect pulls a deposit from the sponsor into the pooled vault.
	Collect(from common.Address, amount *uint256.Int) error

	// Transfer pays a withdrawal out of the vault.
	Transfer(to common.Address, amount *uint256.Int) error

	// Burn irreversibly retires a deducted fee from the vault.
	Burn(amount *uint256.Int) error
}

// MemBackend is an in-memory FundsBackend. It backs the unit tests and the
// sponsorctl scenario runner; statefund.Vault is the StateDB-backed
// equivalent used in a node.
type MemBackend struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	vault    uint256.Int
	burned   uint256.Int
}

func NewMemBackend() *MemBackend {
	return &MemBackend{balances: make(map[common.Address]*uint256.Int)}
}

// Mint credits a test account out of thin air.
func (b *MemBackend) Mint(addr common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[addr]
	if bal == nil {
		bal = new(uint256.Int)
		b.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// BalanceOf returns a copy of the account balance.
func (b *MemBackend) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := new(uint256.Int)
	if bal := b.balances[addr]; bal != nil {
		out.Set(bal)
	}
	return out
}

// VaultBalance returns a copy of the pooled vault balance.
func (b *MemBackend) VaultBalance() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(&b.vault)
}

// Burned returns the running total of retired fees.
func (b *MemBackend) Burned() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(&b.burned)
}

func (b *MemBackend) Collect(from common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance at %s", from.Hex())
	}
	bal.Sub(bal, amount)
	b.vault.Add(&b.vault, amount)
	return nil
}

func (b *MemBackend) Transfer(to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vault.Cmp(amount) < 0 {
		return fmt.Errorf("vault underfunded: have %s, need %s", b.vault.Dec(), amount.Dec())
	}
	b.vault.Sub(&b.vault, amount)
	bal := b.balances[to]
	if bal == nil {
		bal = new(uint256.Int)
		b.balances[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

func (b *MemBackend) Burn(amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.vault.Cmp(amount) < 0 {
		return fmt.Errorf("vault underfunded: have %s, need %s", b.vault.Dec(), amount.Dec())
	}
	b.vault.Sub(&b.vault, amount)
	b.burned.Add(&b.burned, amount)
	return nil
}
