package guild

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"guildhall/crypto"
)

// BalanceStore is the narrow persistence surface the ledger operates over.
// Balances default to zero for unknown (user, token) pairs.
type BalanceStore interface {
	Balance(user, token crypto.Address) (*big.Int, error)
	SetBalance(user, token crypto.Address, amount *big.Int) error
	GuildBankTokenCount() (uint64, error)
	SetGuildBankTokenCount(count uint64) error
}

// Ledger maintains the internal (user, token) balance table together with the
// reserved GUILD, ESCROW and TOTAL rows. Every mutation keeps the invariant
// that the TOTAL row equals the sum of all other rows for the same token, and
// tracks how many whitelisted tokens carry a non-zero guild bank balance.
//
// Arithmetic is unsigned 128-bit with overflow checking; an overflow is
// surfaced as ErrOverflow and must be treated as fatal.
type Ledger struct {
	store BalanceStore
}

// NewLedger wires a ledger to its balance store.
func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{store: store}
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return uint256.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrOverflow)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func (l *Ledger) balance(user, token crypto.Address) (*uint256.Int, error) {
	raw, err := l.store.Balance(user, token)
	if err != nil {
		return nil, err
	}
	return toUint256(raw)
}

func (l *Ledger) setBalance(user, token crypto.Address, value *uint256.Int) error {
	return l.store.SetBalance(user, token, value.ToBig())
}

// Add credits the user's balance and the TOTAL row. Crediting the guild bank
// from zero bumps the guild bank token counter.
func (l *Ledger) Add(user, token crypto.Address, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}
	current, err := l.balance(user, token)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(current, delta)
	if overflow {
		return ErrOverflow
	}
	total, err := l.balance(TotalAccount, token)
	if err != nil {
		return err
	}
	updatedTotal, overflow := new(uint256.Int).AddOverflow(total, delta)
	if overflow {
		return ErrOverflow
	}
	if err := l.setBalance(user, token, updated); err != nil {
		return err
	}
	if err := l.setBalance(TotalAccount, token, updatedTotal); err != nil {
		return err
	}
	if user.Equal(GuildAccount) && current.IsZero() {
		count, err := l.store.GuildBankTokenCount()
		if err != nil {
			return err
		}
		if err := l.store.SetGuildBankTokenCount(count + 1); err != nil {
			return err
		}
	}
	return nil
}

// Sub debits the user's balance and the TOTAL row. Draining the guild bank to
// zero decrements the guild bank token counter.
func (l *Ledger) Sub(user, token crypto.Address, amount *big.Int) error {
	delta, err := toUint256(amount)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}
	current, err := l.balance(user, token)
	if err != nil {
		return err
	}
	if current.Lt(delta) {
		return ErrInsufficientBalance
	}
	updated := new(uint256.Int).Sub(current, delta)
	total, err := l.balance(TotalAccount, token)
	if err != nil {
		return err
	}
	if total.Lt(delta) {
		return fmt.Errorf("%w: total row below user debit", ErrOverflow)
	}
	updatedTotal := new(uint256.Int).Sub(total, delta)
	if err := l.setBalance(user, token, updated); err != nil {
		return err
	}
	if err := l.setBalance(TotalAccount, token, updatedTotal); err != nil {
		return err
	}
	if user.Equal(GuildAccount) && updated.IsZero() {
		count, err := l.store.GuildBankTokenCount()
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: guild bank token counter below zero", ErrOverflow)
		}
		if err := l.store.SetGuildBankTokenCount(count - 1); err != nil {
			return err
		}
	}
	return nil
}

// Move atomically debits from and credits to, leaving the TOTAL row
// unchanged.
func (l *Ledger) Move(from, to, token crypto.Address, amount *big.Int) error {
	if err := l.Sub(from, token, amount); err != nil {
		return err
	}
	return l.Add(to, token, amount)
}

// FairShare computes floor(balance * burn / total) with the numerator
// evaluated before the division. A zero total yields zero.
func FairShare(balance, burn, total *big.Int) (*big.Int, error) {
	if total == nil || total.Sign() == 0 {
		return big.NewInt(0), nil
	}
	bal, err := toUint256(balance)
	if err != nil {
		return nil, err
	}
	share, err := toUint256(burn)
	if err != nil {
		return nil, err
	}
	denom, err := toUint256(total)
	if err != nil {
		return nil, err
	}
	numerator, overflow := new(uint256.Int).MulOverflow(bal, share)
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(numerator, denom).ToBig(), nil
}
