package token

import (
	"errors"
	"fmt"
	"math/big"

	"guildhall/crypto"
)

// Precondition violations surfaced by the token engine.
var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrAlreadyRegistered     = errors.New("token: already registered")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMintAuthority      = errors.New("token: caller is not the mint authority")
	ErrMintPaused            = errors.New("token: minting is paused")
)

// Metadata describes a registered fungible token.
type Metadata struct {
	Address       crypto.Address
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority crypto.Address
	MintPaused    bool
}

// State is the persistence surface for token balances, allowances and
// metadata. Balances and allowances default to zero.
type State interface {
	Token(addr crypto.Address) (*Metadata, bool, error)
	PutToken(meta *Metadata) error
	TokenBalance(token, holder crypto.Address) (*big.Int, error)
	SetTokenBalance(token, holder crypto.Address, amount *big.Int) error
	TokenAllowance(token, owner, spender crypto.Address) (*big.Int, error)
	SetTokenAllowance(token, owner, spender crypto.Address, amount *big.Int) error
}

// Engine implements an ERC-20-style fungible token registry over the shared
// state. It stands in for the external token contracts the guild core
// consumes.
type Engine struct {
	state State
}

// NewEngine constructs a token engine over the supplied state backend.
func NewEngine(state State) *Engine {
	return &Engine{state: state}
}

func (e *Engine) metadata(token crypto.Address) (*Metadata, error) {
	meta, ok, err := e.state.Token(token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return meta, nil
}

// Register records metadata for a new token address.
func (e *Engine) Register(meta Metadata) error {
	if meta.Address.IsZero() {
		return fmt.Errorf("token: address must not be zero")
	}
	if _, ok, err := e.state.Token(meta.Address); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, meta.Address)
	}
	return e.state.PutToken(&meta)
}

// Mint credits freshly created tokens to the recipient. Only the registered
// mint authority may mint.
func (e *Engine) Mint(caller, token, to crypto.Address, amount *big.Int) error {
	meta, err := e.metadata(token)
	if err != nil {
		return err
	}
	if meta.MintPaused {
		return ErrMintPaused
	}
	if !caller.Equal(meta.MintAuthority) {
		return ErrNotMintAuthority
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token: mint amount must be positive")
	}
	balance, err := e.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	return e.state.SetTokenBalance(token, to, new(big.Int).Add(balance, amount))
}

// BalanceOf returns the holder's balance of the token.
func (e *Engine) BalanceOf(token, holder crypto.Address) (*big.Int, error) {
	if _, err := e.metadata(token); err != nil {
		return nil, err
	}
	return e.state.TokenBalance(token, holder)
}

// Allowance returns the amount the spender may draw from the owner.
func (e *Engine) Allowance(token, owner, spender crypto.Address) (*big.Int, error) {
	if _, err := e.metadata(token); err != nil {
		return nil, err
	}
	return e.state.TokenAllowance(token, owner, spender)
}

// Approve sets the spender's allowance over the caller's balance.
func (e *Engine) Approve(token, owner, spender crypto.Address, amount *big.Int) error {
	if _, err := e.metadata(token); err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("token: allowance must not be negative")
	}
	return e.state.SetTokenAllowance(token, owner, spender, amount)
}

// Transfer moves tokens from the sender to the recipient.
func (e *Engine) Transfer(token, from, to crypto.Address, amount *big.Int) error {
	if _, err := e.metadata(token); err != nil {
		return err
	}
	return e.move(token, from, to, amount)
}

// TransferFrom moves tokens from the owner to the recipient on behalf of the
// spender, consuming allowance.
func (e *Engine) TransferFrom(token, spender, owner, recipient crypto.Address, amount *big.Int) error {
	if _, err := e.metadata(token); err != nil {
		return err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() == 0 {
		return nil
	}
	allowance, err := e.state.TokenAllowance(token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := e.move(token, owner, recipient, amount); err != nil {
		return err
	}
	return e.state.SetTokenAllowance(token, owner, spender, new(big.Int).Sub(allowance, amount))
}

func (e *Engine) move(token, from, to crypto.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("token: amount must not be negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := e.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := e.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := e.state.SetTokenBalance(token, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return e.state.SetTokenBalance(token, to, new(big.Int).Add(toBalance, amount))
}

// GuildCaller adapts the token engine to the narrow transfer surface the
// guild engine consumes, acting with the guild account as spender.
type GuildCaller struct {
	engine *Engine
	guild  crypto.Address
}

// NewGuildCaller binds the token engine to the guild's own account.
func NewGuildCaller(engine *Engine, guild crypto.Address) *GuildCaller {
	return &GuildCaller{engine: engine, guild: guild}
}

// TransferFrom pulls tokens from the owner into the recipient using the
// guild's allowance.
func (c *GuildCaller) TransferFrom(token, owner, recipient crypto.Address, amount *big.Int) error {
	return c.engine.TransferFrom(token, c.guild, owner, recipient, amount)
}

// Transfer pushes tokens out of the guild account.
func (c *GuildCaller) Transfer(token, recipient crypto.Address, amount *big.Int) error {
	return c.engine.Transfer(token, c.guild, recipient, amount)
}

// BalanceOf reports the holder's external balance.
func (c *GuildCaller) BalanceOf(token, holder crypto.Address) (*big.Int, error) {
	return c.engine.BalanceOf(token, holder)
}
