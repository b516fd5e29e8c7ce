package guild

import (
	"fmt"
	"math/big"

	"guildhall/crypto"
)

// Config returns the immutable summoning parameters.
func (e *Engine) Config() (*Params, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.params()
}

// MemberOf returns the member record for the supplied address.
func (e *Engine) MemberOf(addr crypto.Address) (*Member, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.state.Member(addr)
}

// MemberAddressByDelegateKey resolves a delegate key to the owning member
// address.
func (e *Engine) MemberAddressByDelegateKey(delegate crypto.Address) (crypto.Address, bool, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, false, err
	}
	return e.state.MemberByDelegate(delegate)
}

// ApprovedTokens returns the ordered token whitelist.
func (e *Engine) ApprovedTokens() ([]crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.ApprovedTokens()
}

// ApprovedTokenAt returns the whitelisted token at the supplied position.
func (e *Engine) ApprovedTokenAt(index int) (crypto.Address, error) {
	tokens, err := e.ApprovedTokens()
	if err != nil {
		return crypto.Address{}, err
	}
	if index < 0 || index >= len(tokens) {
		return crypto.Address{}, fmt.Errorf("guild: approved token index %d out of range", index)
	}
	return tokens[index], nil
}

// IsTokenWhitelisted reports whether the token is on the approved list.
func (e *Engine) IsTokenWhitelisted(token crypto.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.IsTokenWhitelisted(token)
}

// ProposalByID returns the proposal record for the supplied identifier.
func (e *Engine) ProposalByID(id uint64) (*Proposal, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.state.Proposal(id)
}

// ProposalFlagsByID returns only the lifecycle flags of the proposal.
func (e *Engine) ProposalFlagsByID(id uint64) (ProposalFlags, bool, error) {
	proposal, ok, err := e.ProposalByID(id)
	if err != nil || !ok {
		return ProposalFlags{}, ok, err
	}
	return proposal.Flags, true, nil
}

// ProposalCount returns the number of proposals ever submitted.
func (e *Engine) ProposalCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.ProposalCount()
}

// ProposalQueueLength returns the number of sponsored proposals.
func (e *Engine) ProposalQueueLength() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.QueueLength()
}

// ProposalAtIndex returns the sponsored proposal at the supplied queue
// position.
func (e *Engine) ProposalAtIndex(index uint64) (*Proposal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.proposalAt(index)
}

// UserTokenBalance returns the internal ledger balance for the (user, token)
// pair.
func (e *Engine) UserTokenBalance(user, token crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.Balance(user, token)
}

// TotalShares returns the outstanding voting share supply.
func (e *Engine) TotalShares() (*big.Int, error) {
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	return totals.TotalShares, nil
}

// TotalLoot returns the outstanding non-voting loot supply.
func (e *Engine) TotalLoot() (*big.Int, error) {
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	return totals.TotalLoot, nil
}

// TotalGuildBankTokens returns the number of whitelisted tokens with a
// non-zero guild bank balance.
func (e *Engine) TotalGuildBankTokens() (uint64, error) {
	totals, err := e.totals()
	if err != nil {
		return 0, err
	}
	return totals.GuildBankTokens, nil
}

func (e *Engine) totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.Totals()
}
