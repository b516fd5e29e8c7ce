package guild

import (
	"fmt"
	"math/big"

	"guildhall/crypto"
)

// CancelProposal aborts an unsponsored proposal and returns the escrowed
// tribute to the proposer. Only the proposer may cancel.
func (e *Engine) CancelProposal(caller crypto.Address, proposalID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	proposal, ok, err := e.state.Proposal(proposalID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchProposal, proposalID)
	}
	if proposal.Flags.Sponsored {
		return ErrAlreadySponsored
	}
	if proposal.Flags.Cancelled {
		return ErrAlreadyCancelled
	}
	if !caller.Equal(proposal.Proposer) {
		return ErrNotProposer
	}

	proposal.Flags.Cancelled = true
	tribute := proposal.TributeOffered
	proposal.TributeOffered = big.NewInt(0)
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}
	if err := e.ledger.Move(EscrowAccount, proposal.Proposer, proposal.TributeToken, tribute); err != nil {
		return err
	}
	e.emit(newCancelProposalEvent(proposal))
	return nil
}

// CanRagequit reports whether the proposal at the supplied queue index has
// been processed, which gates exits of members whose highest-index yes vote
// points at it.
func (e *Engine) CanRagequit(highestIndexYesVote uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	proposal, err := e.proposalAt(highestIndexYesVote)
	if err != nil {
		return false, err
	}
	return proposal.Flags.Processed, nil
}

// canExit enforces the ragequit precondition: every proposal the member voted
// yes on must already be processed. Members who never voted yes may always
// exit.
func (e *Engine) canExit(member *Member) error {
	length, err := e.state.QueueLength()
	if err != nil {
		return err
	}
	if length == 0 || member.HighestIndexYesVote >= length {
		return nil
	}
	proposal, err := e.proposalAt(member.HighestIndexYesVote)
	if err != nil {
		return err
	}
	vote, ok, err := e.state.VoteOf(proposal.ID, member.Address)
	if err != nil {
		return err
	}
	if !ok || vote != VoteYes {
		// No recorded yes vote at the tracked index means the member never
		// voted yes on anything.
		return nil
	}
	if !proposal.Flags.Processed {
		return ErrHighestYesVoteUnprocessed
	}
	return nil
}

// Ragequit burns the caller's shares and loot for a proportional slice of
// every whitelisted token in the guild bank.
func (e *Engine) Ragequit(caller crypto.Address, sharesToBurn, lootToBurn *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	member, err := e.member(caller)
	if err != nil {
		return err
	}
	return e.exit(member, orZero(sharesToBurn), orZero(lootToBurn))
}

// Ragekick redeems a jailed member's remaining loot on their behalf. Anyone
// may call it once the member's shares have been converted by a passed
// guild-kick proposal.
func (e *Engine) Ragekick(caller, memberToKick crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	member, err := e.member(memberToKick)
	if err != nil {
		return err
	}
	if member.Jailed == 0 {
		return ErrNotJailed
	}
	if member.Loot.Sign() == 0 {
		return fmt.Errorf("%w: member has no loot", ErrInsufficientShares)
	}
	if member.Shares.Sign() != 0 {
		return fmt.Errorf("%w: member still holds shares", ErrInsufficientShares)
	}
	return e.exit(member, big.NewInt(0), new(big.Int).Set(member.Loot))
}

func (e *Engine) exit(member *Member, sharesToBurn, lootToBurn *big.Int) error {
	if member.Shares.Cmp(sharesToBurn) < 0 {
		return fmt.Errorf("%w: shares", ErrInsufficientShares)
	}
	if member.Loot.Cmp(lootToBurn) < 0 {
		return fmt.Errorf("%w: loot", ErrInsufficientShares)
	}
	if err := e.canExit(member); err != nil {
		return err
	}

	totals, err := e.state.Totals()
	if err != nil {
		return err
	}
	supply := totals.SharesAndLoot()
	totalToBurn := new(big.Int).Add(sharesToBurn, lootToBurn)

	// Pay out the fair share of every whitelisted token before touching the
	// supply counters: the dividend denominator is the pre-burn supply.
	tokens, err := e.state.ApprovedTokens()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		guildBalance, err := e.state.Balance(GuildAccount, token)
		if err != nil {
			return err
		}
		owed, err := FairShare(guildBalance, totalToBurn, supply)
		if err != nil {
			return err
		}
		if owed.Sign() == 0 {
			continue
		}
		if err := e.ledger.Move(GuildAccount, member.Address, token, owed); err != nil {
			return err
		}
	}

	member.Shares = new(big.Int).Sub(member.Shares, sharesToBurn)
	member.Loot = new(big.Int).Sub(member.Loot, lootToBurn)
	totals.TotalShares = new(big.Int).Sub(totals.TotalShares, sharesToBurn)
	totals.TotalLoot = new(big.Int).Sub(totals.TotalLoot, lootToBurn)
	if err := e.state.PutMember(member); err != nil {
		return err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}
	e.emit(newRagequitEvent(member.Address, sharesToBurn, lootToBurn))
	return nil
}

// UpdateDelegateKey points the caller's delegate key at a new address. The
// caller must be a member holding shares; the new key must not collide with
// another member's address or delegate key.
func (e *Engine) UpdateDelegateKey(caller, newDelegateKey crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	member, err := e.member(caller)
	if err != nil {
		return err
	}
	if member.Shares.Sign() == 0 {
		return fmt.Errorf("%w: shares required", ErrInsufficientShares)
	}
	if newDelegateKey.IsZero() {
		return fmt.Errorf("%w: delegate key", ErrZeroAddress)
	}
	if !newDelegateKey.Equal(caller) {
		if other, ok, err := e.state.Member(newDelegateKey); err != nil {
			return err
		} else if ok && other.Exists {
			return fmt.Errorf("%w: key is a member address", ErrDelegateKeyTaken)
		}
		if ownerAddr, ok, err := e.state.MemberByDelegate(newDelegateKey); err != nil {
			return err
		} else if ok && !ownerAddr.Equal(caller) {
			return ErrDelegateKeyTaken
		}
	}

	if err := e.state.RemoveDelegate(member.DelegateKey); err != nil {
		return err
	}
	if err := e.state.SetDelegate(newDelegateKey, member.Address); err != nil {
		return err
	}
	member.DelegateKey = newDelegateKey
	if err := e.state.PutMember(member); err != nil {
		return err
	}
	e.emit(newUpdateDelegateKeyEvent(member.Address, newDelegateKey))
	return nil
}

// WithdrawBalance moves part of the caller's internal balance out to the
// external token contract.
func (e *Engine) WithdrawBalance(caller, token crypto.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.withdraw(caller, token, orZero(amount))
}

// WithdrawBalances withdraws several tokens at once. When max is set the
// amounts are ignored per token and the full balance is swept instead.
func (e *Engine) WithdrawBalances(caller crypto.Address, tokens []crypto.Address, amounts []*big.Int, max bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if len(tokens) != len(amounts) {
		return fmt.Errorf("guild: tokens and amounts must match in length")
	}
	for i, token := range tokens {
		amount := orZero(amounts[i])
		if max {
			balance, err := e.state.Balance(caller, token)
			if err != nil {
				return err
			}
			amount = balance
		}
		if err := e.withdraw(caller, token, amount); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) withdraw(caller, token crypto.Address, amount *big.Int) error {
	balance, err := e.state.Balance(caller, token)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := e.ledger.Sub(caller, token, amount); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		if err := e.tokens.Transfer(token, caller, amount); err != nil {
			return fmt.Errorf("%w: withdraw: %v", ErrTransferFailed, err)
		}
	}
	e.emit(newWithdrawEvent(caller, token, amount))
	return nil
}

// CollectTokens reconciles an external transfer that landed directly on the
// guild account without going through submit or sponsor: the surplus over the
// internal TOTAL row is credited to the guild bank.
func (e *Engine) CollectTokens(caller, token crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.memberByDelegate(caller); err != nil {
		return err
	}
	external, err := e.tokens.BalanceOf(token, e.self)
	if err != nil {
		return fmt.Errorf("%w: balance query: %v", ErrTransferFailed, err)
	}
	tracked, err := e.state.Balance(TotalAccount, token)
	if err != nil {
		return err
	}
	surplus := new(big.Int).Sub(external, tracked)
	if surplus.Sign() <= 0 {
		return ErrNothingToCollect
	}
	if ok, err := e.state.IsTokenWhitelisted(token); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, token)
	}
	guildBalance, err := e.state.Balance(GuildAccount, token)
	if err != nil {
		return err
	}
	if guildBalance.Sign() == 0 {
		return fmt.Errorf("%w: token has no guild bank balance", ErrNothingToCollect)
	}
	if err := e.ledger.Add(GuildAccount, token, surplus); err != nil {
		return err
	}
	e.emit(newTokensCollectedEvent(token, surplus))
	return nil
}
