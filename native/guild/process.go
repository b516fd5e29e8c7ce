package guild

import (
	"fmt"
	"math/big"

	"guildhall/crypto"
)

// ProcessProposal processes the standard proposal at the head of the ready
// region of the queue, applying membership and payment effects when it
// passes. Anyone may process; the caller earns the processing reward.
func (e *Engine) ProcessProposal(caller crypto.Address, proposalIndex uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	proposal, err := e.beginProcessing(proposalIndex)
	if err != nil {
		return false, err
	}
	if !proposal.Flags.Standard() {
		return false, fmt.Errorf("%w: expected standard proposal", ErrWrongProposalKind)
	}
	proposal.Flags.Processed = true

	totals, err := e.state.Totals()
	if err != nil {
		return false, err
	}
	params, err := e.params()
	if err != nil {
		return false, err
	}

	didPass := proposal.YesVotes.Cmp(proposal.NoVotes) > 0
	if didPass {
		passes, err := e.withinDilutionBound(proposal, totals, params)
		if err != nil {
			return false, err
		}
		didPass = passes
	}
	// Auto-fail conditions: the world may have shifted between the yes vote
	// and processing.
	if didPass && !proposal.Applicant.IsZero() {
		if member, ok, err := e.state.Member(proposal.Applicant); err != nil {
			return false, err
		} else if ok && member.Jailed != 0 {
			didPass = false
		}
	}
	if didPass {
		supply := totals.SharesAndLoot()
		supply.Add(supply, proposal.SharesRequested)
		supply.Add(supply, proposal.LootRequested)
		if supply.Cmp(MaxNumberOfSharesAndLoot) > 0 {
			didPass = false
		}
	}
	if didPass && proposal.PaymentRequested.Sign() > 0 {
		guildBalance, err := e.state.Balance(GuildAccount, proposal.PaymentToken)
		if err != nil {
			return false, err
		}
		if guildBalance.Cmp(proposal.PaymentRequested) < 0 {
			didPass = false
		}
	}
	if didPass {
		// Whitelist revocation is impossible today, checked anyway.
		for _, token := range []crypto.Address{proposal.TributeToken, proposal.PaymentToken} {
			if ok, err := e.state.IsTokenWhitelisted(token); err != nil {
				return false, err
			} else if !ok {
				didPass = false
				break
			}
		}
	}

	if didPass {
		if err := e.admitApplicant(proposal, totals); err != nil {
			return false, err
		}
		if err := e.ledger.Move(EscrowAccount, GuildAccount, proposal.TributeToken, proposal.TributeOffered); err != nil {
			return false, err
		}
		if err := e.ledger.Move(GuildAccount, proposal.Applicant, proposal.PaymentToken, proposal.PaymentRequested); err != nil {
			return false, err
		}
	} else {
		// Return the escrowed tribute to the proposer.
		if err := e.ledger.Move(EscrowAccount, proposal.Proposer, proposal.TributeToken, proposal.TributeOffered); err != nil {
			return false, err
		}
	}

	proposal.Flags.DidPass = didPass
	if err := e.state.PutProposal(proposal); err != nil {
		return false, err
	}
	if err := e.settleDeposit(caller, proposal, params); err != nil {
		return false, err
	}
	e.emit(newProcessProposalEvent(EventTypeProcessProposal, proposal, proposalIndex, didPass))
	return didPass, nil
}

// ProcessWhitelistProposal processes a token-whitelist proposal at the head
// of the ready region.
func (e *Engine) ProcessWhitelistProposal(caller crypto.Address, proposalIndex uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	proposal, err := e.beginProcessing(proposalIndex)
	if err != nil {
		return false, err
	}
	if !proposal.Flags.Whitelist {
		return false, fmt.Errorf("%w: expected whitelist proposal", ErrWrongProposalKind)
	}
	proposal.Flags.Processed = true

	totals, err := e.state.Totals()
	if err != nil {
		return false, err
	}
	params, err := e.params()
	if err != nil {
		return false, err
	}

	didPass := proposal.YesVotes.Cmp(proposal.NoVotes) > 0
	if didPass {
		passes, err := e.withinDilutionBound(proposal, totals, params)
		if err != nil {
			return false, err
		}
		didPass = passes
	}
	if didPass {
		tokens, err := e.state.ApprovedTokens()
		if err != nil {
			return false, err
		}
		if len(tokens) >= MaxTokenWhitelistCount {
			didPass = false
		}
	}

	target := proposal.TributeToken
	if didPass {
		if err := e.state.WhitelistToken(target); err != nil {
			return false, err
		}
	}
	// The reservation clears regardless of the outcome so the token can be
	// proposed again.
	if err := e.state.SetProposedToWhitelist(target, false); err != nil {
		return false, err
	}

	proposal.Flags.DidPass = didPass
	if err := e.state.PutProposal(proposal); err != nil {
		return false, err
	}
	if err := e.settleDeposit(caller, proposal, params); err != nil {
		return false, err
	}
	e.emit(newProcessProposalEvent(EventTypeProcessWhitelistProposal, proposal, proposalIndex, didPass))
	return didPass, nil
}

// ProcessGuildKickProposal processes a guild-kick proposal at the head of the
// ready region. On pass the target's shares convert entirely into loot and
// the target is jailed under this proposal's queue index.
func (e *Engine) ProcessGuildKickProposal(caller crypto.Address, proposalIndex uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	proposal, err := e.beginProcessing(proposalIndex)
	if err != nil {
		return false, err
	}
	if !proposal.Flags.GuildKick {
		return false, fmt.Errorf("%w: expected guild kick proposal", ErrWrongProposalKind)
	}
	proposal.Flags.Processed = true

	totals, err := e.state.Totals()
	if err != nil {
		return false, err
	}
	params, err := e.params()
	if err != nil {
		return false, err
	}

	didPass := proposal.YesVotes.Cmp(proposal.NoVotes) > 0
	if didPass {
		passes, err := e.withinDilutionBound(proposal, totals, params)
		if err != nil {
			return false, err
		}
		didPass = passes
	}

	if didPass {
		target, err := e.member(proposal.Applicant)
		if err != nil {
			return false, err
		}
		target.Jailed = proposalIndex
		target.Loot = new(big.Int).Add(target.Loot, target.Shares)
		totals.TotalShares = new(big.Int).Sub(totals.TotalShares, target.Shares)
		totals.TotalLoot = new(big.Int).Add(totals.TotalLoot, target.Shares)
		target.Shares = big.NewInt(0)
		if err := e.state.PutMember(target); err != nil {
			return false, err
		}
		if err := e.state.PutTotals(totals); err != nil {
			return false, err
		}
	}
	if err := e.state.SetProposedToKick(proposal.Applicant, false); err != nil {
		return false, err
	}

	proposal.Flags.DidPass = didPass
	if err := e.state.PutProposal(proposal); err != nil {
		return false, err
	}
	if err := e.settleDeposit(caller, proposal, params); err != nil {
		return false, err
	}
	e.emit(newProcessProposalEvent(EventTypeProcessGuildKickProposal, proposal, proposalIndex, didPass))
	return didPass, nil
}

// beginProcessing validates the shared readiness preconditions: the proposal
// exists in the queue, its grace period has elapsed, it has not been
// processed, and its predecessor has been.
func (e *Engine) beginProcessing(proposalIndex uint64) (*Proposal, error) {
	proposal, err := e.proposalAt(proposalIndex)
	if err != nil {
		return nil, err
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	current, err := e.CurrentPeriod()
	if err != nil {
		return nil, err
	}
	if current < proposal.StartingPeriod+params.VotingPeriodLength+params.GracePeriodLength {
		return nil, ErrNotReady
	}
	if proposal.Flags.Processed {
		return nil, ErrAlreadyProcessed
	}
	if proposalIndex > 0 {
		previous, err := e.proposalAt(proposalIndex - 1)
		if err != nil {
			return nil, err
		}
		if !previous.Flags.Processed {
			return nil, fmt.Errorf("%w: previous proposal unprocessed", ErrNotReady)
		}
	}
	return proposal, nil
}

// withinDilutionBound applies the dilution guard: a proposal force-fails when
// the share and loot supply collapsed by more than the configured multiplier
// since the largest supply observed at a yes vote.
func (e *Engine) withinDilutionBound(proposal *Proposal, totals *Totals, params *Params) (bool, error) {
	bound := new(big.Int).SetUint64(params.DilutionBound)
	bound.Mul(bound, totals.SharesAndLoot())
	return proposal.MaxTotalSharesAndLootAtYesVote.Cmp(bound) <= 0, nil
}

// admitApplicant applies the membership effects of a passing standard
// proposal.
func (e *Engine) admitApplicant(proposal *Proposal, totals *Totals) error {
	applicant := proposal.Applicant
	member, exists, err := e.state.Member(applicant)
	if err != nil {
		return err
	}
	if exists && member.Exists {
		member.Shares = new(big.Int).Add(member.Shares, proposal.SharesRequested)
		member.Loot = new(big.Int).Add(member.Loot, proposal.LootRequested)
		if err := e.state.PutMember(member); err != nil {
			return err
		}
	} else {
		// If the applicant address is currently another member's delegate
		// key, reset that member's delegate to their own address first so the
		// delegate-key index stays injective.
		if ownerAddr, ok, err := e.state.MemberByDelegate(applicant); err != nil {
			return err
		} else if ok && !ownerAddr.Equal(applicant) {
			owner, err := e.member(ownerAddr)
			if err != nil {
				return err
			}
			if err := e.state.RemoveDelegate(applicant); err != nil {
				return err
			}
			owner.DelegateKey = owner.Address
			if err := e.state.SetDelegate(owner.Address, owner.Address); err != nil {
				return err
			}
			if err := e.state.PutMember(owner); err != nil {
				return err
			}
		}
		admitted := NewMember(applicant, proposal.SharesRequested, proposal.LootRequested)
		if err := e.state.PutMember(admitted); err != nil {
			return err
		}
		if err := e.state.SetDelegate(applicant, applicant); err != nil {
			return err
		}
	}
	totals.TotalShares = new(big.Int).Add(totals.TotalShares, proposal.SharesRequested)
	totals.TotalLoot = new(big.Int).Add(totals.TotalLoot, proposal.LootRequested)
	return e.state.PutTotals(totals)
}

// settleDeposit pays the processing reward to the processor and returns the
// remainder of the sponsor's deposit, both from escrow. Escrow is always
// sufficient by construction.
func (e *Engine) settleDeposit(processor crypto.Address, proposal *Proposal, params *Params) error {
	depositToken, err := e.DepositToken()
	if err != nil {
		return err
	}
	if err := e.ledger.Move(EscrowAccount, processor, depositToken, params.ProcessingReward); err != nil {
		return err
	}
	refund := new(big.Int).Sub(params.ProposalDeposit, params.ProcessingReward)
	return e.ledger.Move(EscrowAccount, proposal.Sponsor, depositToken, refund)
}
