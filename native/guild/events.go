package guild

import (
	"math/big"
	"strconv"

	"guildhall/core/types"
	"guildhall/crypto"
)

const (
	// EventTypeSummonComplete is emitted once when the guild is created.
	EventTypeSummonComplete = "guild.summoned"
	// EventTypeSubmitProposal is emitted when a proposal enters the store.
	EventTypeSubmitProposal = "guild.proposal.submitted"
	// EventTypeSponsorProposal is emitted when a proposal joins the queue.
	EventTypeSponsorProposal = "guild.proposal.sponsored"
	// EventTypeSubmitVote is emitted when a ballot is recorded.
	EventTypeSubmitVote = "guild.vote"
	// EventTypeProcessProposal marks processed standard proposals.
	EventTypeProcessProposal = "guild.proposal.processed"
	// EventTypeProcessWhitelistProposal marks processed whitelist proposals.
	EventTypeProcessWhitelistProposal = "guild.proposal.whitelist.processed"
	// EventTypeProcessGuildKickProposal marks processed guild-kick proposals.
	EventTypeProcessGuildKickProposal = "guild.proposal.guildkick.processed"
	// EventTypeRagequit is emitted when a member burns shares or loot.
	EventTypeRagequit = "guild.ragequit"
	// EventTypeTokensCollected is emitted when stray external balances are
	// folded into the guild bank.
	EventTypeTokensCollected = "guild.tokens.collected"
	// EventTypeCancelProposal marks cancelled proposals.
	EventTypeCancelProposal = "guild.proposal.cancelled"
	// EventTypeUpdateDelegateKey is emitted when a member rebinds their
	// delegate key.
	EventTypeUpdateDelegateKey = "guild.delegate.updated"
	// EventTypeWithdraw is emitted when internal balances leave the guild.
	EventTypeWithdraw = "guild.withdraw"
)

type guildEvent struct {
	evt *types.Event
}

func (g guildEvent) EventType() string {
	if g.evt == nil {
		return ""
	}
	return g.evt.Type
}

func (g guildEvent) Event() *types.Event { return g.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(guildEvent{evt: event})
}

func amountAttr(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func newSummonCompleteEvent(summoner crypto.Address, params *Params) *types.Event {
	attrs := map[string]string{
		"summoner":           summoner.String(),
		"summoningTime":      strconv.FormatUint(params.SummoningTime, 10),
		"periodDuration":     strconv.FormatUint(params.PeriodDuration, 10),
		"votingPeriodLength": strconv.FormatUint(params.VotingPeriodLength, 10),
		"gracePeriodLength":  strconv.FormatUint(params.GracePeriodLength, 10),
		"proposalDeposit":    amountAttr(params.ProposalDeposit),
		"dilutionBound":      strconv.FormatUint(params.DilutionBound, 10),
		"processingReward":   amountAttr(params.ProcessingReward),
	}
	return &types.Event{Type: EventTypeSummonComplete, Attributes: attrs}
}

func newSubmitProposalEvent(p *Proposal, delegateKey crypto.Address) *types.Event {
	attrs := map[string]string{
		"id":          strconv.FormatUint(p.ID, 10),
		"proposer":    p.Proposer.String(),
		"delegateKey": delegateKey.String(),
		"details":     p.Details,
	}
	if !p.Applicant.IsZero() {
		attrs["applicant"] = p.Applicant.String()
	}
	if p.SharesRequested.Sign() > 0 {
		attrs["sharesRequested"] = amountAttr(p.SharesRequested)
	}
	if p.LootRequested.Sign() > 0 {
		attrs["lootRequested"] = amountAttr(p.LootRequested)
	}
	if p.TributeOffered.Sign() > 0 {
		attrs["tributeOffered"] = amountAttr(p.TributeOffered)
	}
	if !p.TributeToken.IsZero() {
		attrs["tributeToken"] = p.TributeToken.String()
	}
	if p.PaymentRequested.Sign() > 0 {
		attrs["paymentRequested"] = amountAttr(p.PaymentRequested)
	}
	if !p.PaymentToken.IsZero() {
		attrs["paymentToken"] = p.PaymentToken.String()
	}
	switch {
	case p.Flags.Whitelist:
		attrs["kind"] = "whitelist"
	case p.Flags.GuildKick:
		attrs["kind"] = "guildkick"
	default:
		attrs["kind"] = "standard"
	}
	return &types.Event{Type: EventTypeSubmitProposal, Attributes: attrs}
}

func newSponsorProposalEvent(delegateKey, sponsor crypto.Address, p *Proposal, index uint64) *types.Event {
	attrs := map[string]string{
		"id":             strconv.FormatUint(p.ID, 10),
		"index":          strconv.FormatUint(index, 10),
		"delegateKey":    delegateKey.String(),
		"sponsor":        sponsor.String(),
		"startingPeriod": strconv.FormatUint(p.StartingPeriod, 10),
	}
	return &types.Event{Type: EventTypeSponsorProposal, Attributes: attrs}
}

func newSubmitVoteEvent(delegateKey, member crypto.Address, p *Proposal, index uint64, vote Vote) *types.Event {
	attrs := map[string]string{
		"id":          strconv.FormatUint(p.ID, 10),
		"index":       strconv.FormatUint(index, 10),
		"delegateKey": delegateKey.String(),
		"member":      member.String(),
		"vote":        vote.String(),
	}
	return &types.Event{Type: EventTypeSubmitVote, Attributes: attrs}
}

func newProcessProposalEvent(eventType string, p *Proposal, index uint64, didPass bool) *types.Event {
	attrs := map[string]string{
		"id":      strconv.FormatUint(p.ID, 10),
		"index":   strconv.FormatUint(index, 10),
		"didPass": strconv.FormatBool(didPass),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newRagequitEvent(member crypto.Address, sharesToBurn, lootToBurn *big.Int) *types.Event {
	attrs := map[string]string{
		"member":       member.String(),
		"sharesToBurn": amountAttr(sharesToBurn),
		"lootToBurn":   amountAttr(lootToBurn),
	}
	return &types.Event{Type: EventTypeRagequit, Attributes: attrs}
}

func newTokensCollectedEvent(token crypto.Address, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"token":  token.String(),
		"amount": amountAttr(amount),
	}
	return &types.Event{Type: EventTypeTokensCollected, Attributes: attrs}
}

func newCancelProposalEvent(p *Proposal) *types.Event {
	attrs := map[string]string{
		"id":       strconv.FormatUint(p.ID, 10),
		"proposer": p.Proposer.String(),
	}
	if !p.Applicant.IsZero() {
		attrs["applicant"] = p.Applicant.String()
	}
	return &types.Event{Type: EventTypeCancelProposal, Attributes: attrs}
}

func newUpdateDelegateKeyEvent(member, newDelegateKey crypto.Address) *types.Event {
	attrs := map[string]string{
		"member":         member.String(),
		"newDelegateKey": newDelegateKey.String(),
	}
	return &types.Event{Type: EventTypeUpdateDelegateKey, Attributes: attrs}
}

func newWithdrawEvent(member, token crypto.Address, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"member": member.String(),
		"token":  token.String(),
		"amount": amountAttr(amount),
	}
	return &types.Event{Type: EventTypeWithdraw, Attributes: attrs}
}
