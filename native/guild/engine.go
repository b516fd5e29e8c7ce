package guild

import (
	"fmt"
	"math/big"
	"time"

	"guildhall/core/events"
	"guildhall/crypto"
)

// guildState is the persistence surface the engine mutates. Implementations
// must apply every write immediately; atomicity of a top-level operation is
// provided by the surrounding commit/rollback of the backing trie.
type guildState interface {
	GuildParams() (*Params, bool, error)
	PutGuildParams(p *Params) error

	Member(addr crypto.Address) (*Member, bool, error)
	PutMember(m *Member) error
	MemberByDelegate(delegate crypto.Address) (crypto.Address, bool, error)
	SetDelegate(delegate, member crypto.Address) error
	RemoveDelegate(delegate crypto.Address) error

	Proposal(id uint64) (*Proposal, bool, error)
	PutProposal(p *Proposal) error
	ProposalCount() (uint64, error)
	NextProposalID() (uint64, error)

	QueueAppend(id uint64) (uint64, error)
	QueueLength() (uint64, error)
	QueueProposalID(index uint64) (uint64, bool, error)

	VoteOf(id uint64, member crypto.Address) (Vote, bool, error)
	PutVoteRecord(id uint64, member crypto.Address, vote Vote) error

	ApprovedTokens() ([]crypto.Address, error)
	IsTokenWhitelisted(token crypto.Address) (bool, error)
	WhitelistToken(token crypto.Address) error
	ProposedToWhitelist(token crypto.Address) (bool, error)
	SetProposedToWhitelist(token crypto.Address, reserved bool) error
	ProposedToKick(addr crypto.Address) (bool, error)
	SetProposedToKick(addr crypto.Address, reserved bool) error

	Totals() (*Totals, error)
	PutTotals(t *Totals) error

	BalanceStore
}

// TokenCaller is the narrow surface consumed on the external fungible-token
// contracts. Failures are surfaced to the caller wrapped in ErrTransferFailed
// and abort the surrounding operation.
type TokenCaller interface {
	TransferFrom(token, owner, recipient crypto.Address, amount *big.Int) error
	Transfer(token, recipient crypto.Address, amount *big.Int) error
	BalanceOf(token, holder crypto.Address) (*big.Int, error)
}

// Engine implements the guild governance state machine: the proposal
// lifecycle, the internal accounting ledger, share and loot economics, and the
// token whitelist admission policy.
type Engine struct {
	state   guildState
	ledger  *Ledger
	tokens  TokenCaller
	emitter events.Emitter
	nowFn   func() time.Time
	// self is the account that holds escrowed external token balances on
	// behalf of the guild.
	self crypto.Address
}

// NewEngine constructs a guild engine with default no-op dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the state backend providing persistence
// helpers. The internal ledger is rebound to the same backend.
func (e *Engine) SetState(state guildState) {
	e.state = state
	if state != nil {
		e.ledger = NewLedger(state)
	} else {
		e.ledger = nil
	}
}

// SetTokenCaller configures the external token surface.
func (e *Engine) SetTokenCaller(tokens TokenCaller) { e.tokens = tokens }

// SetSelfAddress configures the account external tokens are pulled into.
func (e *Engine) SetSelfAddress(addr crypto.Address) { e.self = addr }

// SelfAddress returns the account holding escrowed external token balances.
func (e *Engine) SelfAddress() crypto.Address { return e.self }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used to derive the current period. Nil
// restores the default UTC clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	return nil
}

func (e *Engine) params() (*Params, error) {
	params, ok, err := e.state.GuildParams()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("guild: not summoned")
	}
	return params, nil
}

// ValidateGenesis bounds-checks the summoning parameters.
func ValidateGenesis(g Genesis) error {
	if g.Summoner.IsZero() {
		return fmt.Errorf("%w: summoner", ErrZeroAddress)
	}
	if IsReservedAccount(g.Summoner) {
		return fmt.Errorf("%w: summoner", ErrApplicantReserved)
	}
	if g.PeriodDuration == 0 {
		return fmt.Errorf("guild: period duration cannot be 0")
	}
	if g.VotingPeriodLength == 0 {
		return fmt.Errorf("guild: voting period length cannot be 0")
	}
	if g.VotingPeriodLength > MaxVotingPeriodLength {
		return fmt.Errorf("guild: voting period length exceeds limit")
	}
	if g.GracePeriodLength > MaxGracePeriodLength {
		return fmt.Errorf("guild: grace period length exceeds limit")
	}
	if g.DilutionBound == 0 {
		return fmt.Errorf("guild: dilution bound cannot be 0")
	}
	if g.DilutionBound > MaxDilutionBound {
		return fmt.Errorf("guild: dilution bound exceeds limit")
	}
	deposit := g.ProposalDeposit
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	reward := g.ProcessingReward
	if reward == nil {
		reward = big.NewInt(0)
	}
	if deposit.Sign() < 0 || reward.Sign() < 0 {
		return fmt.Errorf("guild: deposit and reward must not be negative")
	}
	if deposit.Cmp(reward) < 0 {
		return ErrDepositLessThanReward
	}
	if len(g.ApprovedTokens) == 0 {
		return fmt.Errorf("guild: need at least one approved token")
	}
	if len(g.ApprovedTokens) > MaxTokenWhitelistCount {
		return fmt.Errorf("%w: too many initial tokens", ErrWhitelistFull)
	}
	seen := make(map[[crypto.AddressLength]byte]struct{}, len(g.ApprovedTokens))
	for _, token := range g.ApprovedTokens {
		if token.IsZero() {
			return fmt.Errorf("%w: approved token", ErrZeroAddress)
		}
		if IsReservedAccount(token) {
			return fmt.Errorf("%w: approved token", ErrApplicantReserved)
		}
		if _, dup := seen[token.Raw()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateToken, token)
		}
		seen[token.Raw()] = struct{}{}
	}
	return nil
}

// Summon creates the guild state: validates the configuration, whitelists the
// initial tokens, and registers the summoner as the first member with one
// share. Summoning an already-summoned state is rejected.
func (e *Engine) Summon(g Genesis) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := ValidateGenesis(g); err != nil {
		return err
	}
	if _, ok, err := e.state.GuildParams(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("guild: already summoned")
	}

	for _, token := range g.ApprovedTokens {
		if err := e.state.WhitelistToken(token); err != nil {
			return err
		}
	}

	deposit := big.NewInt(0)
	if g.ProposalDeposit != nil {
		deposit = new(big.Int).Set(g.ProposalDeposit)
	}
	reward := big.NewInt(0)
	if g.ProcessingReward != nil {
		reward = new(big.Int).Set(g.ProcessingReward)
	}
	params := &Params{
		PeriodDuration:     g.PeriodDuration,
		VotingPeriodLength: g.VotingPeriodLength,
		GracePeriodLength:  g.GracePeriodLength,
		ProposalDeposit:    deposit,
		DilutionBound:      g.DilutionBound,
		ProcessingReward:   reward,
		SummoningTime:      uint64(e.now().Unix()),
	}
	if err := e.state.PutGuildParams(params); err != nil {
		return err
	}

	summoner := NewMember(g.Summoner, big.NewInt(1), big.NewInt(0))
	if err := e.state.PutMember(summoner); err != nil {
		return err
	}
	if err := e.state.SetDelegate(g.Summoner, g.Summoner); err != nil {
		return err
	}
	if err := e.state.PutTotals(&Totals{TotalShares: big.NewInt(1), TotalLoot: big.NewInt(0)}); err != nil {
		return err
	}

	e.emit(newSummonCompleteEvent(g.Summoner, params))
	return nil
}

// CurrentPeriod returns the number of whole period durations elapsed since
// summoning.
func (e *Engine) CurrentPeriod() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	params, err := e.params()
	if err != nil {
		return 0, err
	}
	now := uint64(e.now().Unix())
	if now <= params.SummoningTime {
		return 0, nil
	}
	return (now - params.SummoningTime) / params.PeriodDuration, nil
}

// HasVotingPeriodExpired reports whether votes can no longer be cast on a
// proposal with the supplied starting period.
func (e *Engine) HasVotingPeriodExpired(startingPeriod uint64) (bool, error) {
	params, err := e.params()
	if err != nil {
		return false, err
	}
	current, err := e.CurrentPeriod()
	if err != nil {
		return false, err
	}
	return current >= startingPeriod+params.VotingPeriodLength, nil
}

// DepositToken returns the token sponsor deposits and processing rewards are
// denominated in: the first approved token.
func (e *Engine) DepositToken() (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, err
	}
	tokens, err := e.state.ApprovedTokens()
	if err != nil {
		return crypto.Address{}, err
	}
	if len(tokens) == 0 {
		return crypto.Address{}, fmt.Errorf("guild: not summoned")
	}
	return tokens[0], nil
}

// memberByDelegate resolves the caller through the delegate-key index.
func (e *Engine) memberByDelegate(caller crypto.Address) (*Member, error) {
	addr, ok, err := e.state.MemberByDelegate(caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown delegate %s", ErrNoSuchMember, caller)
	}
	member, ok, err := e.state.Member(addr)
	if err != nil {
		return nil, err
	}
	if !ok || !member.Exists {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMember, addr)
	}
	return member, nil
}

func (e *Engine) member(addr crypto.Address) (*Member, error) {
	member, ok, err := e.state.Member(addr)
	if err != nil {
		return nil, err
	}
	if !ok || !member.Exists {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchMember, addr)
	}
	return member, nil
}

// SubmitProposal submits a standard membership/funding proposal. The tribute
// is pulled from the caller into the guild account and credited to escrow
// until the proposal is processed or cancelled. Returns the allocated
// proposal id.
func (e *Engine) SubmitProposal(caller, applicant crypto.Address, sharesRequested, lootRequested, tributeOffered *big.Int, tributeToken crypto.Address, paymentRequested *big.Int, paymentToken crypto.Address, details string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	sharesRequested = orZero(sharesRequested)
	lootRequested = orZero(lootRequested)
	tributeOffered = orZero(tributeOffered)
	paymentRequested = orZero(paymentRequested)

	requested := new(big.Int).Add(sharesRequested, lootRequested)
	if requested.Cmp(MaxNumberOfSharesAndLoot) > 0 {
		return 0, ErrTooManyShares
	}
	if ok, err := e.state.IsTokenWhitelisted(tributeToken); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%w: tribute token %s", ErrTokenNotWhitelisted, tributeToken)
	}
	if ok, err := e.state.IsTokenWhitelisted(paymentToken); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("%w: payment token %s", ErrTokenNotWhitelisted, paymentToken)
	}
	if applicant.IsZero() {
		return 0, fmt.Errorf("%w: applicant", ErrZeroAddress)
	}
	if IsReservedAccount(applicant) {
		return 0, ErrApplicantReserved
	}
	if member, ok, err := e.state.Member(applicant); err != nil {
		return 0, err
	} else if ok && member.Jailed != 0 {
		return 0, ErrApplicantJailed
	}
	if tributeOffered.Sign() > 0 {
		guildBalance, err := e.state.Balance(GuildAccount, tributeToken)
		if err != nil {
			return 0, err
		}
		if guildBalance.Sign() == 0 {
			count, err := e.state.GuildBankTokenCount()
			if err != nil {
				return 0, err
			}
			if count >= MaxTokenGuildBankCount {
				return 0, ErrGuildBankFull
			}
		}
	}

	// Collect the tribute from the proposer and hold it in escrow until the
	// proposal is processed.
	if tributeOffered.Sign() > 0 {
		if err := e.tokens.TransferFrom(tributeToken, caller, e.self, tributeOffered); err != nil {
			return 0, fmt.Errorf("%w: tribute: %v", ErrTransferFailed, err)
		}
		if err := e.ledger.Add(EscrowAccount, tributeToken, tributeOffered); err != nil {
			return 0, err
		}
	}

	return e.submitProposal(caller, applicant, sharesRequested, lootRequested, tributeOffered, tributeToken, paymentRequested, paymentToken, details, ProposalFlags{})
}

// SubmitWhitelistProposal submits a proposal to add a token to the approved
// list. The target token rides in the tribute-token field of the proposal
// record.
func (e *Engine) SubmitWhitelistProposal(caller, tokenToWhitelist crypto.Address, details string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if tokenToWhitelist.IsZero() {
		return 0, fmt.Errorf("%w: token", ErrZeroAddress)
	}
	if ok, err := e.state.IsTokenWhitelisted(tokenToWhitelist); err != nil {
		return 0, err
	} else if ok {
		return 0, ErrTokenAlreadyWhitelisted
	}
	tokens, err := e.state.ApprovedTokens()
	if err != nil {
		return 0, err
	}
	if len(tokens) >= MaxTokenWhitelistCount {
		return 0, ErrWhitelistFull
	}
	return e.submitProposal(caller, crypto.Address{}, big.NewInt(0), big.NewInt(0), big.NewInt(0), tokenToWhitelist, big.NewInt(0), crypto.Address{}, details, ProposalFlags{Whitelist: true})
}

// SubmitGuildKickProposal submits a proposal to jail a member and convert
// their shares to loot.
func (e *Engine) SubmitGuildKickProposal(caller, memberToKick crypto.Address, details string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	member, err := e.member(memberToKick)
	if err != nil {
		return 0, err
	}
	if member.Shares.Sign() == 0 && member.Loot.Sign() == 0 {
		return 0, fmt.Errorf("%w: member has no shares or loot", ErrInsufficientShares)
	}
	if member.Jailed != 0 {
		return 0, ErrApplicantJailed
	}
	return e.submitProposal(caller, memberToKick, big.NewInt(0), big.NewInt(0), big.NewInt(0), crypto.Address{}, big.NewInt(0), crypto.Address{}, details, ProposalFlags{GuildKick: true})
}

func (e *Engine) submitProposal(caller, applicant crypto.Address, sharesRequested, lootRequested, tributeOffered *big.Int, tributeToken crypto.Address, paymentRequested *big.Int, paymentToken crypto.Address, details string, flags ProposalFlags) (uint64, error) {
	id, err := e.state.NextProposalID()
	if err != nil {
		return 0, err
	}
	proposal := &Proposal{
		ID:                             id,
		Applicant:                      applicant,
		Proposer:                       caller,
		SharesRequested:                new(big.Int).Set(sharesRequested),
		LootRequested:                  new(big.Int).Set(lootRequested),
		TributeOffered:                 new(big.Int).Set(tributeOffered),
		TributeToken:                   tributeToken,
		PaymentRequested:               new(big.Int).Set(paymentRequested),
		PaymentToken:                   paymentToken,
		YesVotes:                       big.NewInt(0),
		NoVotes:                        big.NewInt(0),
		Flags:                          flags,
		Details:                        details,
		MaxTotalSharesAndLootAtYesVote: big.NewInt(0),
	}
	if err := e.state.PutProposal(proposal); err != nil {
		return 0, err
	}
	e.emit(newSubmitProposalEvent(proposal, caller))
	return id, nil
}

// SponsorProposal escrows the proposal deposit and moves the proposal into
// the voting queue. Delegate-only.
func (e *Engine) SponsorProposal(caller crypto.Address, proposalID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	sponsor, err := e.memberByDelegate(caller)
	if err != nil {
		return err
	}
	params, err := e.params()
	if err != nil {
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
	if !proposal.Applicant.IsZero() {
		if member, ok, err := e.state.Member(proposal.Applicant); err != nil {
			return err
		} else if ok && member.Jailed != 0 {
			return ErrApplicantJailed
		}
	}

	switch {
	case proposal.Flags.Whitelist:
		target := proposal.TributeToken
		if whitelisted, err := e.state.IsTokenWhitelisted(target); err != nil {
			return err
		} else if whitelisted {
			return ErrTokenAlreadyWhitelisted
		}
		if reserved, err := e.state.ProposedToWhitelist(target); err != nil {
			return err
		} else if reserved {
			return ErrAlreadyProposedToWhitelist
		}
		tokens, err := e.state.ApprovedTokens()
		if err != nil {
			return err
		}
		if len(tokens) >= MaxTokenWhitelistCount {
			return ErrWhitelistFull
		}
		if err := e.state.SetProposedToWhitelist(target, true); err != nil {
			return err
		}
	case proposal.Flags.GuildKick:
		if reserved, err := e.state.ProposedToKick(proposal.Applicant); err != nil {
			return err
		} else if reserved {
			return ErrAlreadyProposedToKick
		}
		if err := e.state.SetProposedToKick(proposal.Applicant, true); err != nil {
			return err
		}
	}

	// Collect the proposal deposit from the sponsor and hold it in escrow
	// until the proposal is processed.
	depositToken, err := e.DepositToken()
	if err != nil {
		return err
	}
	if params.ProposalDeposit.Sign() > 0 {
		if err := e.tokens.TransferFrom(depositToken, caller, e.self, params.ProposalDeposit); err != nil {
			return fmt.Errorf("%w: proposal deposit: %v", ErrTransferFailed, err)
		}
		if err := e.ledger.Add(EscrowAccount, depositToken, params.ProposalDeposit); err != nil {
			return err
		}
	}

	current, err := e.CurrentPeriod()
	if err != nil {
		return err
	}
	lastStartingPeriod := uint64(0)
	queueLen, err := e.state.QueueLength()
	if err != nil {
		return err
	}
	if queueLen > 0 {
		lastID, ok, err := e.state.QueueProposalID(queueLen - 1)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: queue tail", ErrNoSuchProposal)
		}
		last, ok, err := e.state.Proposal(lastID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoSuchProposal, lastID)
		}
		lastStartingPeriod = last.StartingPeriod
	}
	startingPeriod := max64(current, lastStartingPeriod) + 1

	proposal.StartingPeriod = startingPeriod
	proposal.Sponsor = sponsor.Address
	proposal.Flags.Sponsored = true
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}
	index, err := e.state.QueueAppend(proposal.ID)
	if err != nil {
		return err
	}
	e.emit(newSponsorProposalEvent(caller, sponsor.Address, proposal, index))
	return nil
}

// SubmitVote records the caller's ballot on the proposal at the supplied
// queue index, weighted by the resolved member's shares. Delegate-only.
func (e *Engine) SubmitVote(caller crypto.Address, proposalIndex uint64, vote Vote) error {
	if err := e.ready(); err != nil {
		return err
	}
	member, err := e.memberByDelegate(caller)
	if err != nil {
		return err
	}
	if !vote.Valid() {
		return ErrInvalidVote
	}
	params, err := e.params()
	if err != nil {
		return err
	}
	proposal, err := e.proposalAt(proposalIndex)
	if err != nil {
		return err
	}
	current, err := e.CurrentPeriod()
	if err != nil {
		return err
	}
	if current < proposal.StartingPeriod {
		return ErrNotYetOpen
	}
	if current >= proposal.StartingPeriod+params.VotingPeriodLength {
		return ErrVotingClosed
	}
	if recorded, ok, err := e.state.VoteOf(proposal.ID, member.Address); err != nil {
		return err
	} else if ok && recorded != VoteNull {
		return ErrAlreadyVoted
	}

	if err := e.state.PutVoteRecord(proposal.ID, member.Address, vote); err != nil {
		return err
	}
	switch vote {
	case VoteYes:
		proposal.YesVotes = new(big.Int).Add(proposal.YesVotes, member.Shares)
		if proposalIndex > member.HighestIndexYesVote {
			member.HighestIndexYesVote = proposalIndex
			if err := e.state.PutMember(member); err != nil {
				return err
			}
		}
		totals, err := e.state.Totals()
		if err != nil {
			return err
		}
		supply := totals.SharesAndLoot()
		if supply.Cmp(proposal.MaxTotalSharesAndLootAtYesVote) > 0 {
			proposal.MaxTotalSharesAndLootAtYesVote = supply
		}
	case VoteNo:
		proposal.NoVotes = new(big.Int).Add(proposal.NoVotes, member.Shares)
	}
	if err := e.state.PutProposal(proposal); err != nil {
		return err
	}
	e.emit(newSubmitVoteEvent(caller, member.Address, proposal, proposalIndex, vote))
	return nil
}

// MemberProposalVote returns the recorded ballot of the member on the
// proposal at the supplied queue index.
func (e *Engine) MemberProposalVote(member crypto.Address, proposalIndex uint64) (Vote, error) {
	if err := e.ready(); err != nil {
		return VoteNull, err
	}
	if _, err := e.member(member); err != nil {
		return VoteNull, err
	}
	proposal, err := e.proposalAt(proposalIndex)
	if err != nil {
		return VoteNull, err
	}
	vote, _, err := e.state.VoteOf(proposal.ID, member)
	if err != nil {
		return VoteNull, err
	}
	return vote, nil
}

// proposalAt loads the sponsored proposal at the supplied queue index.
func (e *Engine) proposalAt(index uint64) (*Proposal, error) {
	length, err := e.state.QueueLength()
	if err != nil {
		return nil, err
	}
	if index >= length {
		return nil, fmt.Errorf("%w: index %d", ErrNoSuchProposal, index)
	}
	id, ok, err := e.state.QueueProposalID(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrNoSuchProposal, index)
	}
	proposal, ok, err := e.state.Proposal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchProposal, id)
	}
	return proposal, nil
}

func orZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return amount
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
