package guild

import (
	"math/big"

	"guildhall/crypto"
)

// Hard-coded limits. These numbers are small enough to avoid overflows when
// doing calculations with periods or shares, yet big enough to not limit
// reasonable use cases.
const (
	// MaxVotingPeriodLength bounds the configured voting window in periods.
	MaxVotingPeriodLength uint64 = 1e18
	// MaxGracePeriodLength bounds the configured grace window in periods.
	MaxGracePeriodLength uint64 = 1e18
	// MaxDilutionBound bounds the configured dilution multiplier.
	MaxDilutionBound uint64 = 1e18
	// MaxTokenWhitelistCount bounds the approved token list.
	MaxTokenWhitelistCount = 400
	// MaxTokenGuildBankCount bounds the number of whitelisted tokens with a
	// non-zero guild bank balance.
	MaxTokenGuildBankCount = 200
)

// MaxNumberOfSharesAndLoot bounds the combined share and loot supply.
var MaxNumberOfSharesAndLoot = new(big.Int).SetUint64(1e18)

// Vote enumerates the supported ballot selections. The zero value marks an
// unset ballot and is rejected on submission.
type Vote uint8

const (
	VoteNull Vote = iota
	VoteYes
	VoteNo
)

// Valid reports whether the vote represents a castable selection.
func (v Vote) Valid() bool {
	return v == VoteYes || v == VoteNo
}

// String implements fmt.Stringer for logging and event emission.
func (v Vote) String() string {
	switch v {
	case VoteYes:
		return "yes"
	case VoteNo:
		return "no"
	default:
		return "null"
	}
}

// Member captures a guild participant. Records persist for the lifetime of the
// guild: a member who exits retains a record with zero shares and loot so the
// highest-index yes-vote history remains queryable if they re-enter.
type Member struct {
	Address     crypto.Address
	DelegateKey crypto.Address
	Shares      *big.Int
	Loot        *big.Int
	Exists      bool
	// HighestIndexYesVote is the highest queue index this member voted yes on.
	HighestIndexYesVote uint64
	// Jailed holds the queue index of the guild-kick proposal that passed
	// against this member; zero means not jailed.
	Jailed uint64
}

// NewMember constructs a fresh member whose delegate key defaults to the
// member address.
func NewMember(addr crypto.Address, shares, loot *big.Int) *Member {
	return &Member{
		Address:     addr,
		DelegateKey: addr,
		Shares:      new(big.Int).Set(shares),
		Loot:        new(big.Int).Set(loot),
		Exists:      true,
	}
}

// ProposalFlags tracks the lifecycle of a proposal. Processed and Cancelled
// are terminal: once set they are never cleared.
type ProposalFlags struct {
	Sponsored bool
	Processed bool
	DidPass   bool
	Cancelled bool
	Whitelist bool
	GuildKick bool
}

// Standard reports whether the proposal is a plain membership/funding
// proposal rather than a whitelist or guild-kick action.
func (f ProposalFlags) Standard() bool {
	return !f.Whitelist && !f.GuildKick
}

// Proposal captures a submitted guild action. Tallies and lifecycle flags are
// mutated in place as the proposal moves through sponsorship, voting, and
// processing; per-member ballots are stored separately in state.
type Proposal struct {
	ID uint64
	// Applicant is the account admitted (or kicked) on pass. Zero for
	// whitelist proposals.
	Applicant crypto.Address
	// Proposer is whoever submitted the proposal; may be a non-member.
	Proposer crypto.Address
	// Sponsor is the member that moved the proposal into the queue.
	Sponsor          crypto.Address
	SharesRequested  *big.Int
	LootRequested    *big.Int
	TributeOffered   *big.Int
	TributeToken     crypto.Address
	PaymentRequested *big.Int
	PaymentToken     crypto.Address
	// StartingPeriod is the first period in which votes may be cast.
	StartingPeriod uint64
	YesVotes       *big.Int
	NoVotes        *big.Int
	Flags          ProposalFlags
	Details        string
	// MaxTotalSharesAndLootAtYesVote records the largest combined share and
	// loot supply observed while yes votes were being cast; the dilution
	// guard compares against it at processing time.
	MaxTotalSharesAndLootAtYesVote *big.Int
}

// Params holds the immutable guild configuration fixed at summoning.
type Params struct {
	// PeriodDuration is the length of one period in seconds.
	PeriodDuration uint64
	// VotingPeriodLength is the number of periods a vote remains open.
	VotingPeriodLength uint64
	// GracePeriodLength is the number of periods between vote close and
	// processing eligibility.
	GracePeriodLength uint64
	// ProposalDeposit is posted by the sponsor in deposit-token units.
	ProposalDeposit *big.Int
	// DilutionBound caps the tolerated share-dilution multiplier.
	DilutionBound uint64
	// ProcessingReward is paid to whoever processes a proposal.
	ProcessingReward *big.Int
	// SummoningTime is the unix timestamp the guild was created at.
	SummoningTime uint64
}

// Totals carries the global supply counters maintained across every state
// transition.
type Totals struct {
	TotalShares *big.Int
	TotalLoot   *big.Int
	// GuildBankTokens counts whitelisted tokens with a non-zero guild bank
	// balance.
	GuildBankTokens uint64
}

// SharesAndLoot returns the combined share and loot supply.
func (t *Totals) SharesAndLoot() *big.Int {
	return new(big.Int).Add(t.TotalShares, t.TotalLoot)
}

// Genesis describes the summoning parameters for a new guild.
type Genesis struct {
	Summoner           crypto.Address
	ApprovedTokens     []crypto.Address
	PeriodDuration     uint64
	VotingPeriodLength uint64
	GracePeriodLength  uint64
	ProposalDeposit    *big.Int
	DilutionBound      uint64
	ProcessingReward   *big.Int
}

// Reserved pseudo-accounts of the internal ledger.
var (
	// GuildAccount holds pooled guild funds.
	GuildAccount = crypto.GuildVaultAddress()
	// EscrowAccount holds in-flight tributes and sponsor deposits.
	EscrowAccount = crypto.EscrowVaultAddress()
	// TotalAccount is the per-token sum-check row; it never holds
	// withdrawable funds.
	TotalAccount = crypto.TotalSentinelAddress()
)

// IsReservedAccount reports whether the address is one of the ledger
// pseudo-accounts and therefore unusable as a real participant.
func IsReservedAccount(addr crypto.Address) bool {
	return addr.Equal(GuildAccount) || addr.Equal(EscrowAccount) || addr.Equal(TotalAccount)
}
