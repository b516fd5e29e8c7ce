package state

import (
	"fmt"
	"math"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"guildhall/crypto"
	"guildhall/native/guild"
	"guildhall/native/token"
	"guildhall/storage/trie"
)

// Manager provides the persistence layer for the guild core and the token
// registry. Values are RLP encoded and stored beneath keccak-hashed keys in
// the backing trie.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie exposes the backing trie so callers can commit or roll back the
// current transition.
func (m *Manager) Trie() *trie.Trie { return m.trie }

const (
	guildParamsKey               = "guild/params"
	guildTotalsKey               = "guild/totals"
	guildQueueKey                = "guild/queue"
	guildProposalSeqKey          = "guild/proposal-seq"
	guildWhitelistKey            = "guild/whitelist"
	guildMemberPrefix            = "guild/members/"
	guildDelegatePrefix          = "guild/delegates/"
	guildProposalPrefix          = "guild/proposals/"
	guildVotePrefix              = "guild/votes/"
	guildWhitelistFlagPrefix     = "guild/whitelist/flag/"
	guildProposedWhitelistPrefix = "guild/proposed-whitelist/"
	guildProposedKickPrefix      = "guild/proposed-kick/"
	guildBalancePrefix           = "guild/balance/"
	tokenMetaPrefix              = "token/meta/"
	tokenBalancePrefix           = "token/balance/"
	tokenAllowancePrefix         = "token/allowance/"
)

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func memberKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", guildMemberPrefix, addr.Raw()))
}

func delegateKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", guildDelegatePrefix, addr.Raw()))
}

func proposalKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", guildProposalPrefix, id))
}

func voteKey(id uint64, member crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%d/%x", guildVotePrefix, id, member.Raw()))
}

func whitelistFlagKey(tokenAddr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", guildWhitelistFlagPrefix, tokenAddr.Raw()))
}

func proposedWhitelistKey(tokenAddr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", guildProposedWhitelistPrefix, tokenAddr.Raw()))
}

func proposedKickKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", guildProposedKickPrefix, addr.Raw()))
}

func balanceKey(user, tokenAddr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", guildBalancePrefix, user.Raw(), tokenAddr.Raw()))
}

func tokenMetaKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", tokenMetaPrefix, addr.Raw()))
}

func tokenBalanceKey(tokenAddr, holder crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", tokenBalancePrefix, tokenAddr.Raw(), holder.Raw()))
}

func tokenAllowanceKey(tokenAddr, owner, spender crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x/%x", tokenAllowancePrefix, tokenAddr.Raw(), owner.Raw(), spender.Raw()))
}

// KVPut RLP-encodes the value and stores it beneath the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), data)
}

// KVGet decodes the stored value into out, reporting whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key from the trie.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// --- stored record adapters ---

type storedParams struct {
	PeriodDuration     uint64
	VotingPeriodLength uint64
	GracePeriodLength  uint64
	ProposalDeposit    *big.Int
	DilutionBound      uint64
	ProcessingReward   *big.Int
	SummoningTime      uint64
}

func newStoredParams(p *guild.Params) *storedParams {
	return &storedParams{
		PeriodDuration:     p.PeriodDuration,
		VotingPeriodLength: p.VotingPeriodLength,
		GracePeriodLength:  p.GracePeriodLength,
		ProposalDeposit:    orZero(p.ProposalDeposit),
		DilutionBound:      p.DilutionBound,
		ProcessingReward:   orZero(p.ProcessingReward),
		SummoningTime:      p.SummoningTime,
	}
}

func (s *storedParams) toParams() *guild.Params {
	return &guild.Params{
		PeriodDuration:     s.PeriodDuration,
		VotingPeriodLength: s.VotingPeriodLength,
		GracePeriodLength:  s.GracePeriodLength,
		ProposalDeposit:    orZero(s.ProposalDeposit),
		DilutionBound:      s.DilutionBound,
		ProcessingReward:   orZero(s.ProcessingReward),
		SummoningTime:      s.SummoningTime,
	}
}

type storedMember struct {
	Address             [crypto.AddressLength]byte
	DelegateKey         [crypto.AddressLength]byte
	Shares              *big.Int
	Loot                *big.Int
	Exists              bool
	HighestIndexYesVote uint64
	Jailed              uint64
}

func newStoredMember(member *guild.Member) *storedMember {
	return &storedMember{
		Address:             member.Address.Raw(),
		DelegateKey:         member.DelegateKey.Raw(),
		Shares:              orZero(member.Shares),
		Loot:                orZero(member.Loot),
		Exists:              member.Exists,
		HighestIndexYesVote: member.HighestIndexYesVote,
		Jailed:              member.Jailed,
	}
}

func (s *storedMember) toMember() *guild.Member {
	return &guild.Member{
		Address:             crypto.AddressFromRaw(s.Address),
		DelegateKey:         crypto.AddressFromRaw(s.DelegateKey),
		Shares:              orZero(s.Shares),
		Loot:                orZero(s.Loot),
		Exists:              s.Exists,
		HighestIndexYesVote: s.HighestIndexYesVote,
		Jailed:              s.Jailed,
	}
}

type storedFlags struct {
	Sponsored bool
	Processed bool
	DidPass   bool
	Cancelled bool
	Whitelist bool
	GuildKick bool
}

type storedProposal struct {
	ID                             uint64
	Applicant                      [crypto.AddressLength]byte
	Proposer                       [crypto.AddressLength]byte
	Sponsor                        [crypto.AddressLength]byte
	SharesRequested                *big.Int
	LootRequested                  *big.Int
	TributeOffered                 *big.Int
	TributeToken                   [crypto.AddressLength]byte
	PaymentRequested               *big.Int
	PaymentToken                   [crypto.AddressLength]byte
	StartingPeriod                 uint64
	YesVotes                       *big.Int
	NoVotes                        *big.Int
	Flags                          storedFlags
	Details                        string
	MaxTotalSharesAndLootAtYesVote *big.Int
}

func newStoredProposal(p *guild.Proposal) *storedProposal {
	return &storedProposal{
		ID:                             p.ID,
		Applicant:                      p.Applicant.Raw(),
		Proposer:                       p.Proposer.Raw(),
		Sponsor:                        p.Sponsor.Raw(),
		SharesRequested:                orZero(p.SharesRequested),
		LootRequested:                  orZero(p.LootRequested),
		TributeOffered:                 orZero(p.TributeOffered),
		TributeToken:                   p.TributeToken.Raw(),
		PaymentRequested:               orZero(p.PaymentRequested),
		PaymentToken:                   p.PaymentToken.Raw(),
		StartingPeriod:                 p.StartingPeriod,
		YesVotes:                       orZero(p.YesVotes),
		NoVotes:                        orZero(p.NoVotes),
		Flags: storedFlags{
			Sponsored: p.Flags.Sponsored,
			Processed: p.Flags.Processed,
			DidPass:   p.Flags.DidPass,
			Cancelled: p.Flags.Cancelled,
			Whitelist: p.Flags.Whitelist,
			GuildKick: p.Flags.GuildKick,
		},
		Details:                        p.Details,
		MaxTotalSharesAndLootAtYesVote: orZero(p.MaxTotalSharesAndLootAtYesVote),
	}
}

func (s *storedProposal) toProposal() *guild.Proposal {
	return &guild.Proposal{
		ID:               s.ID,
		Applicant:        addressOrZero(s.Applicant),
		Proposer:         addressOrZero(s.Proposer),
		Sponsor:          addressOrZero(s.Sponsor),
		SharesRequested:  orZero(s.SharesRequested),
		LootRequested:    orZero(s.LootRequested),
		TributeOffered:   orZero(s.TributeOffered),
		TributeToken:     addressOrZero(s.TributeToken),
		PaymentRequested: orZero(s.PaymentRequested),
		PaymentToken:     addressOrZero(s.PaymentToken),
		StartingPeriod:   s.StartingPeriod,
		YesVotes:         orZero(s.YesVotes),
		NoVotes:          orZero(s.NoVotes),
		Flags: guild.ProposalFlags{
			Sponsored: s.Flags.Sponsored,
			Processed: s.Flags.Processed,
			DidPass:   s.Flags.DidPass,
			Cancelled: s.Flags.Cancelled,
			Whitelist: s.Flags.Whitelist,
			GuildKick: s.Flags.GuildKick,
		},
		Details:                        s.Details,
		MaxTotalSharesAndLootAtYesVote: orZero(s.MaxTotalSharesAndLootAtYesVote),
	}
}

type storedTotals struct {
	TotalShares     *big.Int
	TotalLoot       *big.Int
	GuildBankTokens uint64
}

type storedTokenMeta struct {
	Address       [crypto.AddressLength]byte
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority [crypto.AddressLength]byte
	MintPaused    bool
}

func orZero(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return amount
}

func addressOrZero(raw [crypto.AddressLength]byte) crypto.Address {
	var zero [crypto.AddressLength]byte
	if raw == zero {
		return crypto.Address{}
	}
	return crypto.AddressFromRaw(raw)
}

// --- guild params ---

// GuildParams returns the summoning configuration if the guild exists.
func (m *Manager) GuildParams() (*guild.Params, bool, error) {
	var stored storedParams
	ok, err := m.KVGet([]byte(guildParamsKey), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toParams(), true, nil
}

// PutGuildParams stores the summoning configuration.
func (m *Manager) PutGuildParams(p *guild.Params) error {
	if p == nil {
		return fmt.Errorf("state: params must not be nil")
	}
	return m.KVPut([]byte(guildParamsKey), newStoredParams(p))
}

// --- members ---

// Member returns the member record for the address if present.
func (m *Manager) Member(addr crypto.Address) (*guild.Member, bool, error) {
	var stored storedMember
	ok, err := m.KVGet(memberKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toMember(), true, nil
}

// PutMember stores the member record under its address.
func (m *Manager) PutMember(member *guild.Member) error {
	if member == nil {
		return fmt.Errorf("state: member must not be nil")
	}
	return m.KVPut(memberKey(member.Address), newStoredMember(member))
}

// MemberByDelegate resolves a delegate key to the owning member address.
func (m *Manager) MemberByDelegate(delegate crypto.Address) (crypto.Address, bool, error) {
	var raw [crypto.AddressLength]byte
	ok, err := m.KVGet(delegateKey(delegate), &raw)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return crypto.AddressFromRaw(raw), true, nil
}

// SetDelegate binds the delegate key to the member address.
func (m *Manager) SetDelegate(delegate, member crypto.Address) error {
	raw := member.Raw()
	return m.KVPut(delegateKey(delegate), &raw)
}

// RemoveDelegate unbinds the delegate key.
func (m *Manager) RemoveDelegate(delegate crypto.Address) error {
	return m.KVDelete(delegateKey(delegate))
}

// --- proposals ---

// Proposal returns the proposal record for the identifier if present.
func (m *Manager) Proposal(id uint64) (*guild.Proposal, bool, error) {
	var stored storedProposal
	ok, err := m.KVGet(proposalKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toProposal(), true, nil
}

// PutProposal stores the proposal under its identifier.
func (m *Manager) PutProposal(p *guild.Proposal) error {
	if p == nil {
		return fmt.Errorf("state: proposal must not be nil")
	}
	return m.KVPut(proposalKey(p.ID), newStoredProposal(p))
}

// ProposalCount returns the number of proposals ever allocated.
func (m *Manager) ProposalCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet([]byte(guildProposalSeqKey), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// NextProposalID allocates the next proposal identifier. Identifiers are
// dense and start at zero.
func (m *Manager) NextProposalID() (uint64, error) {
	count, err := m.ProposalCount()
	if err != nil {
		return 0, err
	}
	if count == math.MaxUint64 {
		return 0, fmt.Errorf("state: proposal sequence overflow")
	}
	if err := m.KVPut([]byte(guildProposalSeqKey), count+1); err != nil {
		return 0, err
	}
	return count, nil
}

// --- queue ---

func (m *Manager) queue() ([]uint64, error) {
	var ids []uint64
	if _, err := m.KVGet([]byte(guildQueueKey), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// QueueAppend appends the proposal id to the sponsored queue and returns its
// index.
func (m *Manager) QueueAppend(id uint64) (uint64, error) {
	ids, err := m.queue()
	if err != nil {
		return 0, err
	}
	ids = append(ids, id)
	if err := m.KVPut([]byte(guildQueueKey), ids); err != nil {
		return 0, err
	}
	return uint64(len(ids) - 1), nil
}

// QueueLength returns the number of sponsored proposals.
func (m *Manager) QueueLength() (uint64, error) {
	ids, err := m.queue()
	if err != nil {
		return 0, err
	}
	return uint64(len(ids)), nil
}

// QueueProposalID returns the proposal id at the supplied queue position.
func (m *Manager) QueueProposalID(index uint64) (uint64, bool, error) {
	ids, err := m.queue()
	if err != nil {
		return 0, false, err
	}
	if index >= uint64(len(ids)) {
		return 0, false, nil
	}
	return ids[index], true, nil
}

// --- votes ---

// VoteOf returns the recorded ballot of the member on the proposal.
func (m *Manager) VoteOf(id uint64, member crypto.Address) (guild.Vote, bool, error) {
	var stored uint8
	ok, err := m.KVGet(voteKey(id, member), &stored)
	if err != nil || !ok {
		return guild.VoteNull, false, err
	}
	return guild.Vote(stored), true, nil
}

// PutVoteRecord stores the member's ballot on the proposal.
func (m *Manager) PutVoteRecord(id uint64, member crypto.Address, vote guild.Vote) error {
	return m.KVPut(voteKey(id, member), uint8(vote))
}

// --- whitelist ---

// ApprovedTokens returns the ordered token whitelist.
func (m *Manager) ApprovedTokens() ([]crypto.Address, error) {
	var raw [][crypto.AddressLength]byte
	if _, err := m.KVGet([]byte(guildWhitelistKey), &raw); err != nil {
		return nil, err
	}
	tokens := make([]crypto.Address, len(raw))
	for i := range raw {
		tokens[i] = crypto.AddressFromRaw(raw[i])
	}
	return tokens, nil
}

// IsTokenWhitelisted reports whether the token is on the approved list.
func (m *Manager) IsTokenWhitelisted(tokenAddr crypto.Address) (bool, error) {
	var flag bool
	ok, err := m.KVGet(whitelistFlagKey(tokenAddr), &flag)
	if err != nil {
		return false, err
	}
	return ok && flag, nil
}

// WhitelistToken appends the token to the approved list and sets its
// membership flag.
func (m *Manager) WhitelistToken(tokenAddr crypto.Address) error {
	whitelisted, err := m.IsTokenWhitelisted(tokenAddr)
	if err != nil {
		return err
	}
	if whitelisted {
		return fmt.Errorf("state: token %s already whitelisted", tokenAddr)
	}
	var raw [][crypto.AddressLength]byte
	if _, err := m.KVGet([]byte(guildWhitelistKey), &raw); err != nil {
		return err
	}
	raw = append(raw, tokenAddr.Raw())
	if err := m.KVPut([]byte(guildWhitelistKey), raw); err != nil {
		return err
	}
	return m.KVPut(whitelistFlagKey(tokenAddr), true)
}

// ProposedToWhitelist reports whether the token is reserved by a sponsored
// whitelist proposal.
func (m *Manager) ProposedToWhitelist(tokenAddr crypto.Address) (bool, error) {
	var flag bool
	ok, err := m.KVGet(proposedWhitelistKey(tokenAddr), &flag)
	if err != nil {
		return false, err
	}
	return ok && flag, nil
}

// SetProposedToWhitelist sets or clears the whitelist reservation.
func (m *Manager) SetProposedToWhitelist(tokenAddr crypto.Address, reserved bool) error {
	if !reserved {
		return m.KVDelete(proposedWhitelistKey(tokenAddr))
	}
	return m.KVPut(proposedWhitelistKey(tokenAddr), true)
}

// ProposedToKick reports whether the member is reserved by a sponsored
// guild-kick proposal.
func (m *Manager) ProposedToKick(addr crypto.Address) (bool, error) {
	var flag bool
	ok, err := m.KVGet(proposedKickKey(addr), &flag)
	if err != nil {
		return false, err
	}
	return ok && flag, nil
}

// SetProposedToKick sets or clears the guild-kick reservation.
func (m *Manager) SetProposedToKick(addr crypto.Address, reserved bool) error {
	if !reserved {
		return m.KVDelete(proposedKickKey(addr))
	}
	return m.KVPut(proposedKickKey(addr), true)
}

// --- totals ---

func (m *Manager) totals() (*storedTotals, error) {
	stored := &storedTotals{TotalShares: big.NewInt(0), TotalLoot: big.NewInt(0)}
	if _, err := m.KVGet([]byte(guildTotalsKey), stored); err != nil {
		return nil, err
	}
	stored.TotalShares = orZero(stored.TotalShares)
	stored.TotalLoot = orZero(stored.TotalLoot)
	return stored, nil
}

// Totals returns the global supply counters, defaulting to zero.
func (m *Manager) Totals() (*guild.Totals, error) {
	stored, err := m.totals()
	if err != nil {
		return nil, err
	}
	return &guild.Totals{
		TotalShares:     stored.TotalShares,
		TotalLoot:       stored.TotalLoot,
		GuildBankTokens: stored.GuildBankTokens,
	}, nil
}

// PutTotals stores the share and loot supply counters, preserving the guild
// bank token counter maintained by the ledger.
func (m *Manager) PutTotals(t *guild.Totals) error {
	if t == nil {
		return fmt.Errorf("state: totals must not be nil")
	}
	stored, err := m.totals()
	if err != nil {
		return err
	}
	stored.TotalShares = orZero(t.TotalShares)
	stored.TotalLoot = orZero(t.TotalLoot)
	return m.KVPut([]byte(guildTotalsKey), stored)
}

// GuildBankTokenCount returns the number of whitelisted tokens with non-zero
// guild bank balances.
func (m *Manager) GuildBankTokenCount() (uint64, error) {
	stored, err := m.totals()
	if err != nil {
		return 0, err
	}
	return stored.GuildBankTokens, nil
}

// SetGuildBankTokenCount updates the guild bank token counter.
func (m *Manager) SetGuildBankTokenCount(count uint64) error {
	stored, err := m.totals()
	if err != nil {
		return err
	}
	stored.GuildBankTokens = count
	return m.KVPut([]byte(guildTotalsKey), stored)
}

// --- internal ledger balances ---

// Balance returns the internal ledger balance for the (user, token) pair,
// defaulting to zero.
func (m *Manager) Balance(user, tokenAddr crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(user, tokenAddr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetBalance stores the internal ledger balance for the (user, token) pair.
func (m *Manager) SetBalance(user, tokenAddr crypto.Address, amount *big.Int) error {
	return m.KVPut(balanceKey(user, tokenAddr), orZero(amount))
}

// --- token registry ---

// Token returns the registered metadata for the token address.
func (m *Manager) Token(addr crypto.Address) (*token.Metadata, bool, error) {
	var stored storedTokenMeta
	ok, err := m.KVGet(tokenMetaKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &token.Metadata{
		Address:       crypto.AddressFromRaw(stored.Address),
		Symbol:        stored.Symbol,
		Name:          stored.Name,
		Decimals:      stored.Decimals,
		MintAuthority: addressOrZero(stored.MintAuthority),
		MintPaused:    stored.MintPaused,
	}, true, nil
}

// PutToken stores the token metadata.
func (m *Manager) PutToken(meta *token.Metadata) error {
	if meta == nil {
		return fmt.Errorf("state: token metadata must not be nil")
	}
	return m.KVPut(tokenMetaKey(meta.Address), &storedTokenMeta{
		Address:       meta.Address.Raw(),
		Symbol:        meta.Symbol,
		Name:          meta.Name,
		Decimals:      meta.Decimals,
		MintAuthority: meta.MintAuthority.Raw(),
		MintPaused:    meta.MintPaused,
	})
}

// TokenBalance returns the holder's balance of the token, defaulting to zero.
func (m *Manager) TokenBalance(tokenAddr, holder crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(tokenBalanceKey(tokenAddr, holder), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetTokenBalance stores the holder's balance of the token.
func (m *Manager) SetTokenBalance(tokenAddr, holder crypto.Address, amount *big.Int) error {
	return m.KVPut(tokenBalanceKey(tokenAddr, holder), orZero(amount))
}

// TokenAllowance returns the spender's allowance over the owner's balance,
// defaulting to zero.
func (m *Manager) TokenAllowance(tokenAddr, owner, spender crypto.Address) (*big.Int, error) {
	allowance := new(big.Int)
	ok, err := m.KVGet(tokenAllowanceKey(tokenAddr, owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// SetTokenAllowance stores the spender's allowance over the owner's balance.
func (m *Manager) SetTokenAllowance(tokenAddr, owner, spender crypto.Address, amount *big.Int) error {
	return m.KVPut(tokenAllowanceKey(tokenAddr, owner, spender), orZero(amount))
}
