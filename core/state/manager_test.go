package state

import (
	"math/big"
	"testing"

	"guildhall/crypto"
	"guildhall/native/guild"
	"guildhall/native/token"
	"guildhall/storage"
	"guildhall/storage/trie"
)

func testAddr(tail byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x22
	raw[crypto.AddressLength-1] = tail
	return crypto.AddressFromRaw(raw)
}

func newTestManager(t *testing.T) (*Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr), db
}

func TestGuildParamsRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	if _, ok, err := manager.GuildParams(); err != nil || ok {
		t.Fatalf("fresh state should have no params: ok=%v err=%v", ok, err)
	}
	params := &guild.Params{
		PeriodDuration:     17,
		VotingPeriodLength: 35,
		GracePeriodLength:  35,
		ProposalDeposit:    big.NewInt(10),
		DilutionBound:      3,
		ProcessingReward:   big.NewInt(1),
		SummoningTime:      1_700_000_000,
	}
	if err := manager.PutGuildParams(params); err != nil {
		t.Fatalf("put params: %v", err)
	}
	loaded, ok, err := manager.GuildParams()
	if err != nil || !ok {
		t.Fatalf("load params: ok=%v err=%v", ok, err)
	}
	if loaded.PeriodDuration != 17 || loaded.VotingPeriodLength != 35 || loaded.SummoningTime != 1_700_000_000 {
		t.Fatalf("params mismatch: %+v", loaded)
	}
	if loaded.ProposalDeposit.Int64() != 10 || loaded.ProcessingReward.Int64() != 1 {
		t.Fatalf("amounts mismatch: %+v", loaded)
	}
}

func TestMemberAndDelegateRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	addr := testAddr(0x01)
	delegate := testAddr(0x02)

	member := guild.NewMember(addr, big.NewInt(5), big.NewInt(2))
	member.HighestIndexYesVote = 7
	member.Jailed = 3
	if err := manager.PutMember(member); err != nil {
		t.Fatalf("put member: %v", err)
	}
	loaded, ok, err := manager.Member(addr)
	if err != nil || !ok {
		t.Fatalf("load member: ok=%v err=%v", ok, err)
	}
	if !loaded.Address.Equal(addr) || !loaded.DelegateKey.Equal(addr) {
		t.Fatalf("addresses mismatch: %+v", loaded)
	}
	if loaded.Shares.Int64() != 5 || loaded.Loot.Int64() != 2 {
		t.Fatalf("shares/loot mismatch: %s/%s", loaded.Shares, loaded.Loot)
	}
	if loaded.HighestIndexYesVote != 7 || loaded.Jailed != 3 || !loaded.Exists {
		t.Fatalf("flags mismatch: %+v", loaded)
	}

	if err := manager.SetDelegate(delegate, addr); err != nil {
		t.Fatalf("set delegate: %v", err)
	}
	resolved, ok, err := manager.MemberByDelegate(delegate)
	if err != nil || !ok || !resolved.Equal(addr) {
		t.Fatalf("delegate lookup: %v %v %v", resolved, ok, err)
	}
	if err := manager.RemoveDelegate(delegate); err != nil {
		t.Fatalf("remove delegate: %v", err)
	}
	if _, ok, _ := manager.MemberByDelegate(delegate); ok {
		t.Fatalf("delegate should be removed")
	}
}

func TestProposalQueueAndVotes(t *testing.T) {
	manager, _ := newTestManager(t)
	voter := testAddr(0x05)

	id, err := manager.NextProposalID()
	if err != nil || id != 0 {
		t.Fatalf("first id = %d err=%v, want 0", id, err)
	}
	id, err = manager.NextProposalID()
	if err != nil || id != 1 {
		t.Fatalf("second id = %d err=%v, want 1", id, err)
	}
	count, err := manager.ProposalCount()
	if err != nil || count != 2 {
		t.Fatalf("count = %d err=%v, want 2", count, err)
	}

	proposal := &guild.Proposal{
		ID:                             1,
		Applicant:                      testAddr(0x06),
		Proposer:                       voter,
		SharesRequested:                big.NewInt(5),
		LootRequested:                  big.NewInt(0),
		TributeOffered:                 big.NewInt(100),
		TributeToken:                   testAddr(0xE0),
		PaymentRequested:               big.NewInt(0),
		StartingPeriod:                 4,
		YesVotes:                       big.NewInt(1),
		NoVotes:                        big.NewInt(0),
		Flags:                          guild.ProposalFlags{Sponsored: true},
		Details:                        "round trip",
		MaxTotalSharesAndLootAtYesVote: big.NewInt(6),
	}
	if err := manager.PutProposal(proposal); err != nil {
		t.Fatalf("put proposal: %v", err)
	}
	loaded, ok, err := manager.Proposal(1)
	if err != nil || !ok {
		t.Fatalf("load proposal: ok=%v err=%v", ok, err)
	}
	if loaded.Details != "round trip" || !loaded.Flags.Sponsored || loaded.StartingPeriod != 4 {
		t.Fatalf("proposal mismatch: %+v", loaded)
	}
	if loaded.TributeOffered.Int64() != 100 || !loaded.TributeToken.Equal(testAddr(0xE0)) {
		t.Fatalf("tribute mismatch: %+v", loaded)
	}
	if loaded.PaymentToken.IsZero() != true {
		t.Fatalf("payment token should stay zero")
	}

	index, err := manager.QueueAppend(1)
	if err != nil || index != 0 {
		t.Fatalf("queue append: index=%d err=%v", index, err)
	}
	length, err := manager.QueueLength()
	if err != nil || length != 1 {
		t.Fatalf("queue length = %d err=%v", length, err)
	}
	got, ok, err := manager.QueueProposalID(0)
	if err != nil || !ok || got != 1 {
		t.Fatalf("queue lookup: %d %v %v", got, ok, err)
	}
	if _, ok, _ := manager.QueueProposalID(1); ok {
		t.Fatalf("out-of-range queue index should miss")
	}

	if _, ok, _ := manager.VoteOf(1, voter); ok {
		t.Fatalf("fresh vote should miss")
	}
	if err := manager.PutVoteRecord(1, voter, guild.VoteYes); err != nil {
		t.Fatalf("put vote: %v", err)
	}
	vote, ok, err := manager.VoteOf(1, voter)
	if err != nil || !ok || vote != guild.VoteYes {
		t.Fatalf("vote = %v ok=%v err=%v", vote, ok, err)
	}
}

func TestWhitelistAndReservations(t *testing.T) {
	manager, _ := newTestManager(t)
	t0 := testAddr(0xE0)
	t1 := testAddr(0xE1)

	if err := manager.WhitelistToken(t0); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := manager.WhitelistToken(t1); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := manager.WhitelistToken(t0); err == nil {
		t.Fatalf("double whitelist should error")
	}
	tokens, err := manager.ApprovedTokens()
	if err != nil || len(tokens) != 2 || !tokens[0].Equal(t0) || !tokens[1].Equal(t1) {
		t.Fatalf("approved tokens = %v err=%v", tokens, err)
	}
	ok, err := manager.IsTokenWhitelisted(t0)
	if err != nil || !ok {
		t.Fatalf("t0 should be whitelisted")
	}

	if err := manager.SetProposedToWhitelist(t1, true); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	reserved, err := manager.ProposedToWhitelist(t1)
	if err != nil || !reserved {
		t.Fatalf("reservation not visible")
	}
	if err := manager.SetProposedToWhitelist(t1, false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if reserved, _ := manager.ProposedToWhitelist(t1); reserved {
		t.Fatalf("reservation should clear")
	}

	target := testAddr(0x30)
	if err := manager.SetProposedToKick(target, true); err != nil {
		t.Fatalf("kick reserve: %v", err)
	}
	if reserved, _ := manager.ProposedToKick(target); !reserved {
		t.Fatalf("kick reservation not visible")
	}
}

func TestTotalsAndBalances(t *testing.T) {
	manager, _ := newTestManager(t)
	totals, err := manager.Totals()
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.TotalShares.Sign() != 0 || totals.TotalLoot.Sign() != 0 || totals.GuildBankTokens != 0 {
		t.Fatalf("fresh totals should be zero: %+v", totals)
	}
	if err := manager.PutTotals(&guild.Totals{TotalShares: big.NewInt(6), TotalLoot: big.NewInt(3)}); err != nil {
		t.Fatalf("put totals: %v", err)
	}
	if err := manager.SetGuildBankTokenCount(2); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	totals, err = manager.Totals()
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.TotalShares.Int64() != 6 || totals.TotalLoot.Int64() != 3 || totals.GuildBankTokens != 2 {
		t.Fatalf("totals mismatch: %+v", totals)
	}
	// PutTotals preserves the counter maintained by the ledger.
	if err := manager.PutTotals(&guild.Totals{TotalShares: big.NewInt(7), TotalLoot: big.NewInt(3)}); err != nil {
		t.Fatalf("put totals: %v", err)
	}
	count, err := manager.GuildBankTokenCount()
	if err != nil || count != 2 {
		t.Fatalf("counter = %d err=%v, want 2", count, err)
	}

	user := testAddr(0x09)
	tokenAddr := testAddr(0xE0)
	balance, err := manager.Balance(user, tokenAddr)
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("fresh balance should be zero")
	}
	if err := manager.SetBalance(user, tokenAddr, big.NewInt(123)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	balance, err = manager.Balance(user, tokenAddr)
	if err != nil || balance.Int64() != 123 {
		t.Fatalf("balance = %v err=%v", balance, err)
	}
}

func TestTokenRegistryRoundTrip(t *testing.T) {
	manager, _ := newTestManager(t)
	addr := testAddr(0xE0)
	authority := testAddr(0x0A)

	if _, ok, _ := manager.Token(addr); ok {
		t.Fatalf("fresh registry should miss")
	}
	if err := manager.PutToken(&token.Metadata{
		Address:       addr,
		Symbol:        "GLD",
		Name:          "Guild Gold",
		Decimals:      18,
		MintAuthority: authority,
	}); err != nil {
		t.Fatalf("put token: %v", err)
	}
	meta, ok, err := manager.Token(addr)
	if err != nil || !ok {
		t.Fatalf("load token: ok=%v err=%v", ok, err)
	}
	if meta.Symbol != "GLD" || meta.Decimals != 18 || !meta.MintAuthority.Equal(authority) {
		t.Fatalf("metadata mismatch: %+v", meta)
	}

	holder := testAddr(0x0B)
	if err := manager.SetTokenBalance(addr, holder, big.NewInt(77)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	balance, err := manager.TokenBalance(addr, holder)
	if err != nil || balance.Int64() != 77 {
		t.Fatalf("balance = %v err=%v", balance, err)
	}
	spender := testAddr(0x0C)
	if err := manager.SetTokenAllowance(addr, holder, spender, big.NewInt(50)); err != nil {
		t.Fatalf("set allowance: %v", err)
	}
	allowance, err := manager.TokenAllowance(addr, holder, spender)
	if err != nil || allowance.Int64() != 50 {
		t.Fatalf("allowance = %v err=%v", allowance, err)
	}
}

// TestStateSurvivesReload commits the trie and rebuilds it from the flat
// store, asserting the data is intact.
func TestStateSurvivesReload(t *testing.T) {
	manager, db := newTestManager(t)
	addr := testAddr(0x01)
	member := guild.NewMember(addr, big.NewInt(5), big.NewInt(0))
	if err := manager.PutMember(member); err != nil {
		t.Fatalf("put member: %v", err)
	}
	if err := manager.PutGuildParams(&guild.Params{
		PeriodDuration:     17,
		VotingPeriodLength: 35,
		ProposalDeposit:    big.NewInt(10),
		DilutionBound:      3,
		ProcessingReward:   big.NewInt(1),
	}); err != nil {
		t.Fatalf("put params: %v", err)
	}
	root, err := manager.Trie().Commit(1)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	reloaded, err := trie.NewTrie(db, root.Bytes())
	if err != nil {
		t.Fatalf("reload trie: %v", err)
	}
	fresh := NewManager(reloaded)
	loaded, ok, err := fresh.Member(addr)
	if err != nil || !ok {
		t.Fatalf("member after reload: ok=%v err=%v", ok, err)
	}
	if loaded.Shares.Int64() != 5 {
		t.Fatalf("shares after reload = %s", loaded.Shares)
	}
	if _, ok, err := fresh.GuildParams(); err != nil || !ok {
		t.Fatalf("params after reload: ok=%v err=%v", ok, err)
	}
}
