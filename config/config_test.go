package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"guildhall/crypto"
	"guildhall/native/guild"
)

func testAddr(tail byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[0] = 0x44
	raw[crypto.AddressLength-1] = tail
	return crypto.AddressFromRaw(raw)
}

func TestLoadWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guildd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress == "" || cfg.DataDir == "" {
		t.Fatalf("defaults not populated: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress {
		t.Fatalf("reload mismatch: %q != %q", reloaded.RPCAddress, cfg.RPCAddress)
	}
}

func TestLoadParsesGenesis(t *testing.T) {
	summoner := testAddr(0x01)
	tokenAddr := testAddr(0xE0)
	payload := `
RPCAddress = ":8645"
DataDir = ""

[Genesis]
Summoner = "` + summoner.String() + `"
ApprovedTokens = ["` + tokenAddr.String() + `"]
PeriodDuration = 17
VotingPeriodLength = 35
GracePeriodLength = 35
ProposalDeposit = "10"
DilutionBound = 3
ProcessingReward = "1"

[[Genesis.Tokens]]
Address = "` + tokenAddr.String() + `"
Symbol = "GLD"
Name = "Guild Gold"
Decimals = 18
`
	path := filepath.Join(t.TempDir(), "guildd.toml")
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	genesis, err := cfg.Genesis.GuildGenesis()
	if err != nil {
		t.Fatalf("guild genesis: %v", err)
	}
	if !genesis.Summoner.Equal(summoner) {
		t.Fatalf("summoner mismatch")
	}
	if len(genesis.ApprovedTokens) != 1 || !genesis.ApprovedTokens[0].Equal(tokenAddr) {
		t.Fatalf("approved tokens mismatch: %v", genesis.ApprovedTokens)
	}
	if genesis.ProposalDeposit.Int64() != 10 || genesis.ProcessingReward.Int64() != 1 {
		t.Fatalf("amounts mismatch: %+v", genesis)
	}
	if len(cfg.Genesis.Tokens) != 1 || cfg.Genesis.Tokens[0].Symbol != "GLD" {
		t.Fatalf("token genesis mismatch: %+v", cfg.Genesis.Tokens)
	}
}

func TestGuildGenesisValidation(t *testing.T) {
	base := Genesis{
		Summoner:           testAddr(0x01).String(),
		ApprovedTokens:     []string{testAddr(0xE0).String()},
		PeriodDuration:     17,
		VotingPeriodLength: 35,
		GracePeriodLength:  35,
		ProposalDeposit:    "10",
		DilutionBound:      3,
		ProcessingReward:   "1",
	}

	t.Run("deposit below reward", func(t *testing.T) {
		g := base
		g.ProposalDeposit = "0"
		if _, err := g.GuildGenesis(); !errors.Is(err, guild.ErrDepositLessThanReward) {
			t.Fatalf("want ErrDepositLessThanReward, got %v", err)
		}
	})
	t.Run("bad address", func(t *testing.T) {
		g := base
		g.Summoner = "not-an-address"
		if _, err := g.GuildGenesis(); err == nil {
			t.Fatalf("expected decode error")
		}
	})
	t.Run("bad amount", func(t *testing.T) {
		g := base
		g.ProposalDeposit = "ten"
		if _, err := g.GuildGenesis(); err == nil {
			t.Fatalf("expected amount error")
		}
	})
	t.Run("duplicate tokens", func(t *testing.T) {
		g := base
		g.ApprovedTokens = []string{base.ApprovedTokens[0], base.ApprovedTokens[0]}
		if _, err := g.GuildGenesis(); !errors.Is(err, guild.ErrDuplicateToken) {
			t.Fatalf("want ErrDuplicateToken, got %v", err)
		}
	})
}
