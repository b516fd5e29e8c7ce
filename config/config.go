package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"guildhall/crypto"
	"guildhall/native/guild"
)

// Config captures the runtime settings for a guild node.
type Config struct {
	RPCAddress string  `toml:"RPCAddress"`
	DataDir    string  `toml:"DataDir"`
	Env        string  `toml:"Env"`
	Genesis    Genesis `toml:"Genesis"`
}

// Genesis describes the summoning parameters and the initial token set in the
// on-disk representation. Addresses are bech32 strings; amounts are decimal
// strings so wei-scale values survive TOML's integer range.
type Genesis struct {
	Summoner           string         `toml:"Summoner"`
	ApprovedTokens     []string       `toml:"ApprovedTokens"`
	PeriodDuration     uint64         `toml:"PeriodDuration"`
	VotingPeriodLength uint64         `toml:"VotingPeriodLength"`
	GracePeriodLength  uint64         `toml:"GracePeriodLength"`
	ProposalDeposit    string         `toml:"ProposalDeposit"`
	DilutionBound      uint64         `toml:"DilutionBound"`
	ProcessingReward   string         `toml:"ProcessingReward"`
	Tokens             []TokenGenesis `toml:"Tokens"`
}

// TokenGenesis registers a fungible token and optional initial distribution
// at summoning time.
type TokenGenesis struct {
	Address       string      `toml:"Address"`
	Symbol        string      `toml:"Symbol"`
	Name          string      `toml:"Name"`
	Decimals      uint8       `toml:"Decimals"`
	MintAuthority string      `toml:"MintAuthority"`
	Mint          []TokenMint `toml:"Mint"`
}

// TokenMint credits an initial balance to a holder.
type TokenMint struct {
	To     string `toml:"To"`
	Amount string `toml:"Amount"`
}

// Load loads the configuration from the given path. A default file is written
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress: ":8645",
		DataDir:    "./guild-data",
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GuildGenesis converts the on-disk genesis into the engine representation
// and validates it against the summoning bounds.
func (g Genesis) GuildGenesis() (guild.Genesis, error) {
	out := guild.Genesis{
		PeriodDuration:     g.PeriodDuration,
		VotingPeriodLength: g.VotingPeriodLength,
		GracePeriodLength:  g.GracePeriodLength,
		DilutionBound:      g.DilutionBound,
	}
	summoner, err := crypto.DecodeAddress(g.Summoner)
	if err != nil {
		return guild.Genesis{}, fmt.Errorf("config: summoner: %w", err)
	}
	out.Summoner = summoner
	for _, raw := range g.ApprovedTokens {
		tokenAddr, err := crypto.DecodeAddress(raw)
		if err != nil {
			return guild.Genesis{}, fmt.Errorf("config: approved token %q: %w", raw, err)
		}
		out.ApprovedTokens = append(out.ApprovedTokens, tokenAddr)
	}
	deposit, err := parseAmount(g.ProposalDeposit)
	if err != nil {
		return guild.Genesis{}, fmt.Errorf("config: proposal deposit: %w", err)
	}
	out.ProposalDeposit = deposit
	reward, err := parseAmount(g.ProcessingReward)
	if err != nil {
		return guild.Genesis{}, fmt.Errorf("config: processing reward: %w", err)
	}
	out.ProcessingReward = reward
	if err := guild.ValidateGenesis(out); err != nil {
		return guild.Genesis{}, err
	}
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
