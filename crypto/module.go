package crypto

import "lukechampine.com/blake3"

// Module account seeds. The reserved pseudo-accounts are derived rather than
// hard-coded so no participant key can collide with them.
const (
	guildVaultSeed    = "module/guild/vault"
	escrowVaultSeed   = "module/guild/escrow"
	totalSentinelSeed = "module/guild/total"
	guildContractSeed = "module/guild/contract"
)

// ModuleAddress derives a deterministic module account from a domain-separated
// seed string.
func ModuleAddress(seed string) Address {
	digest := blake3.Sum256([]byte(seed))
	return AddressFromRaw(digest)
}

// GuildVaultAddress returns the reserved account holding pooled guild funds.
func GuildVaultAddress() Address { return ModuleAddress(guildVaultSeed) }

// EscrowVaultAddress returns the reserved account holding in-flight tributes
// and sponsor deposits.
func EscrowVaultAddress() Address { return ModuleAddress(escrowVaultSeed) }

// TotalSentinelAddress returns the reserved account used as the per-token sum
// check row in the internal ledger. It never holds withdrawable funds.
func TotalSentinelAddress() Address { return ModuleAddress(totalSentinelSeed) }

// GuildContractAddress returns the account that holds escrowed external token
// balances on behalf of the guild.
func GuildContractAddress() Address { return ModuleAddress(guildContractSeed) }
