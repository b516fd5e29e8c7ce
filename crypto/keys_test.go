package crypto

import "testing"

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.IsZero() {
		t.Fatalf("derived address should not be zero")
	}
	encoded := addr.String()
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode %q: %v", encoded, err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
	if decoded.Prefix() != GuildPrefix {
		t.Fatalf("prefix = %q, want %q", decoded.Prefix(), GuildPrefix)
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !restored.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatalf("restored key derives a different address")
	}
}

func TestModuleAddressesAreDistinct(t *testing.T) {
	accounts := []Address{
		GuildVaultAddress(),
		EscrowVaultAddress(),
		TotalSentinelAddress(),
		GuildContractAddress(),
	}
	for i := range accounts {
		if accounts[i].IsZero() {
			t.Fatalf("module address %d is zero", i)
		}
		for j := i + 1; j < len(accounts); j++ {
			if accounts[i].Equal(accounts[j]) {
				t.Fatalf("module addresses %d and %d collide", i, j)
			}
		}
	}
	// Derivation is deterministic.
	if !GuildVaultAddress().Equal(GuildVaultAddress()) {
		t.Fatalf("module derivation is not deterministic")
	}
}
