package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const DefaultSignerNonceAttempts = 256

// MarketSignerSeeds are the seeds the market signer is derived from.
func MarketSignerSeeds(market solana.PublicKey, nonce uint8) [][]byte {
	return [][]byte{market.Bytes(), {nonce}}
}

// DeriveMarketSigner searches nonces downward from 255 for an address off the
// curve, trying at most attempts candidates.
func DeriveMarketSigner(programID, market solana.PublicKey, attempts int) (solana.PublicKey, uint8, error) {
	if attempts <= 0 || attempts > DefaultSignerNonceAttempts {
		attempts = DefaultSignerNonceAttempts
	}
	for i := range attempts {
		nonce := uint8(255 - i)
		key, err := solana.CreateProgramAddress(MarketSignerSeeds(market, nonce), programID)
		if err == nil {
			return key, nonce, nil
		}
	}
	return solana.PublicKey{}, 0, fmt.Errorf("%w: market %s after %d attempts", ErrSignerDerivation, market, attempts)
}

// VerifyMarketSigner re-derives the market signer from the stored nonce and
// compares it with the supplied account.
func VerifyMarketSigner(programID, market solana.PublicKey, nonce uint64, supplied solana.PublicKey) error {
	if nonce > 255 {
		return fmt.Errorf("%w: nonce %d", ErrInvalidMarketSigner, nonce)
	}
	key, err := solana.CreateProgramAddress(MarketSignerSeeds(market, uint8(nonce)), programID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMarketSigner, err)
	}
	if !key.Equals(supplied) {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidMarketSigner, key, supplied)
	}
	return nil
}

func UserAccountSeeds(market, owner solana.PublicKey) [][]byte {
	return [][]byte{market.Bytes(), owner.Bytes()}
}

func DeriveUserAccount(programID, market, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(UserAccountSeeds(market, owner), programID)
}

func MustDeriveUserAccount(programID, market, owner solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveUserAccount(programID, market, owner)
	if err != nil {
		panic(fmt.Errorf("derive user account: %w", err))
	}
	return pk
}

func MustDeriveMarketSigner(programID, market solana.PublicKey) (solana.PublicKey, uint8) {
	pk, nonce, err := DeriveMarketSigner(programID, market, DefaultSignerNonceAttempts)
	if err != nil {
		panic(fmt.Errorf("derive market signer: %w", err))
	}
	return pk, nonce
}
