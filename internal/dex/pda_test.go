package dex

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestMarketSignerRoundTrip(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	for range 32 {
		market := solana.NewWallet().PublicKey()
		signer, nonce, err := DeriveMarketSigner(programID, market, DefaultSignerNonceAttempts)
		require.NoError(t, err)
		require.NoError(t, VerifyMarketSigner(programID, market, uint64(nonce), signer))

		again, againNonce, err := DeriveMarketSigner(programID, market, DefaultSignerNonceAttempts)
		require.NoError(t, err)
		require.Equal(t, signer, again)
		require.Equal(t, nonce, againNonce)
	}
}

func TestVerifyMarketSignerRejects(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	market := solana.NewWallet().PublicKey()
	signer, nonce := MustDeriveMarketSigner(programID, market)

	err := VerifyMarketSigner(programID, market, uint64(nonce), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrInvalidMarketSigner)

	err = VerifyMarketSigner(programID, solana.NewWallet().PublicKey(), uint64(nonce), signer)
	require.ErrorIs(t, err, ErrInvalidMarketSigner)

	err = VerifyMarketSigner(programID, market, 256, signer)
	require.ErrorIs(t, err, ErrInvalidMarketSigner)
	require.Equal(t, ArgumentError, KindOf(err))
}

func TestUserAccountAddress(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	market := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	key, bump, err := DeriveUserAccount(programID, market, owner)
	require.NoError(t, err)
	require.Equal(t, key, MustDeriveUserAccount(programID, market, owner))

	again, err := solana.CreateProgramAddress(append(UserAccountSeeds(market, owner), []byte{bump}), programID)
	require.NoError(t, err)
	require.Equal(t, key, again)
	require.NotEqual(t, key, MustDeriveUserAccount(programID, solana.NewWallet().PublicKey(), owner))
}
