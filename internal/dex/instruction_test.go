package dex

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/aaob"
)

func TestDecodeInstruction(t *testing.T) {
	market := solana.NewWallet().PublicKey()
	for _, ix := range []Instruction{
		&NewOrderParams{Side: aaob.SideAsk, OrderType: aaob.OrderTypePostOnly, LimitPrice: 7, MaxBaseQty: 3, MaxQuoteQty: 21, MatchLimit: 5},
		&InitializeAccountParams{Market: market, MaxOrders: 16},
		&CloseMarketParams{},
	} {
		data, err := EncodeInstruction(ix)
		require.NoError(t, err)
		require.Len(t, data, 8+ix.size())

		decoded, err := DecodeInstruction(data)
		require.NoError(t, err)
		require.Equal(t, ix, decoded)
	}
}

func TestDecodeInstructionRejects(t *testing.T) {
	settle, err := EncodeInstruction(&SettleParams{})
	require.NoError(t, err)
	cancel, err := EncodeInstruction(&CancelOrderParams{OrderID: 1})
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":            nil,
		"short tag":        {4, 0, 0},
		"unknown tag":      {99, 0, 0, 0, 0, 0, 0, 0},
		"trailing payload": append(settle, 0),
		"truncated":        cancel[:len(cancel)-1],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInstruction(data)
			require.ErrorIs(t, err, ErrInvalidInstruction)
			require.Equal(t, StructuralError, KindOf(err))
		})
	}
}

func TestCloseMarketHasItsOwnTag(t *testing.T) {
	closeAccount, err := EncodeInstruction(&CloseAccountParams{})
	require.NoError(t, err)
	closeMarket, err := EncodeInstruction(&CloseMarketParams{})
	require.NoError(t, err)
	require.NotEqual(t, closeAccount, closeMarket)
	require.Equal(t, "CloseMarket", TagCloseMarket.String())
}
