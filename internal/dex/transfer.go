package dex

import (
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

// transferFromVault moves amount out of a vault, signed by the market signer.
// Zero amounts are not sent.
func transferFromVault(ictx *ledger.InvokeContext, vault, destination, marketSigner *ledger.AccountInfo, amount uint64, seeds [][]byte) error {
	if amount == 0 {
		return nil
	}
	ix := token.NewTransferInstruction(amount, vault.Key, destination.Key, marketSigner.Key, nil).Build()
	return ictx.Invoke(ix, seeds)
}

// transferToVault moves amount from a trader's token account into a vault,
// signed by the trader.
func transferToVault(ictx *ledger.InvokeContext, source, vault, owner *ledger.AccountInfo, amount uint64) error {
	if amount == 0 {
		return nil
	}
	ix := token.NewTransferInstruction(amount, source.Key, vault.Key, owner.Key, nil).Build()
	return ictx.Invoke(ix)
}
