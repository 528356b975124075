package dex

import (
	"fmt"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) createMarket(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo, params *CreateMarketParams) error {
	a, err := parseCreateMarketAccounts(p.id, infos)
	if err != nil {
		return err
	}
	m, err := DecodeMarketState(a.market.Data())
	if err != nil {
		return err
	}
	if m.Tag != TagUninitialized {
		return fmt.Errorf("%w: market %s", ErrAlreadyInitialized, a.market.Key)
	}
	if params.FeeBps > FeeBpsDenom {
		return fmt.Errorf("%w: fee of %d bps", ErrInvalidMarketParams, params.FeeBps)
	}

	signer, nonce, err := DeriveMarketSigner(p.id, a.market.Key, p.policy.SignerNonceAttempts)
	if err != nil {
		return err
	}

	ob, err := aaob.DecodeOrderbook(a.orderbook.Data())
	if err != nil || ob.Tag != aaob.TagOrderbook {
		return fmt.Errorf("%w: %s", ErrOrderbookNotReady, a.orderbook.Key)
	}
	if !ob.CallerAuthority.Equals(signer) {
		return fmt.Errorf("%w: %s", ErrInvalidOrderbookAuth, ob.CallerAuthority)
	}

	baseVault, err := ledger.DecodeTokenAccount(a.baseVault)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseVault, err)
	}
	quoteVault, err := ledger.DecodeTokenAccount(a.quoteVault)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuoteVault, err)
	}
	if !baseVault.Owner.Equals(signer) || !quoteVault.Owner.Equals(signer) {
		return ErrInvalidVaultAuthority
	}
	if baseVault.Mint.Equals(quoteVault.Mint) {
		return fmt.Errorf("%w: base and quote share mint %s", ErrInvalidMarketParams, baseVault.Mint)
	}

	*m = MarketState{
		Tag:              TagMarket,
		SignerNonce:      uint64(nonce),
		BaseMint:         baseVault.Mint,
		QuoteMint:        quoteVault.Mint,
		BaseVault:        a.baseVault.Key,
		QuoteVault:       a.quoteVault.Key,
		Orderbook:        a.orderbook.Key,
		EventQueue:       ob.EventQueue,
		AaobProgram:      a.aaobProgram.Key,
		Admin:            a.admin.Key,
		CrankerReward:    params.CrankerReward,
		FeeBps:           params.FeeBps,
		MinBaseOrderSize: params.MinBaseOrderSize,
	}
	if err := m.WriteTo(a.market.Data()); err != nil {
		return err
	}
	ictx.Log("market created", "market", a.market.Key, "signer_nonce", nonce, "fee_bps", params.FeeBps)
	return nil
}
