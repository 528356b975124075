package dex

import (
	"fmt"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

// closeMarket tears down an empty market: the matching program closes its book
// and queue, and the market record is drained into target and marked closed.
func (p *Program) closeMarket(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo) error {
	a, err := parseCloseMarketAccounts(p.id, infos)
	if err != nil {
		return err
	}
	m, err := loadMarket(p.id, a.market)
	if err != nil {
		return err
	}
	if err := checkKeys(
		keyCheck{a.admin, m.Admin, ErrInvalidMarketAdmin},
		keyCheck{a.aaobProgram, m.AaobProgram, ErrInvalidAaobProgram},
		keyCheck{a.orderbook, m.Orderbook, ErrInvalidOrderbook},
		keyCheck{a.eventQueue, m.EventQueue, ErrInvalidEventQueue},
		keyCheck{a.baseVault, m.BaseVault, ErrInvalidBaseVault},
		keyCheck{a.quoteVault, m.QuoteVault, ErrInvalidQuoteVault},
	); err != nil {
		return err
	}
	if err := p.verifySigner(a.market, m, a.marketSigner); err != nil {
		return err
	}
	if err := checkMarketEmpty(m, a); err != nil {
		return err
	}

	ix := aaob.NewCloseMarketInstruction(m.AaobProgram, m.Orderbook, m.EventQueue, a.marketSigner.Key, a.target.Key)
	if err := ictx.Invoke(ix, signerSeeds(a.market.Key, m)); err != nil {
		return err
	}

	if err := closeInto(ictx, a.market, a.target); err != nil {
		return err
	}
	closed := MarketState{Tag: TagClosed}
	return closed.WriteTo(a.market.Data())
}

func checkMarketEmpty(m *MarketState, a *closeMarketAccounts) error {
	for _, vault := range []*ledger.AccountInfo{a.baseVault, a.quoteVault} {
		acct, err := ledger.DecodeTokenAccount(vault)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTokenAccount, err)
		}
		if acct.Amount != 0 {
			return fmt.Errorf("%w: vault %s holds %d", ErrMarketNotEmpty, vault.Key, acct.Amount)
		}
	}
	if m.AccumulatedFees != 0 {
		return fmt.Errorf("%w: %d unswept fees", ErrMarketNotEmpty, m.AccumulatedFees)
	}
	ob, err := aaob.DecodeOrderbook(a.orderbook.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrderbook, err)
	}
	queue, err := aaob.LoadEventQueue(a.eventQueue.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEventQueue, err)
	}
	if len(ob.Orders) != 0 || queue.Len() != 0 {
		return fmt.Errorf("%w: %d resting orders, %d queued events", ErrMarketNotEmpty, len(ob.Orders), queue.Len())
	}
	return nil
}
