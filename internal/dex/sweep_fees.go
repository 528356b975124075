package dex

import (
	"fmt"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) sweepFees(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo) error {
	a, err := parseSweepFeesAccounts(p.id, infos)
	if err != nil {
		return err
	}
	m, err := loadMarket(p.id, a.market)
	if err != nil {
		return err
	}
	if err := checkKeys(
		keyCheck{a.admin, m.Admin, ErrInvalidMarketAdmin},
		keyCheck{a.quoteVault, m.QuoteVault, ErrInvalidQuoteVault},
	); err != nil {
		return err
	}
	if err := p.verifySigner(a.market, m, a.marketSigner); err != nil {
		return err
	}
	if m.AccumulatedFees == 0 {
		return fmt.Errorf("%w: no fees to sweep", ErrNoOp)
	}

	amount := m.AccumulatedFees
	if err := transferFromVault(ictx, a.quoteVault, a.destination, a.marketSigner, amount, signerSeeds(a.market.Key, m)); err != nil {
		return err
	}
	m.AccumulatedFees = 0
	if err := m.WriteTo(a.market.Data()); err != nil {
		return err
	}
	ictx.Log("fees swept", "amount", amount, "destination", a.destination.Key)
	return nil
}
