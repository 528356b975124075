package dex

import (
	"github.com/coldbell/dex/settlement/internal/ledger"
)

// settle pays a user's free balances out of the vaults. With
// Policy.SettleLocked, locked balances of a user without open orders are paid
// out too.
func (p *Program) settle(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo) error {
	a, err := parseSettleAccounts(p.id, infos)
	if err != nil {
		return err
	}
	m, err := loadMarket(p.id, a.market)
	if err != nil {
		return err
	}
	if err := p.verifySigner(a.market, m, a.marketSigner); err != nil {
		return err
	}
	if err := checkKeys(
		keyCheck{a.baseVault, m.BaseVault, ErrInvalidBaseVault},
		keyCheck{a.quoteVault, m.QuoteVault, ErrInvalidQuoteVault},
	); err != nil {
		return err
	}

	return withUser(p.id, a.user, func(u *UserAccount) error {
		if err := checkUser(u, a.market.Key, a.userOwner); err != nil {
			return err
		}
		base, quote := u.BaseFree, u.QuoteFree
		withLocked := p.policy.SettleLocked && len(u.Orders) == 0
		if withLocked {
			base += u.BaseLocked
			quote += u.QuoteLocked
		}

		seeds := signerSeeds(a.market.Key, m)
		if err := transferFromVault(ictx, a.quoteVault, a.destinationQuote, a.marketSigner, quote, seeds); err != nil {
			return err
		}
		if err := transferFromVault(ictx, a.baseVault, a.destinationBase, a.marketSigner, base, seeds); err != nil {
			return err
		}

		u.BaseFree, u.QuoteFree = 0, 0
		if withLocked {
			u.BaseLocked, u.QuoteLocked = 0, 0
		}
		ictx.Log("settled", "base", base, "quote", quote)
		return nil
	})
}
