package dex

import (
	"fmt"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) cancelOrder(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo, params *CancelOrderParams) error {
	a, err := parseCancelOrderAccounts(p.id, infos)
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
		keyCheck{a.aaobProgram, m.AaobProgram, ErrInvalidAaobProgram},
		keyCheck{a.orderbook, m.Orderbook, ErrInvalidOrderbook},
		keyCheck{a.eventQueue, m.EventQueue, ErrInvalidEventQueue},
	); err != nil {
		return err
	}

	return withUser(p.id, a.user, func(u *UserAccount) error {
		if err := checkUser(u, a.market.Key, a.userOwner); err != nil {
			return err
		}
		if !u.HasOrder(params.OrderID) {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, params.OrderID)
		}

		ix := aaob.NewCancelOrderInstruction(m.AaobProgram, m.Orderbook, m.EventQueue, a.marketSigner.Key, params.OrderID)
		if err := ictx.Invoke(ix, signerSeeds(a.market.Key, m)); err != nil {
			return err
		}
		summary, err := p.orderSummary(ictx, m)
		if err != nil {
			return err
		}

		if summary.Side == aaob.SideBid {
			err = unlock(&u.QuoteFree, &u.QuoteLocked, summary.QuoteQty)
		} else {
			err = unlock(&u.BaseFree, &u.BaseLocked, summary.BaseQty)
		}
		if err != nil {
			return err
		}
		u.RemoveOrder(params.OrderID)
		ictx.Log("order cancelled", "order_id", params.OrderID, "side", summary.Side)
		return ictx.SetReturnData(summary.Bytes())
	})
}
