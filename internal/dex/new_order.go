package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

func (p *Program) newOrder(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo, params *NewOrderParams) error {
	a, err := parseNewOrderAccounts(p.id, infos)
	if err != nil {
		return err
	}
	return withMarket(p.id, a.market, func(m *MarketState) error {
		if err := p.verifySigner(a.market, m, a.marketSigner); err != nil {
			return err
		}
		if err := checkKeys(
			keyCheck{a.aaobProgram, m.AaobProgram, ErrInvalidAaobProgram},
			keyCheck{a.orderbook, m.Orderbook, ErrInvalidOrderbook},
			keyCheck{a.eventQueue, m.EventQueue, ErrInvalidEventQueue},
			keyCheck{a.baseVault, m.BaseVault, ErrInvalidBaseVault},
			keyCheck{a.quoteVault, m.QuoteVault, ErrInvalidQuoteVault},
		); err != nil {
			return err
		}
		if err := validateOrder(m, params); err != nil {
			return err
		}

		return withUser(p.id, a.user, func(u *UserAccount) error {
			if err := checkUser(u, a.market.Key, a.userOwner); err != nil {
				return err
			}
			if len(u.Orders) >= u.MaxOrders() {
				return ErrUserAccountFull
			}

			wantMint, vault := m.QuoteMint, a.quoteVault
			free, locked := &u.QuoteFree, &u.QuoteLocked
			if params.Side == aaob.SideAsk {
				wantMint, vault = m.BaseMint, a.baseVault
				free, locked = &u.BaseFree, &u.BaseLocked
			}
			source, err := ledger.DecodeTokenAccount(a.userTokenAccount)
			if err != nil || !source.Mint.Equals(wantMint) {
				return fmt.Errorf("%w: %s", ErrInvalidUserToken, a.userTokenAccount.Key)
			}

			ix := aaob.NewNewOrderInstruction(m.AaobProgram, m.Orderbook, m.EventQueue, a.marketSigner.Key, aaob.NewOrderParams{
				Side:        params.Side,
				OrderType:   params.OrderType,
				SelfTrade:   params.SelfTrade,
				LimitPrice:  params.LimitPrice,
				MaxBaseQty:  params.MaxBaseQty,
				MaxQuoteQty: params.MaxQuoteQty,
				MatchLimit:  params.MatchLimit,
				Callback:    a.user.Key,
			})
			if err := ictx.Invoke(ix, signerSeeds(a.market.Key, m)); err != nil {
				return err
			}
			summary, err := p.orderSummary(ictx, m)
			if err != nil {
				return err
			}

			if summary.Posted {
				amount := summary.QuoteQty
				if params.Side == aaob.SideAsk {
					amount = summary.BaseQty
				}
				fromFree := min(*free, amount)
				if err := transferToVault(ictx, a.userTokenAccount, vault, a.userOwner, amount-fromFree); err != nil {
					return err
				}
				*free -= fromFree
				if err := credit(locked, amount); err != nil {
					return err
				}
				if err := u.AddOrder(summary.OrderID); err != nil {
					return err
				}
			}

			if m.CrankerReward > 0 {
				deposit := system.NewTransferInstruction(m.CrankerReward, a.userOwner.Key, a.market.Key).Build()
				if err := ictx.Invoke(deposit); err != nil {
					return err
				}
				if err := credit(&m.FeeBudget, m.CrankerReward); err != nil {
					return err
				}
			}
			ictx.Log("new order",
				"side", params.Side,
				"posted", summary.Posted,
				"order_id", summary.OrderID,
				"base", summary.BaseQty,
				"quote", summary.QuoteQty,
			)
			return ictx.SetReturnData(summary.Bytes())
		})
	})
}

func validateOrder(m *MarketState, params *NewOrderParams) error {
	switch {
	case params.Side > aaob.SideAsk:
		return fmt.Errorf("%w: side %d", ErrInvalidOrderParams, params.Side)
	case params.OrderType > aaob.OrderTypePostOnly:
		return fmt.Errorf("%w: order type %d", ErrInvalidOrderParams, params.OrderType)
	case params.SelfTrade > aaob.SelfTradeAbortTransaction:
		return fmt.Errorf("%w: self trade behavior %d", ErrInvalidOrderParams, params.SelfTrade)
	case params.LimitPrice == 0:
		return fmt.Errorf("%w: zero limit price", ErrInvalidOrderParams)
	case params.MaxBaseQty == 0 || params.MaxBaseQty < m.MinBaseOrderSize:
		return fmt.Errorf("%w: base size %d below minimum %d", ErrInvalidOrderParams, params.MaxBaseQty, m.MinBaseOrderSize)
	}
	return nil
}

// orderSummary reads the summary the matching program left in return data.
func (p *Program) orderSummary(ictx *ledger.InvokeContext, m *MarketState) (aaob.OrderSummary, error) {
	program, data := ictx.ReturnData()
	if !program.Equals(m.AaobProgram) {
		return aaob.OrderSummary{}, fmt.Errorf("%w: no order summary returned", ErrInvalidAaobProgram)
	}
	summary, err := aaob.DecodeOrderSummary(data)
	if err != nil {
		return aaob.OrderSummary{}, fmt.Errorf("%w: %v", ErrInvalidAaobProgram, err)
	}
	return summary, nil
}
