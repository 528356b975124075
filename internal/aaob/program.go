// Package aaob is the asset-agnostic orderbook the dex delegates order
// placement to. The book only rests orders; fills and outs are published to
// the event queue by a matcher (see Fill and Expire) and drained by the
// book's caller authority.
package aaob

import (
	"fmt"
	"math/bits"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

const (
	newOrderUnits     = 4_000
	cancelOrderUnits  = 2_000
	consumeBaseUnits  = 500
	consumeEventUnits = 100
	marketUnits       = 1_000
)

type Program struct {
	id solana.PublicKey
}

func New(programID solana.PublicKey) *Program {
	return &Program{id: programID}
}

func (p *Program) ProgramID() solana.PublicKey { return p.id }

func (p *Program) Process(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}
	dec := bin.NewBinDecoder(data[1:])
	switch data[0] {
	case InstructionCreateMarket:
		if len(data) != 1+32 {
			return fmt.Errorf("%w: create market payload", ErrInvalidInstruction)
		}
		authority, _ := dec.ReadBytes(solana.PublicKeyLength)
		return p.createMarket(ictx, accounts, solana.PublicKeyFromBytes(authority))
	case InstructionNewOrder:
		if len(data) != 1+newOrderParamsSize {
			return fmt.Errorf("%w: new order payload", ErrInvalidInstruction)
		}
		var params NewOrderParams
		if err := params.UnmarshalWithDecoder(dec); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}
		return p.newOrder(ictx, accounts, params)
	case InstructionCancelOrder:
		if len(data) != 1+8 {
			return fmt.Errorf("%w: cancel order payload", ErrInvalidInstruction)
		}
		orderID, _ := dec.ReadUint64(bin.LE)
		return p.cancelOrder(ictx, accounts, orderID)
	case InstructionConsumeEvents:
		if len(data) != 1+8 {
			return fmt.Errorf("%w: consume events payload", ErrInvalidInstruction)
		}
		n, _ := dec.ReadUint64(bin.LE)
		return p.consumeEvents(ictx, accounts, n)
	case InstructionCloseMarket:
		if len(data) != 1 {
			return fmt.Errorf("%w: close market payload", ErrInvalidInstruction)
		}
		return p.closeMarket(ictx, accounts)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, data[0])
	}
}

func (p *Program) createMarket(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, authority solana.PublicKey) error {
	if err := ictx.Consume(marketUnits); err != nil {
		return err
	}
	if len(accounts) != 2 {
		return ledger.ErrNotEnoughAccountKeys
	}
	obInfo, eqInfo := accounts[0], accounts[1]
	for _, info := range accounts {
		if !info.Owner().Equals(p.id) || !info.IsWritable {
			return fmt.Errorf("%w: %s", ErrInvalidArgument, info.Key)
		}
	}
	ob, err := DecodeOrderbook(obInfo.Data())
	if err != nil {
		return err
	}
	eq, err := LoadEventQueue(eqInfo.Data())
	if err != nil {
		return err
	}
	if ob.Tag != TagUninitialized || eq.Tag != TagUninitialized {
		return ErrAlreadyInitialized
	}

	ob.Tag = TagOrderbook
	ob.CallerAuthority = authority
	ob.EventQueue = eqInfo.Key
	ob.NextOrderID = 1
	if err := ob.Write(obInfo.Data()); err != nil {
		return err
	}
	eq.Tag = TagEventQueue
	eq.flush()
	ictx.Log("market created", "orderbook", obInfo.Key, "authority", authority)
	return nil
}

// bookAccounts resolves the orderbook, event queue and authority slots shared
// by every caller-operated instruction.
func (p *Program) bookAccounts(accounts []*ledger.AccountInfo, want int) (*Orderbook, *EventQueue, error) {
	if len(accounts) != want {
		return nil, nil, ledger.ErrNotEnoughAccountKeys
	}
	obInfo, eqInfo, authority := accounts[0], accounts[1], accounts[2]
	if !obInfo.Owner().Equals(p.id) || !eqInfo.Owner().Equals(p.id) {
		return nil, nil, fmt.Errorf("%w: book accounts not owned by %s", ErrInvalidArgument, p.id)
	}
	ob, err := DecodeOrderbook(obInfo.Data())
	if err != nil {
		return nil, nil, err
	}
	if ob.Tag != TagOrderbook {
		return nil, nil, fmt.Errorf("%w: orderbook tag %d", ErrInvalidLayout, ob.Tag)
	}
	if !ob.EventQueue.Equals(eqInfo.Key) {
		return nil, nil, fmt.Errorf("%w: event queue %s", ErrInvalidArgument, eqInfo.Key)
	}
	if !ob.CallerAuthority.Equals(authority.Key) || !authority.IsSigner {
		return nil, nil, ErrInvalidAuthority
	}
	eq, err := LoadEventQueue(eqInfo.Data())
	if err != nil {
		return nil, nil, err
	}
	return ob, eq, nil
}

func (p *Program) newOrder(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, params NewOrderParams) error {
	if err := ictx.Consume(newOrderUnits); err != nil {
		return err
	}
	ob, _, err := p.bookAccounts(accounts, 3)
	if err != nil {
		return err
	}
	if params.Side > SideAsk || params.OrderType > OrderTypePostOnly || params.SelfTrade > SelfTradeAbortTransaction {
		return fmt.Errorf("%w: order kind", ErrInvalidArgument)
	}
	if params.LimitPrice == 0 || params.MaxBaseQty == 0 {
		return fmt.Errorf("%w: zero price or size", ErrInvalidArgument)
	}

	base := params.MaxBaseQty
	hi, quote := bits.Mul64(base, params.LimitPrice)
	if params.Side == SideBid && (hi != 0 || quote > params.MaxQuoteQty) {
		base = params.MaxQuoteQty / params.LimitPrice
		quote = base * params.LimitPrice
	} else if hi != 0 {
		return fmt.Errorf("%w: order value overflows", ErrInvalidArgument)
	}
	if base == 0 {
		return fmt.Errorf("%w: order rounds to zero size", ErrInvalidArgument)
	}

	// Nothing rests on the other side, so orders that must not post are done.
	if params.OrderType == OrderTypeImmediateOrCancel || params.OrderType == OrderTypeFillOrKill {
		return ictx.SetReturnData(OrderSummary{Side: params.Side}.Bytes())
	}
	if len(ob.Orders) == ob.Capacity() {
		return ErrOrderbookFull
	}

	order := Order{
		OrderID:  ob.NextOrderID,
		Side:     params.Side,
		Price:    params.LimitPrice,
		BaseQty:  base,
		QuoteQty: quote,
		Callback: params.Callback,
	}
	ob.NextOrderID++
	ob.Orders = append(ob.Orders, order)
	if err := ob.Write(accounts[0].Data()); err != nil {
		return err
	}
	ictx.Log("order posted", "id", order.OrderID, "side", order.Side, "base", base, "quote", quote)
	return ictx.SetReturnData(OrderSummary{Posted: true, Side: order.Side, OrderID: order.OrderID, BaseQty: base, QuoteQty: quote}.Bytes())
}

func (p *Program) cancelOrder(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, orderID uint64) error {
	if err := ictx.Consume(cancelOrderUnits); err != nil {
		return err
	}
	ob, _, err := p.bookAccounts(accounts, 3)
	if err != nil {
		return err
	}
	i, ok := ob.Find(orderID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := ob.remove(i)
	if err := ob.Write(accounts[0].Data()); err != nil {
		return err
	}
	return ictx.SetReturnData(OrderSummary{Side: order.Side, OrderID: order.OrderID, BaseQty: order.BaseQty, QuoteQty: order.QuoteQty}.Bytes())
}

func (p *Program) consumeEvents(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo, n uint64) error {
	if err := ictx.Consume(consumeBaseUnits + consumeEventUnits*min(n, 1<<20)); err != nil {
		return err
	}
	_, eq, err := p.bookAccounts(accounts, 3)
	if err != nil {
		return err
	}
	return eq.Pop(n)
}

func (p *Program) closeMarket(ictx *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if err := ictx.Consume(marketUnits); err != nil {
		return err
	}
	if len(accounts) != 4 {
		return ledger.ErrNotEnoughAccountKeys
	}
	ob, eq, err := p.bookAccounts(accounts[:3], 3)
	if err != nil {
		return err
	}
	if len(ob.Orders) != 0 || eq.Len() != 0 {
		return ErrMarketNotEmpty
	}
	target := accounts[3]
	for _, info := range accounts[:2] {
		if err := target.CheckedAddLamports(info.Lamports()); err != nil {
			return err
		}
		info.SetLamports(0)
		info.ZeroData()
	}
	ictx.Log("market closed", "orderbook", accounts[0].Key)
	return nil
}
