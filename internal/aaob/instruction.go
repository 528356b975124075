package aaob

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidInstruction = errors.New("aaob: invalid instruction")
	ErrInvalidLayout      = errors.New("aaob: invalid account layout")
	ErrInvalidArgument    = errors.New("aaob: invalid argument")
	ErrInvalidAuthority   = errors.New("aaob: caller authority mismatch")
	ErrAlreadyInitialized = errors.New("aaob: account already initialized")
	ErrOrderbookFull      = errors.New("aaob: orderbook is full")
	ErrEventQueueFull     = errors.New("aaob: event queue is full")
	ErrOrderNotFound      = errors.New("aaob: order not found")
	ErrMarketNotEmpty     = errors.New("aaob: market still has orders or events")
)

const (
	InstructionCreateMarket uint8 = iota
	InstructionNewOrder
	InstructionCancelOrder
	InstructionConsumeEvents
	InstructionCloseMarket
)

type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypeFillOrKill
	OrderTypePostOnly
)

type SelfTradeBehavior uint8

const (
	SelfTradeDecrementTake SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeAbortTransaction
)

type NewOrderParams struct {
	Side       Side
	OrderType  OrderType
	SelfTrade  SelfTradeBehavior
	LimitPrice uint64
	MaxBaseQty uint64
	// MaxQuoteQty bounds the quote amount a bid may reserve.
	MaxQuoteQty uint64
	MatchLimit  uint64
	Callback    solana.PublicKey
}

const newOrderParamsSize = 3 + 5 + 8*4 + 32

func (p *NewOrderParams) UnmarshalWithDecoder(dec *bin.Decoder) error {
	side, _ := dec.ReadUint8()
	orderType, _ := dec.ReadUint8()
	selfTrade, _ := dec.ReadUint8()
	_, _ = dec.ReadBytes(5)
	p.Side, p.OrderType, p.SelfTrade = Side(side), OrderType(orderType), SelfTradeBehavior(selfTrade)
	p.LimitPrice, _ = dec.ReadUint64(bin.LE)
	p.MaxBaseQty, _ = dec.ReadUint64(bin.LE)
	p.MaxQuoteQty, _ = dec.ReadUint64(bin.LE)
	p.MatchLimit, _ = dec.ReadUint64(bin.LE)
	callback, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	p.Callback = solana.PublicKeyFromBytes(callback)
	return nil
}

func (p NewOrderParams) MarshalWithEncoder(enc *bin.Encoder) error {
	_ = enc.WriteUint8(uint8(p.Side))
	_ = enc.WriteUint8(uint8(p.OrderType))
	_ = enc.WriteUint8(uint8(p.SelfTrade))
	_ = enc.WriteBytes(make([]byte, 5), false)
	_ = enc.WriteUint64(p.LimitPrice, bin.LE)
	_ = enc.WriteUint64(p.MaxBaseQty, bin.LE)
	_ = enc.WriteUint64(p.MaxQuoteQty, bin.LE)
	_ = enc.WriteUint64(p.MatchLimit, bin.LE)
	return enc.WriteBytes(p.Callback[:], false)
}

// OrderSummary is returned by NewOrder and CancelOrder through return data.
// For a cancel the quantities are what the order still had resting.
type OrderSummary struct {
	Posted   bool
	Side     Side
	OrderID  uint64
	BaseQty  uint64
	QuoteQty uint64
}

const OrderSummarySize = 8 + 8 + 8 + 8

func (s OrderSummary) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, OrderSummarySize))
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteBool(s.Posted)
	_ = enc.WriteUint8(uint8(s.Side))
	_ = enc.WriteBytes(make([]byte, 6), false)
	_ = enc.WriteUint64(s.OrderID, bin.LE)
	_ = enc.WriteUint64(s.BaseQty, bin.LE)
	_ = enc.WriteUint64(s.QuoteQty, bin.LE)
	return buf.Bytes()
}

func DecodeOrderSummary(data []byte) (OrderSummary, error) {
	if len(data) != OrderSummarySize {
		return OrderSummary{}, fmt.Errorf("%w: order summary of %d bytes", ErrInvalidInstruction, len(data))
	}
	dec := bin.NewBinDecoder(data)
	var s OrderSummary
	s.Posted, _ = dec.ReadBool()
	side, _ := dec.ReadUint8()
	s.Side = Side(side)
	_, _ = dec.ReadBytes(6)
	s.OrderID, _ = dec.ReadUint64(bin.LE)
	s.BaseQty, _ = dec.ReadUint64(bin.LE)
	s.QuoteQty, _ = dec.ReadUint64(bin.LE)
	return s, nil
}

func encode(tag uint8, payload ...any) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(tag)
	for _, p := range payload {
		switch v := p.(type) {
		case uint64:
			_ = enc.WriteUint64(v, bin.LE)
		case solana.PublicKey:
			_ = enc.WriteBytes(v[:], false)
		case NewOrderParams:
			_ = v.MarshalWithEncoder(enc)
		}
	}
	return buf.Bytes()
}

// NewCreateMarketInstruction initializes an orderbook and event queue that
// only callerAuthority may operate.
func NewCreateMarketInstruction(programID, orderbook, eventQueue, callerAuthority solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(orderbook, true, false),
		solana.NewAccountMeta(eventQueue, true, false),
	}, encode(InstructionCreateMarket, callerAuthority))
}

func NewNewOrderInstruction(programID, orderbook, eventQueue, authority solana.PublicKey, params NewOrderParams) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(orderbook, true, false),
		solana.NewAccountMeta(eventQueue, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, encode(InstructionNewOrder, params))
}

func NewCancelOrderInstruction(programID, orderbook, eventQueue, authority solana.PublicKey, orderID uint64) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(orderbook, true, false),
		solana.NewAccountMeta(eventQueue, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, encode(InstructionCancelOrder, orderID))
}

// NewConsumeEventsInstruction pops n events from the head of the queue.
func NewConsumeEventsInstruction(programID, orderbook, eventQueue, authority solana.PublicKey, n uint64) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(orderbook, false, false),
		solana.NewAccountMeta(eventQueue, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, encode(InstructionConsumeEvents, n))
}

func NewCloseMarketInstruction(programID, orderbook, eventQueue, authority, target solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(orderbook, true, false),
		solana.NewAccountMeta(eventQueue, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(target, true, false),
	}, encode(InstructionCloseMarket))
}
