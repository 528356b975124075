package dex

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/aaob"
)

// Tag is the 8-byte opcode that prefixes every instruction.
type Tag uint64

const (
	TagCreateMarket Tag = iota
	TagNewOrder
	TagCancelOrder
	TagConsumeEvents
	TagSettle
	TagInitializeAccount
	TagSweepFees
	TagCloseAccount
	TagCloseMarket
)

func (t Tag) String() string {
	switch t {
	case TagCreateMarket:
		return "CreateMarket"
	case TagNewOrder:
		return "NewOrder"
	case TagCancelOrder:
		return "CancelOrder"
	case TagConsumeEvents:
		return "ConsumeEvents"
	case TagSettle:
		return "Settle"
	case TagInitializeAccount:
		return "InitializeAccount"
	case TagSweepFees:
		return "SweepFees"
	case TagCloseAccount:
		return "CloseAccount"
	case TagCloseMarket:
		return "CloseMarket"
	default:
		return fmt.Sprintf("Tag(%d)", uint64(t))
	}
}

// Instruction is a decoded instruction payload.
type Instruction interface {
	Tag() Tag
	size() int
	decode(dec *bin.Decoder) error
	encode(enc *bin.Encoder) error
}

type CreateMarketParams struct {
	CrankerReward    uint64
	FeeBps           uint64
	MinBaseOrderSize uint64
}

func (*CreateMarketParams) Tag() Tag  { return TagCreateMarket }
func (*CreateMarketParams) size() int { return 24 }

func (p *CreateMarketParams) decode(dec *bin.Decoder) error {
	return readUint64s(dec, &p.CrankerReward, &p.FeeBps, &p.MinBaseOrderSize)
}

func (p *CreateMarketParams) encode(enc *bin.Encoder) error {
	return writeUint64s(enc, p.CrankerReward, p.FeeBps, p.MinBaseOrderSize)
}

type NewOrderParams struct {
	Side        aaob.Side
	OrderType   aaob.OrderType
	SelfTrade   aaob.SelfTradeBehavior
	LimitPrice  uint64
	MaxBaseQty  uint64
	MaxQuoteQty uint64
	MatchLimit  uint64
}

func (*NewOrderParams) Tag() Tag  { return TagNewOrder }
func (*NewOrderParams) size() int { return 40 }

func (p *NewOrderParams) decode(dec *bin.Decoder) error {
	raw, err := dec.ReadBytes(8)
	if err != nil {
		return err
	}
	p.Side, p.OrderType, p.SelfTrade = aaob.Side(raw[0]), aaob.OrderType(raw[1]), aaob.SelfTradeBehavior(raw[2])
	return readUint64s(dec, &p.LimitPrice, &p.MaxBaseQty, &p.MaxQuoteQty, &p.MatchLimit)
}

func (p *NewOrderParams) encode(enc *bin.Encoder) error {
	head := [8]byte{uint8(p.Side), uint8(p.OrderType), uint8(p.SelfTrade)}
	if err := enc.WriteBytes(head[:], false); err != nil {
		return err
	}
	return writeUint64s(enc, p.LimitPrice, p.MaxBaseQty, p.MaxQuoteQty, p.MatchLimit)
}

type CancelOrderParams struct {
	OrderID uint64
}

func (*CancelOrderParams) Tag() Tag                        { return TagCancelOrder }
func (*CancelOrderParams) size() int                       { return 8 }
func (p *CancelOrderParams) decode(dec *bin.Decoder) error { return readUint64s(dec, &p.OrderID) }
func (p *CancelOrderParams) encode(enc *bin.Encoder) error { return writeUint64s(enc, p.OrderID) }

type ConsumeEventsParams struct {
	MaxIterations uint64
	// NoOpErr makes a call that processes nothing fail with ErrNoOp.
	NoOpErr uint64
}

func (*ConsumeEventsParams) Tag() Tag  { return TagConsumeEvents }
func (*ConsumeEventsParams) size() int { return 16 }

func (p *ConsumeEventsParams) decode(dec *bin.Decoder) error {
	return readUint64s(dec, &p.MaxIterations, &p.NoOpErr)
}

func (p *ConsumeEventsParams) encode(enc *bin.Encoder) error {
	return writeUint64s(enc, p.MaxIterations, p.NoOpErr)
}

type InitializeAccountParams struct {
	Market    solana.PublicKey
	MaxOrders uint64
}

func (*InitializeAccountParams) Tag() Tag  { return TagInitializeAccount }
func (*InitializeAccountParams) size() int { return 40 }

func (p *InitializeAccountParams) decode(dec *bin.Decoder) error {
	raw, err := dec.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	p.Market = solana.PublicKeyFromBytes(raw)
	return readUint64s(dec, &p.MaxOrders)
}

func (p *InitializeAccountParams) encode(enc *bin.Encoder) error {
	if err := enc.WriteBytes(p.Market[:], false); err != nil {
		return err
	}
	return writeUint64s(enc, p.MaxOrders)
}

type emptyPayload struct{}

func (emptyPayload) size() int                 { return 0 }
func (emptyPayload) decode(*bin.Decoder) error { return nil }
func (emptyPayload) encode(*bin.Encoder) error { return nil }

type (
	SettleParams       struct{ emptyPayload }
	SweepFeesParams    struct{ emptyPayload }
	CloseAccountParams struct{ emptyPayload }
	CloseMarketParams  struct{ emptyPayload }
)

func (*SettleParams) Tag() Tag       { return TagSettle }
func (*SweepFeesParams) Tag() Tag    { return TagSweepFees }
func (*CloseAccountParams) Tag() Tag { return TagCloseAccount }
func (*CloseMarketParams) Tag() Tag  { return TagCloseMarket }

func newInstruction(tag Tag) (Instruction, bool) {
	switch tag {
	case TagCreateMarket:
		return &CreateMarketParams{}, true
	case TagNewOrder:
		return &NewOrderParams{}, true
	case TagCancelOrder:
		return &CancelOrderParams{}, true
	case TagConsumeEvents:
		return &ConsumeEventsParams{}, true
	case TagSettle:
		return &SettleParams{}, true
	case TagInitializeAccount:
		return &InitializeAccountParams{}, true
	case TagSweepFees:
		return &SweepFeesParams{}, true
	case TagCloseAccount:
		return &CloseAccountParams{}, true
	case TagCloseMarket:
		return &CloseMarketParams{}, true
	}
	return nil, false
}

// DecodeInstruction reads the tag and the fixed-size payload that must follow
// it exactly.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidInstruction, len(data))
	}
	dec := bin.NewBinDecoder(data)
	raw, _ := dec.ReadUint64(bin.LE)
	ix, ok := newInstruction(Tag(raw))
	if !ok {
		return nil, fmt.Errorf("%w: unknown tag %d", ErrInvalidInstruction, raw)
	}
	if len(data)-8 != ix.size() {
		return nil, fmt.Errorf("%w: %s payload of %d bytes, want %d", ErrInvalidInstruction, ix.Tag(), len(data)-8, ix.size())
	}
	if err := ix.decode(dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	return ix, nil
}

// EncodeInstruction is the inverse of DecodeInstruction.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8+ix.size()))
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint64(uint64(ix.Tag()), bin.LE); err != nil {
		return nil, err
	}
	if err := ix.encode(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readUint64s(dec *bin.Decoder, out ...*uint64) error {
	for _, v := range out {
		var err error
		if *v, err = dec.ReadUint64(bin.LE); err != nil {
			return err
		}
	}
	return nil
}

func writeUint64s(enc *bin.Encoder, values ...uint64) error {
	for _, v := range values {
		if err := enc.WriteUint64(v, bin.LE); err != nil {
			return err
		}
	}
	return nil
}
