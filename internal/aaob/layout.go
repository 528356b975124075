package aaob

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	TagUninitialized = uint64(0)
	TagOrderbook     = uint64(1)
	TagEventQueue    = uint64(2)

	OrderbookHeaderSize  = 8 + 32 + 32 + 8 + 8
	OrderSize            = 8 + 1 + 7 + 8 + 8 + 8 + 32
	EventQueueHeaderSize = 8 + 8 + 8 + 8
	EventSize            = 1 + 1 + 1 + 5 + 8 + 32 + 8 + 8
)

type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

type EventKind uint8

const (
	EventFill EventKind = iota
	EventOut
)

const eventFlagCompleted = 1

// Order is a resting order. Callback identifies the caller-side account the
// order belongs to and is copied into every event the order produces.
type Order struct {
	OrderID  uint64
	Side     Side
	Price    uint64
	BaseQty  uint64
	QuoteQty uint64
	Callback solana.PublicKey
}

// Orderbook is the decoded book account. Orders are kept in arrival order.
type Orderbook struct {
	Tag             uint64
	CallerAuthority solana.PublicKey
	EventQueue      solana.PublicKey
	NextOrderID     uint64
	Orders          []Order

	capacity int
}

func OrderbookSize(capacity int) int { return OrderbookHeaderSize + capacity*OrderSize }

func DecodeOrderbook(data []byte) (*Orderbook, error) {
	if len(data) < OrderbookHeaderSize {
		return nil, fmt.Errorf("%w: orderbook of %d bytes", ErrInvalidLayout, len(data))
	}
	dec := bin.NewBinDecoder(data)
	ob := &Orderbook{capacity: (len(data) - OrderbookHeaderSize) / OrderSize}
	ob.Tag, _ = dec.ReadUint64(bin.LE)
	authority, _ := dec.ReadBytes(solana.PublicKeyLength)
	eventQueue, _ := dec.ReadBytes(solana.PublicKeyLength)
	ob.CallerAuthority = solana.PublicKeyFromBytes(authority)
	ob.EventQueue = solana.PublicKeyFromBytes(eventQueue)
	ob.NextOrderID, _ = dec.ReadUint64(bin.LE)
	count, _ := dec.ReadUint64(bin.LE)
	if count > uint64(ob.capacity) {
		return nil, fmt.Errorf("%w: %d orders in a book of %d slots", ErrInvalidLayout, count, ob.capacity)
	}

	ob.Orders = make([]Order, 0, count)
	for range count {
		var o Order
		o.OrderID, _ = dec.ReadUint64(bin.LE)
		side, _ := dec.ReadUint8()
		o.Side = Side(side)
		_, _ = dec.ReadBytes(7)
		o.Price, _ = dec.ReadUint64(bin.LE)
		o.BaseQty, _ = dec.ReadUint64(bin.LE)
		o.QuoteQty, _ = dec.ReadUint64(bin.LE)
		callback, _ := dec.ReadBytes(solana.PublicKeyLength)
		o.Callback = solana.PublicKeyFromBytes(callback)
		ob.Orders = append(ob.Orders, o)
	}
	return ob, nil
}

func (ob *Orderbook) Capacity() int { return ob.capacity }

func (ob *Orderbook) Find(orderID uint64) (int, bool) {
	for i, o := range ob.Orders {
		if o.OrderID == orderID {
			return i, true
		}
	}
	return 0, false
}

func (ob *Orderbook) remove(i int) Order {
	o := ob.Orders[i]
	ob.Orders = append(ob.Orders[:i], ob.Orders[i+1:]...)
	return o
}

// Write serializes the book into data, which must be the account it was
// decoded from. Unused slots are zeroed.
func (ob *Orderbook) Write(data []byte) error {
	if len(ob.Orders) > ob.capacity || len(data) != OrderbookSize(ob.capacity) {
		return fmt.Errorf("%w: orderbook does not fit", ErrInvalidLayout)
	}
	buf := bytes.NewBuffer(make([]byte, 0, len(data)))
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint64(ob.Tag, bin.LE)
	_ = enc.WriteBytes(ob.CallerAuthority[:], false)
	_ = enc.WriteBytes(ob.EventQueue[:], false)
	_ = enc.WriteUint64(ob.NextOrderID, bin.LE)
	_ = enc.WriteUint64(uint64(len(ob.Orders)), bin.LE)
	for _, o := range ob.Orders {
		_ = enc.WriteUint64(o.OrderID, bin.LE)
		_ = enc.WriteUint8(uint8(o.Side))
		_ = enc.WriteBytes(make([]byte, 7), false)
		_ = enc.WriteUint64(o.Price, bin.LE)
		_ = enc.WriteUint64(o.BaseQty, bin.LE)
		_ = enc.WriteUint64(o.QuoteQty, bin.LE)
		_ = enc.WriteBytes(o.Callback[:], false)
	}
	n := copy(data, buf.Bytes())
	clear(data[n:])
	return nil
}

// Event is one entry of the event queue.
type Event struct {
	Kind      EventKind
	Side      Side
	Completed bool
	OrderID   uint64
	User      solana.PublicKey
	BaseQty   uint64
	QuoteQty  uint64
}

func (e Event) encode(dst []byte) {
	buf := bytes.NewBuffer(make([]byte, 0, EventSize))
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(uint8(e.Kind))
	_ = enc.WriteUint8(uint8(e.Side))
	flags := uint8(0)
	if e.Completed {
		flags |= eventFlagCompleted
	}
	_ = enc.WriteUint8(flags)
	_ = enc.WriteBytes(make([]byte, 5), false)
	_ = enc.WriteUint64(e.OrderID, bin.LE)
	_ = enc.WriteBytes(e.User[:], false)
	_ = enc.WriteUint64(e.BaseQty, bin.LE)
	_ = enc.WriteUint64(e.QuoteQty, bin.LE)
	copy(dst, buf.Bytes())
}

func decodeEvent(src []byte) (Event, error) {
	dec := bin.NewBinDecoder(src)
	var e Event
	kind, _ := dec.ReadUint8()
	side, _ := dec.ReadUint8()
	flags, _ := dec.ReadUint8()
	_, _ = dec.ReadBytes(5)
	e.OrderID, _ = dec.ReadUint64(bin.LE)
	user, _ := dec.ReadBytes(solana.PublicKeyLength)
	e.BaseQty, _ = dec.ReadUint64(bin.LE)
	e.QuoteQty, _ = dec.ReadUint64(bin.LE)
	if EventKind(kind) > EventOut || Side(side) > SideAsk {
		return Event{}, fmt.Errorf("%w: event kind %d side %d", ErrInvalidLayout, kind, side)
	}
	e.Kind = EventKind(kind)
	e.Side = Side(side)
	e.Completed = flags&eventFlagCompleted != 0
	e.User = solana.PublicKeyFromBytes(user)
	return e, nil
}

// EventQueue is a ring buffer laid over the event queue account data. Reads
// and writes go straight to the backing slice.
type EventQueue struct {
	Tag    uint64
	Head   uint64
	Count  uint64
	SeqNum uint64

	data []byte
}

func EventQueueSize(capacity int) int { return EventQueueHeaderSize + capacity*EventSize }

func LoadEventQueue(data []byte) (*EventQueue, error) {
	if len(data) < EventQueueHeaderSize+EventSize {
		return nil, fmt.Errorf("%w: event queue of %d bytes", ErrInvalidLayout, len(data))
	}
	dec := bin.NewBinDecoder(data)
	q := &EventQueue{data: data}
	q.Tag, _ = dec.ReadUint64(bin.LE)
	q.Head, _ = dec.ReadUint64(bin.LE)
	q.Count, _ = dec.ReadUint64(bin.LE)
	q.SeqNum, _ = dec.ReadUint64(bin.LE)
	if q.Head >= uint64(q.Capacity()) || q.Count > uint64(q.Capacity()) {
		return nil, fmt.Errorf("%w: event queue cursor %d/%d", ErrInvalidLayout, q.Head, q.Count)
	}
	return q, nil
}

func (q *EventQueue) Capacity() int { return (len(q.data) - EventQueueHeaderSize) / EventSize }
func (q *EventQueue) Len() int      { return int(q.Count) }

func (q *EventQueue) slot(i uint64) []byte {
	idx := (q.Head + i) % uint64(q.Capacity())
	off := EventQueueHeaderSize + int(idx)*EventSize
	return q.data[off : off+EventSize]
}

// At returns the i-th pending event counting from the head.
func (q *EventQueue) At(i int) (Event, error) {
	if i < 0 || i >= q.Len() {
		return Event{}, fmt.Errorf("%w: event %d of %d", ErrInvalidLayout, i, q.Len())
	}
	return decodeEvent(q.slot(uint64(i)))
}

func (q *EventQueue) Push(e Event) error {
	if q.Len() == q.Capacity() {
		return ErrEventQueueFull
	}
	e.encode(q.slot(q.Count))
	q.Count++
	q.SeqNum++
	q.flush()
	return nil
}

// Pop discards the n oldest events and advances the head.
func (q *EventQueue) Pop(n uint64) error {
	if n > q.Count {
		return fmt.Errorf("%w: pop %d of %d", ErrInvalidArgument, n, q.Count)
	}
	for i := range n {
		clear(q.slot(i))
	}
	q.Head = (q.Head + n) % uint64(q.Capacity())
	q.Count -= n
	q.flush()
	return nil
}

func (q *EventQueue) flush() {
	buf := bytes.NewBuffer(make([]byte, 0, EventQueueHeaderSize))
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint64(q.Tag, bin.LE)
	_ = enc.WriteUint64(q.Head, bin.LE)
	_ = enc.WriteUint64(q.Count, bin.LE)
	_ = enc.WriteUint64(q.SeqNum, bin.LE)
	copy(q.data, buf.Bytes())
}
