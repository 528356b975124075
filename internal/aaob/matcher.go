package aaob

import (
	"fmt"
	"math/bits"
)

// Fill executes baseQty of a resting order the way the matcher does when a
// taker crosses it, and publishes the maker's fill event. The last fill of an
// order carries whatever quote the order still reserved.
func Fill(orderbookData, eventQueueData []byte, orderID, baseQty uint64) (Event, error) {
	ob, eq, err := loadPair(orderbookData, eventQueueData)
	if err != nil {
		return Event{}, err
	}
	i, ok := ob.Find(orderID)
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := &ob.Orders[i]
	if baseQty == 0 || baseQty > order.BaseQty {
		return Event{}, fmt.Errorf("%w: fill %d of %d", ErrInvalidArgument, baseQty, order.BaseQty)
	}

	hi, quote := bits.Mul64(baseQty, order.Price)
	if hi != 0 || quote > order.QuoteQty || baseQty == order.BaseQty {
		quote = order.QuoteQty
	}
	order.BaseQty -= baseQty
	order.QuoteQty -= quote

	ev := Event{
		Kind:      EventFill,
		Side:      order.Side,
		Completed: order.BaseQty == 0,
		OrderID:   orderID,
		User:      order.Callback,
		BaseQty:   baseQty,
		QuoteQty:  quote,
	}
	if ev.Completed {
		ob.remove(i)
	}
	if err := eq.Push(ev); err != nil {
		return Event{}, err
	}
	return ev, ob.Write(orderbookData)
}

// Expire pulls a resting order off the book and publishes an out event for
// its remaining size.
func Expire(orderbookData, eventQueueData []byte, orderID uint64) (Event, error) {
	ob, eq, err := loadPair(orderbookData, eventQueueData)
	if err != nil {
		return Event{}, err
	}
	i, ok := ob.Find(orderID)
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	order := ob.remove(i)
	ev := Event{
		Kind:      EventOut,
		Side:      order.Side,
		Completed: true,
		OrderID:   order.OrderID,
		User:      order.Callback,
		BaseQty:   order.BaseQty,
		QuoteQty:  order.QuoteQty,
	}
	if err := eq.Push(ev); err != nil {
		return Event{}, err
	}
	return ev, ob.Write(orderbookData)
}

func loadPair(orderbookData, eventQueueData []byte) (*Orderbook, *EventQueue, error) {
	ob, err := DecodeOrderbook(orderbookData)
	if err != nil {
		return nil, nil, err
	}
	eq, err := LoadEventQueue(eventQueueData)
	if err != nil {
		return nil, nil, err
	}
	if ob.Tag != TagOrderbook || eq.Tag != TagEventQueue {
		return nil, nil, fmt.Errorf("%w: market not initialized", ErrInvalidLayout)
	}
	if eq.Len() == eq.Capacity() {
		return nil, nil, ErrEventQueueFull
	}
	return ob, eq, nil
}
