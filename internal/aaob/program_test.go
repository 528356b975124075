package aaob

import (
	"context"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/ledger"
)

type bookFixture struct {
	bank       *ledger.Bank
	programID  solana.PublicKey
	payer      solana.PrivateKey
	authority  solana.PrivateKey
	orderbook  solana.PublicKey
	eventQueue solana.PublicKey
}

func newBookFixture(t *testing.T) *bookFixture {
	t.Helper()
	bank, err := ledger.NewBank(ledger.NewMemoryStore(), nil)
	require.NoError(t, err)

	f := &bookFixture{
		bank:       bank,
		programID:  solana.NewWallet().PublicKey(),
		payer:      solana.NewWallet().PrivateKey,
		authority:  solana.NewWallet().PrivateKey,
		orderbook:  solana.NewWallet().PublicKey(),
		eventQueue: solana.NewWallet().PublicKey(),
	}
	require.NoError(t, bank.Register(New(f.programID)))
	require.NoError(t, bank.SetAccount(f.payer.PublicKey(), &ledger.Account{Lamports: 1_000_000_000, Owner: solana.SystemProgramID}))
	require.NoError(t, bank.SetAccount(f.orderbook, &ledger.Account{Lamports: 10_000_000, Owner: f.programID, Data: make([]byte, OrderbookSize(4))}))
	require.NoError(t, bank.SetAccount(f.eventQueue, &ledger.Account{Lamports: 10_000_000, Owner: f.programID, Data: make([]byte, EventQueueSize(4))}))

	f.exec(t, NewCreateMarketInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey()))
	return f
}

func (f *bookFixture) exec(t *testing.T, ix solana.Instruction) *ledger.Receipt {
	t.Helper()
	receipt, err := f.bank.Execute(context.Background(), f.payer, []solana.Instruction{ix}, f.authority)
	require.NoError(t, err)
	return receipt
}

func (f *bookFixture) data(t *testing.T, key solana.PublicKey) []byte {
	t.Helper()
	acct, err := f.bank.GetAccount(key)
	require.NoError(t, err)
	require.NotNil(t, acct)
	return acct.Data
}

func TestNewOrderRestsAndReturnsSummary(t *testing.T) {
	f := newBookFixture(t)
	user := solana.NewWallet().PublicKey()

	receipt := f.exec(t, NewNewOrderInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), NewOrderParams{
		Side:        SideBid,
		LimitPrice:  3,
		MaxBaseQty:  10,
		MaxQuoteQty: 20,
		Callback:    user,
	}))
	summary, err := DecodeOrderSummary(receipt.ReturnData)
	require.NoError(t, err)
	require.Equal(t, OrderSummary{Posted: true, Side: SideBid, OrderID: 1, BaseQty: 6, QuoteQty: 18}, summary)

	ob, err := DecodeOrderbook(f.data(t, f.orderbook))
	require.NoError(t, err)
	require.Len(t, ob.Orders, 1)
	require.Equal(t, user, ob.Orders[0].Callback)
	require.Equal(t, uint64(2), ob.NextOrderID)

	receipt = f.exec(t, NewNewOrderInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), NewOrderParams{
		Side:       SideAsk,
		OrderType:  OrderTypeImmediateOrCancel,
		LimitPrice: 3,
		MaxBaseQty: 10,
		Callback:   user,
	}))
	summary, err = DecodeOrderSummary(receipt.ReturnData)
	require.NoError(t, err)
	require.False(t, summary.Posted)
}

func TestCallerAuthorityIsEnforced(t *testing.T) {
	f := newBookFixture(t)
	other := solana.NewWallet().PrivateKey

	_, err := f.bank.Execute(context.Background(), f.payer, []solana.Instruction{
		NewNewOrderInstruction(f.programID, f.orderbook, f.eventQueue, other.PublicKey(), NewOrderParams{
			Side: SideAsk, LimitPrice: 1, MaxBaseQty: 1,
		}),
	}, other)
	require.ErrorIs(t, err, ErrInvalidAuthority)
}

func TestFillExpireAndConsume(t *testing.T) {
	f := newBookFixture(t)
	maker := solana.NewWallet().PublicKey()
	f.exec(t, NewNewOrderInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), NewOrderParams{
		Side: SideAsk, LimitPrice: 5, MaxBaseQty: 4, Callback: maker,
	}))

	ob := f.data(t, f.orderbook)
	eq := f.data(t, f.eventQueue)
	ev, err := Fill(ob, eq, 1, 3)
	require.NoError(t, err)
	require.Equal(t, Event{Kind: EventFill, Side: SideAsk, OrderID: 1, User: maker, BaseQty: 3, QuoteQty: 15}, ev)
	ev, err = Expire(ob, eq, 1)
	require.NoError(t, err)
	require.Equal(t, Event{Kind: EventOut, Side: SideAsk, Completed: true, OrderID: 1, User: maker, BaseQty: 1, QuoteQty: 5}, ev)
	require.NoError(t, f.bank.SetAccount(f.orderbook, &ledger.Account{Lamports: 10_000_000, Owner: f.programID, Data: ob}))
	require.NoError(t, f.bank.SetAccount(f.eventQueue, &ledger.Account{Lamports: 10_000_000, Owner: f.programID, Data: eq}))

	queue, err := LoadEventQueue(f.data(t, f.eventQueue))
	require.NoError(t, err)
	require.Equal(t, 2, queue.Len())

	f.exec(t, NewConsumeEventsInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), 1))
	queue, err = LoadEventQueue(f.data(t, f.eventQueue))
	require.NoError(t, err)
	require.Equal(t, 1, queue.Len())
	head, err := queue.At(0)
	require.NoError(t, err)
	require.Equal(t, EventOut, head.Kind)

	_, err = f.bank.Execute(context.Background(), f.payer, []solana.Instruction{
		NewConsumeEventsInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), 2),
	}, f.authority)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFillCapsQuoteAtReserve(t *testing.T) {
	f := newBookFixture(t)
	f.exec(t, NewNewOrderInstruction(f.programID, f.orderbook, f.eventQueue, f.authority.PublicKey(), NewOrderParams{
		Side: SideAsk, LimitPrice: 5, MaxBaseQty: 4, Callback: solana.NewWallet().PublicKey(),
	}))

	ob := f.data(t, f.orderbook)
	eq := f.data(t, f.eventQueue)
	book, err := DecodeOrderbook(ob)
	require.NoError(t, err)
	book.Orders[0].Price = math.MaxUint64
	book.Orders[0].QuoteQty = 100
	require.NoError(t, book.Write(ob))

	ev, err := Fill(ob, eq, 1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ev.QuoteQty)
	require.False(t, ev.Completed)

	book, err = DecodeOrderbook(ob)
	require.NoError(t, err)
	require.Equal(t, uint64(2), book.Orders[0].BaseQty)
	require.Zero(t, book.Orders[0].QuoteQty)
}

func TestEventQueueWrapsAround(t *testing.T) {
	data := make([]byte, EventQueueSize(2))
	q, err := LoadEventQueue(data)
	require.NoError(t, err)
	q.Tag = TagEventQueue

	for i := range uint64(5) {
		require.NoError(t, q.Push(Event{OrderID: i}))
		require.NoError(t, q.Pop(1))
	}
	require.NoError(t, q.Push(Event{OrderID: 7}))
	require.NoError(t, q.Push(Event{OrderID: 8}))
	require.ErrorIs(t, q.Push(Event{OrderID: 9}), ErrEventQueueFull)

	reloaded, err := LoadEventQueue(data)
	require.NoError(t, err)
	require.Equal(t, uint64(7), reloaded.SeqNum)
	first, err := reloaded.At(0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), first.OrderID)
}
