package dex

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

const (
	bookLamports   = 10_000_000
	testReward     = 1_000
	testFeeBps     = 100
	testCapacity   = 8
	traderLamports = 1_000_000_000
)

type marketFixture struct {
	bank      *ledger.Bank
	payer     solana.PrivateKey
	admin     solana.PrivateKey
	keys      MarketKeys
	baseMint  solana.PublicKey
	quoteMint solana.PublicKey
}

type trader struct {
	owner solana.PrivateKey
	user  solana.PublicKey
	base  solana.PublicKey
	quote solana.PublicKey
}

func newMarketFixture(t *testing.T, policy Policy) *marketFixture {
	t.Helper()
	bank, err := ledger.NewBank(ledger.NewMemoryStore(), nil)
	require.NoError(t, err)

	dexID := solana.NewWallet().PublicKey()
	aaobID := solana.NewWallet().PublicKey()
	require.NoError(t, bank.Register(aaob.New(aaobID)))
	require.NoError(t, bank.Register(New(dexID, policy)))

	f := &marketFixture{
		bank:      bank,
		payer:     solana.NewWallet().PrivateKey,
		admin:     solana.NewWallet().PrivateKey,
		baseMint:  solana.NewWallet().PublicKey(),
		quoteMint: solana.NewWallet().PublicKey(),
	}
	require.NoError(t, bank.SetAccount(f.payer.PublicKey(), &ledger.Account{Lamports: traderLamports, Owner: solana.SystemProgramID}))

	market := solana.NewWallet().PublicKey()
	signer, _ := MustDeriveMarketSigner(dexID, market)
	orderbook := solana.NewWallet().PublicKey()
	eventQueue := solana.NewWallet().PublicKey()
	baseVault := solana.NewWallet().PublicKey()
	quoteVault := solana.NewWallet().PublicKey()

	rent := bank.Rent()
	require.NoError(t, bank.SetAccount(market, &ledger.Account{
		Lamports: rent.MinimumBalance(MarketStateSize), Owner: dexID, Data: make([]byte, MarketStateSize),
	}))
	require.NoError(t, bank.SetAccount(orderbook, &ledger.Account{
		Lamports: bookLamports, Owner: aaobID, Data: make([]byte, aaob.OrderbookSize(testCapacity)),
	}))
	require.NoError(t, bank.SetAccount(eventQueue, &ledger.Account{
		Lamports: bookLamports, Owner: aaobID, Data: make([]byte, aaob.EventQueueSize(testCapacity)),
	}))
	f.setTokenAccount(t, baseVault, f.baseMint, signer, 0)
	f.setTokenAccount(t, quoteVault, f.quoteMint, signer, 0)

	f.exec(t, aaob.NewCreateMarketInstruction(aaobID, orderbook, eventQueue, signer))
	f.exec(t, NewCreateMarketInstruction(dexID, market, orderbook, baseVault, quoteVault, aaobID, f.admin.PublicKey(), CreateMarketParams{
		CrankerReward:    testReward,
		FeeBps:           testFeeBps,
		MinBaseOrderSize: 1,
	}), f.admin)

	state, err := DecodeMarketState(f.account(t, market).Data)
	require.NoError(t, err)
	f.keys, err = MarketKeysFromState(dexID, market, state)
	require.NoError(t, err)
	require.Equal(t, market, f.keys.Market)
	require.Equal(t, signer, f.keys.MarketSigner)
	return f
}

func (f *marketFixture) try(ix solana.Instruction, signers ...solana.PrivateKey) (*ledger.Receipt, error) {
	return f.bank.Execute(context.Background(), f.payer, []solana.Instruction{ix}, signers...)
}

func (f *marketFixture) exec(t *testing.T, ix solana.Instruction, signers ...solana.PrivateKey) *ledger.Receipt {
	t.Helper()
	receipt, err := f.try(ix, signers...)
	require.NoError(t, err)
	return receipt
}

func (f *marketFixture) account(t *testing.T, key solana.PublicKey) *ledger.Account {
	t.Helper()
	acct, err := f.bank.GetAccount(key)
	require.NoError(t, err)
	require.NotNil(t, acct, "account %s", key)
	return acct
}

func (f *marketFixture) exists(t *testing.T, key solana.PublicKey) bool {
	t.Helper()
	acct, err := f.bank.GetAccount(key)
	require.NoError(t, err)
	return acct != nil
}

func (f *marketFixture) lamports(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	acct, err := f.bank.GetAccount(key)
	require.NoError(t, err)
	if acct == nil {
		return 0
	}
	return acct.Lamports
}

func (f *marketFixture) market(t *testing.T) *MarketState {
	t.Helper()
	m, err := DecodeMarketState(f.account(t, f.keys.Market).Data)
	require.NoError(t, err)
	return m
}

func (f *marketFixture) setMarket(t *testing.T, mutate func(*MarketState)) {
	t.Helper()
	acct := f.account(t, f.keys.Market)
	m, err := DecodeMarketState(acct.Data)
	require.NoError(t, err)
	mutate(m)
	require.NoError(t, m.WriteTo(acct.Data))
	require.NoError(t, f.bank.SetAccount(f.keys.Market, acct))
}

func (f *marketFixture) user(t *testing.T, tr *trader) *UserAccount {
	t.Helper()
	u, err := DecodeUserAccount(f.account(t, tr.user).Data)
	require.NoError(t, err)
	return u
}

func (f *marketFixture) setUser(t *testing.T, tr *trader, mutate func(*UserAccount)) {
	t.Helper()
	acct := f.account(t, tr.user)
	u, err := DecodeUserAccount(acct.Data)
	require.NoError(t, err)
	mutate(u)
	require.NoError(t, u.WriteTo(acct.Data))
	require.NoError(t, f.bank.SetAccount(tr.user, acct))
}

func (f *marketFixture) setTokenAccount(t *testing.T, key, mint, owner solana.PublicKey, amount uint64) {
	t.Helper()
	acct, err := ledger.NewTokenAccount(f.bank.Rent(), mint, owner, amount)
	require.NoError(t, err)
	require.NoError(t, f.bank.SetAccount(key, acct))
}

func (f *marketFixture) tokens(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	acct, err := ledger.UnmarshalTokenAccount(f.account(t, key).Data)
	require.NoError(t, err)
	return acct.Amount
}

// newTrader funds an owner, gives it token accounts and initializes its user
// account on the market.
func (f *marketFixture) newTrader(t *testing.T, base, quote uint64) *trader {
	t.Helper()
	tr := &trader{
		owner: solana.NewWallet().PrivateKey,
		base:  solana.NewWallet().PublicKey(),
		quote: solana.NewWallet().PublicKey(),
	}
	owner := tr.owner.PublicKey()
	require.NoError(t, f.bank.SetAccount(owner, &ledger.Account{Lamports: traderLamports, Owner: solana.SystemProgramID}))
	f.setTokenAccount(t, tr.base, f.baseMint, owner, base)
	f.setTokenAccount(t, tr.quote, f.quoteMint, owner, quote)

	f.exec(t, NewInitializeAccountInstruction(f.keys.ProgramID, f.keys.Market, owner, owner, 4), tr.owner)
	tr.user = MustDeriveUserAccount(f.keys.ProgramID, f.keys.Market, owner)
	return tr
}

// placeAsk posts a limit ask and returns its order id.
func (f *marketFixture) placeAsk(t *testing.T, tr *trader, price, size uint64) uint64 {
	t.Helper()
	receipt := f.exec(t, NewNewOrderInstruction(f.keys, tr.user, tr.base, tr.owner.PublicKey(), NewOrderParams{
		Side:       aaob.SideAsk,
		OrderType:  aaob.OrderTypeLimit,
		LimitPrice: price,
		MaxBaseQty: size,
	}), tr.owner)
	summary, err := aaob.DecodeOrderSummary(receipt.ReturnData)
	require.NoError(t, err)
	require.True(t, summary.Posted)
	return summary.OrderID
}

// match runs fn against the book and queue data the way a matcher would and
// stores the result.
func (f *marketFixture) match(t *testing.T, fn func(ob, eq []byte) (aaob.Event, error)) aaob.Event {
	t.Helper()
	ob := f.account(t, f.keys.Orderbook)
	eq := f.account(t, f.keys.EventQueue)
	ev, err := fn(ob.Data, eq.Data)
	require.NoError(t, err)
	require.NoError(t, f.bank.SetAccount(f.keys.Orderbook, ob))
	require.NoError(t, f.bank.SetAccount(f.keys.EventQueue, eq))
	return ev
}

func (f *marketFixture) fill(t *testing.T, orderID, base uint64) aaob.Event {
	return f.match(t, func(ob, eq []byte) (aaob.Event, error) { return aaob.Fill(ob, eq, orderID, base) })
}

func (f *marketFixture) expire(t *testing.T, orderID uint64) aaob.Event {
	return f.match(t, func(ob, eq []byte) (aaob.Event, error) { return aaob.Expire(ob, eq, orderID) })
}
