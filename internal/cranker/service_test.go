package cranker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/config"
	"github.com/coldbell/dex/settlement/internal/dex"
	"github.com/coldbell/dex/settlement/internal/journal"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

const (
	funded    = 1_000_000_000
	bookFunds = 10_000_000
	capacity  = 8
	reward    = 1_000
)

type memoryJournal struct {
	entries []journal.Entry
}

func (j *memoryJournal) Record(_ context.Context, e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

type harness struct {
	bank      *ledger.Bank
	keys      dex.MarketKeys
	baseMint  solana.PublicKey
	quoteMint solana.PublicKey
	payer     solana.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bank, err := ledger.NewBank(ledger.NewMemoryStore(), nil)
	require.NoError(t, err)
	dexID := solana.NewWallet().PublicKey()
	aaobID := solana.NewWallet().PublicKey()
	require.NoError(t, bank.Register(aaob.New(aaobID)))
	require.NoError(t, bank.Register(dex.New(dexID, dex.DefaultPolicy())))

	h := &harness{
		bank:      bank,
		baseMint:  solana.NewWallet().PublicKey(),
		quoteMint: solana.NewWallet().PublicKey(),
		payer:     solana.NewWallet().PrivateKey,
	}
	h.fund(t, h.payer.PublicKey())

	market := solana.NewWallet().PublicKey()
	signer, _ := dex.MustDeriveMarketSigner(dexID, market)
	orderbook := solana.NewWallet().PublicKey()
	eventQueue := solana.NewWallet().PublicKey()
	baseVault := solana.NewWallet().PublicKey()
	quoteVault := solana.NewWallet().PublicKey()
	admin := solana.NewWallet().PrivateKey

	require.NoError(t, bank.SetAccount(market, &ledger.Account{
		Lamports: bank.Rent().MinimumBalance(dex.MarketStateSize), Owner: dexID, Data: make([]byte, dex.MarketStateSize),
	}))
	require.NoError(t, bank.SetAccount(orderbook, &ledger.Account{
		Lamports: bookFunds, Owner: aaobID, Data: make([]byte, aaob.OrderbookSize(capacity)),
	}))
	require.NoError(t, bank.SetAccount(eventQueue, &ledger.Account{
		Lamports: bookFunds, Owner: aaobID, Data: make([]byte, aaob.EventQueueSize(capacity)),
	}))
	h.tokenAccount(t, baseVault, h.baseMint, signer, 0)
	h.tokenAccount(t, quoteVault, h.quoteMint, signer, 0)

	h.exec(t, aaob.NewCreateMarketInstruction(aaobID, orderbook, eventQueue, signer))
	h.exec(t, dex.NewCreateMarketInstruction(dexID, market, orderbook, baseVault, quoteVault, aaobID, admin.PublicKey(), dex.CreateMarketParams{
		CrankerReward:    reward,
		FeeBps:           0,
		MinBaseOrderSize: 1,
	}), admin)

	acct, err := bank.GetAccount(market)
	require.NoError(t, err)
	state, err := dex.DecodeMarketState(acct.Data)
	require.NoError(t, err)
	h.keys, err = dex.MarketKeysFromState(dexID, market, state)
	require.NoError(t, err)
	return h
}

func (h *harness) fund(t *testing.T, key solana.PublicKey) {
	t.Helper()
	require.NoError(t, h.bank.SetAccount(key, &ledger.Account{Lamports: funded, Owner: solana.SystemProgramID}))
}

func (h *harness) tokenAccount(t *testing.T, key, mint, owner solana.PublicKey, amount uint64) {
	t.Helper()
	acct, err := ledger.NewTokenAccount(h.bank.Rent(), mint, owner, amount)
	require.NoError(t, err)
	require.NoError(t, h.bank.SetAccount(key, acct))
}

func (h *harness) exec(t *testing.T, ix solana.Instruction, signers ...solana.PrivateKey) *ledger.Receipt {
	t.Helper()
	receipt, err := h.bank.Execute(context.Background(), h.payer, []solana.Instruction{ix}, signers...)
	require.NoError(t, err)
	return receipt
}

// restingAsk opens a user account for a new owner and rests an ask of size
// base lots. It returns the user account and the order id.
func (h *harness) restingAsk(t *testing.T, size uint64) (solana.PublicKey, uint64) {
	t.Helper()
	owner := solana.NewWallet().PrivateKey
	h.fund(t, owner.PublicKey())
	wallet := solana.NewWallet().PublicKey()
	h.tokenAccount(t, wallet, h.baseMint, owner.PublicKey(), size)

	h.exec(t, dex.NewInitializeAccountInstruction(h.keys.ProgramID, h.keys.Market, owner.PublicKey(), owner.PublicKey(), 4), owner)
	user := dex.MustDeriveUserAccount(h.keys.ProgramID, h.keys.Market, owner.PublicKey())

	receipt := h.exec(t, dex.NewNewOrderInstruction(h.keys, user, wallet, owner.PublicKey(), dex.NewOrderParams{
		Side:       aaob.SideAsk,
		OrderType:  aaob.OrderTypeLimit,
		LimitPrice: 10,
		MaxBaseQty: size,
	}), owner)
	summary, err := aaob.DecodeOrderSummary(receipt.ReturnData)
	require.NoError(t, err)
	return user, summary.OrderID
}

func (h *harness) expire(t *testing.T, orderID uint64) {
	t.Helper()
	ob, err := h.bank.GetAccount(h.keys.Orderbook)
	require.NoError(t, err)
	eq, err := h.bank.GetAccount(h.keys.EventQueue)
	require.NoError(t, err)
	_, err = aaob.Expire(ob.Data, eq.Data, orderID)
	require.NoError(t, err)
	require.NoError(t, h.bank.SetAccount(h.keys.Orderbook, ob))
	require.NoError(t, h.bank.SetAccount(h.keys.EventQueue, eq))
}

func (h *harness) service(j Journal, target solana.PublicKey) (*Service, solana.PrivateKey) {
	cranker := solana.NewWallet().PrivateKey
	cfg := config.CrankConfig{
		DexProgramID:     h.keys.ProgramID,
		AaobProgramID:    h.keys.AaobProgram,
		Market:           h.keys.Market,
		RewardTarget:     target,
		PollInterval:     time.Second,
		MaxEventsPerTick: 8,
		MaxUserAccounts:  4,
		ComputeUnitLimit: 400_000,
		TxTimeout:        time.Second,
	}
	return New(cfg, h.bank, cranker, j, slog.New(slog.NewTextHandler(io.Discard, nil))), cranker
}

func TestTickEmptyQueueSendsNothing(t *testing.T) {
	h := newHarness(t)
	svc, cranker := h.service(nil, solana.PublicKey{})
	h.fund(t, cranker.PublicKey())

	out, err := svc.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, out)

	acct, err := h.bank.GetAccount(cranker.PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(funded), acct.Lamports)
}

func TestTickConsumesAndJournals(t *testing.T) {
	h := newHarness(t)
	userA, orderA := h.restingAsk(t, 3)
	userB, orderB := h.restingAsk(t, 2)
	h.expire(t, orderA)
	h.expire(t, orderB)

	j := &memoryJournal{}
	target := solana.NewWallet().PublicKey()
	svc, cranker := h.service(j, target)
	h.fund(t, cranker.PublicKey())

	out, err := svc.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, &dex.CrankOutcome{Applied: 2, Reward: 2 * reward}, out)

	for _, user := range []solana.PublicKey{userA, userB} {
		acct, err := h.bank.GetAccount(user)
		require.NoError(t, err)
		u, err := dex.DecodeUserAccount(acct.Data)
		require.NoError(t, err)
		require.Zero(t, u.BaseLocked)
		require.Empty(t, u.Orders)
	}

	paid, err := h.bank.GetAccount(target)
	require.NoError(t, err)
	require.Equal(t, uint64(2*reward), paid.Lamports)

	require.Len(t, j.entries, 1)
	require.Equal(t, h.keys.Market, j.entries[0].Market)
	require.Equal(t, uint64(2), j.entries[0].Applied)
	require.Equal(t, uint64(2*reward), j.entries[0].Reward)
	require.Zero(t, j.entries[0].Pending)

	out, err = svc.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, out)
	require.Len(t, j.entries, 1)
}

func TestCollectUsersSkipsForeignAccounts(t *testing.T) {
	h := newHarness(t)
	_, orderA := h.restingAsk(t, 1)
	h.expire(t, orderA)

	svc, cranker := h.service(nil, solana.PublicKey{})
	h.fund(t, cranker.PublicKey())
	svc.cfg.DexProgramID = solana.NewWallet().PublicKey()

	users, err := svc.collectUsers(mustQueue(t, h))
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestTickMissingMarket(t *testing.T) {
	h := newHarness(t)
	svc, _ := h.service(nil, solana.PublicKey{})
	svc.cfg.Market = solana.NewWallet().PublicKey()

	_, err := svc.Tick(context.Background())
	require.ErrorIs(t, err, errMarketNotFound)
}

func mustQueue(t *testing.T, h *harness) *aaob.EventQueue {
	t.Helper()
	acct, err := h.bank.GetAccount(h.keys.EventQueue)
	require.NoError(t, err)
	queue, err := aaob.LoadEventQueue(acct.Data)
	require.NoError(t, err)
	return queue
}
