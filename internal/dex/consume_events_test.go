package dex

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/aaob"
)

func (f *marketFixture) crank(t *testing.T, target solana.PublicKey, noOpErr uint64, users ...*trader) (CrankOutcome, error) {
	t.Helper()
	keys := make([]solana.PublicKey, 0, len(users))
	for _, tr := range users {
		keys = append(keys, tr.user)
	}
	receipt, err := f.try(NewConsumeEventsInstruction(f.keys, target, keys, ConsumeEventsParams{
		MaxIterations: 16,
		NoOpErr:       noOpErr,
	}))
	if err != nil {
		return CrankOutcome{}, err
	}
	require.Equal(t, f.keys.ProgramID, receipt.ReturnProgram)
	out, err := DecodeCrankOutcome(receipt.ReturnData)
	require.NoError(t, err)
	return out, nil
}

func TestConsumeEventsAppliesSuppliedUsersInOrder(t *testing.T) {
	f := newMarketFixture(t, DefaultPolicy())
	a := f.newTrader(t, 4, 0)
	b := f.newTrader(t, 6, 0)

	orderA := f.placeAsk(t, a, 50, 4)
	orderB := f.placeAsk(t, b, 50, 4)
	orderB2 := f.placeAsk(t, b, 50, 2)
	require.Equal(t, uint64(3*testReward), f.market(t).FeeBudget)

	f.fill(t, orderA, 2)
	require.True(t, f.fill(t, orderB, 4).Completed)
	require.True(t, f.fill(t, orderA, 2).Completed)
	f.expire(t, orderB2)

	bBefore := f.user(t, b)
	target := solana.NewWallet().PublicKey()

	out, err := f.crank(t, target, 1, a)
	require.NoError(t, err)
	// b's fill stops the walk and stays at the head of the queue.
	require.Equal(t, CrankOutcome{Applied: 1, Skipped: 1, Reward: 750, Pending: 3}, out)

	ua := f.user(t, a)
	require.Equal(t, uint64(2), ua.BaseLocked)
	require.Equal(t, uint64(99), ua.QuoteFree)
	require.Equal(t, []uint64{orderA}, ua.Orders)
	require.Equal(t, bBefore, f.user(t, b))
	require.Equal(t, uint64(1), f.market(t).AccumulatedFees)

	queue, err := aaob.LoadEventQueue(f.account(t, f.keys.EventQueue).Data)
	require.NoError(t, err)
	require.Equal(t, 3, queue.Len())
	head, err := queue.At(0)
	require.NoError(t, err)
	require.Equal(t, aaob.EventFill, head.Kind)
	require.Equal(t, b.user, head.User)

	out, err = f.crank(t, target, 1, a, b)
	require.NoError(t, err)
	require.Equal(t, CrankOutcome{Applied: 3, Reward: 2_250, Pending: 0}, out)

	ua = f.user(t, a)
	require.Zero(t, ua.BaseLocked)
	require.Equal(t, uint64(2*99), ua.QuoteFree)
	require.Empty(t, ua.Orders)
	ub := f.user(t, b)
	require.Equal(t, uint64(2), ub.BaseFree)
	require.Zero(t, ub.BaseLocked)
	require.Equal(t, uint64(198), ub.QuoteFree)
	require.Empty(t, ub.Orders)

	m := f.market(t)
	require.Equal(t, uint64(4), m.AccumulatedFees)
	require.Zero(t, m.FeeBudget)
	require.Equal(t, uint64(3*testReward), f.lamports(t, target))

	_, err = f.crank(t, target, 1, a, b)
	require.ErrorIs(t, err, ErrNoOp)

	out, err = f.crank(t, target, 0, a)
	require.NoError(t, err)
	require.Equal(t, CrankOutcome{}, out)
}

func TestConsumeEventsKeepsEventsOfUnsuppliedUsers(t *testing.T) {
	f := newMarketFixture(t, DefaultPolicy())
	a := f.newTrader(t, 2, 0)
	b := f.newTrader(t, 4, 0)
	orderA := f.placeAsk(t, a, 50, 2)
	orderB := f.placeAsk(t, b, 50, 4)
	require.True(t, f.fill(t, orderB, 4).Completed)
	require.True(t, f.fill(t, orderA, 2).Completed)

	target := solana.NewWallet().PublicKey()
	before := f.account(t, f.keys.EventQueue).Data
	out, err := f.crank(t, target, 0, a)
	require.NoError(t, err)
	require.Equal(t, CrankOutcome{Skipped: 1, Pending: 2}, out)
	require.Equal(t, before, f.account(t, f.keys.EventQueue).Data)
	require.Equal(t, []uint64{orderA}, f.user(t, a).Orders)

	out, err = f.crank(t, target, 0, b)
	require.NoError(t, err)
	require.Equal(t, uint64(1), out.Applied)
	require.Equal(t, uint64(1), out.Skipped)
	require.Equal(t, uint64(1), out.Pending)

	ub := f.user(t, b)
	require.Zero(t, ub.BaseLocked)
	require.Equal(t, uint64(198), ub.QuoteFree)
	require.Empty(t, ub.Orders)

	out, err = f.crank(t, target, 0, a)
	require.NoError(t, err)
	require.Equal(t, uint64(1), out.Applied)
	require.Zero(t, out.Pending)
	ua := f.user(t, a)
	require.Zero(t, ua.BaseLocked)
	require.Equal(t, uint64(99), ua.QuoteFree)
	require.Empty(t, ua.Orders)

	f.setTokenAccount(t, f.keys.QuoteVault, f.quoteMint, f.keys.MarketSigner, 198)
	f.exec(t, NewSettleInstruction(f.keys, b.user, b.owner.PublicKey(), b.base, b.quote), b.owner)
	f.exec(t, NewCloseAccountInstruction(f.keys.ProgramID, b.user, b.owner.PublicKey(), b.owner.PublicKey()), b.owner)
	require.False(t, f.exists(t, b.user))
	require.Equal(t, uint64(198), f.tokens(t, b.quote))
}

func TestConsumeEventsOnlyAbsentUsers(t *testing.T) {
	f := newMarketFixture(t, DefaultPolicy())
	a := f.newTrader(t, 1, 0)
	b := f.newTrader(t, 0, 0)
	f.expire(t, f.placeAsk(t, a, 1, 1))

	before := f.account(t, f.keys.EventQueue).Data
	out, err := f.crank(t, solana.NewWallet().PublicKey(), 0, b)
	require.NoError(t, err)
	require.Equal(t, CrankOutcome{Skipped: 1, Pending: 1}, out)
	require.Equal(t, before, f.account(t, f.keys.EventQueue).Data)

	_, err = f.crank(t, solana.NewWallet().PublicKey(), 1, b)
	require.ErrorIs(t, err, ErrNoOp)
}

func TestConsumeEventsRejectsForeignUser(t *testing.T) {
	f := newMarketFixture(t, DefaultPolicy())
	a := f.newTrader(t, 0, 0)
	f.setUser(t, a, func(u *UserAccount) { u.Market = solana.NewWallet().PublicKey() })

	_, err := f.crank(t, solana.NewWallet().PublicKey(), 0, a)
	require.ErrorIs(t, err, ErrWrongMarket)
}

func TestCrankEventsSequence(t *testing.T) {
	present := solana.NewWallet().PublicKey()
	absent := solana.NewWallet().PublicKey()
	c := &crank{
		events: []aaob.Event{{OrderID: 1, User: present}, {OrderID: 2, User: absent}, {OrderID: 3, User: present}},
		users:  map[solana.PublicKey]*crankUser{present: {}},
	}

	var ids []uint64
	var outcomes []Outcome
	for ev, outcome := range c.Events() {
		ids = append(ids, ev.OrderID)
		outcomes = append(outcomes, outcome)
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
	require.Equal(t, []Outcome{Applied, Skipped, Applied}, outcomes)
}

func TestTakerFee(t *testing.T) {
	require.Equal(t, uint64(1), takerFee(100, 100))
	require.Equal(t, uint64(0), takerFee(99, 100))
	require.Equal(t, uint64(1<<63), takerFee(1<<63, FeeBpsDenom))
}
