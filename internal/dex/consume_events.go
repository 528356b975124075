package dex

import (
	"bytes"
	"fmt"
	"iter"
	"math/bits"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/dex/settlement/internal/aaob"
	"github.com/coldbell/dex/settlement/internal/ledger"
)

const (
	eventUnits = 500
	// units kept back for popping the queue and paying the reward
	crankReserveUnits = 10_000

	CrankOutcomeSize = 4 * 8
)

// Outcome is what the crank did with one event.
type Outcome uint8

const (
	Applied Outcome = iota
	// Skipped events reference a user account the caller did not supply. They
	// are left in the queue.
	Skipped
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "skipped"
}

// CrankOutcome is published as return data by ConsumeEvents.
type CrankOutcome struct {
	Applied uint64
	// Skipped is 1 when the walk stopped at an event of an unsupplied user.
	Skipped uint64
	Reward  uint64
	// Pending is the number of events left in the queue.
	Pending uint64
}

func (o CrankOutcome) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, CrankOutcomeSize))
	_ = writeUint64s(bin.NewBinEncoder(buf), o.Applied, o.Skipped, o.Reward, o.Pending)
	return buf.Bytes()
}

func DecodeCrankOutcome(data []byte) (CrankOutcome, error) {
	if len(data) != CrankOutcomeSize {
		return CrankOutcome{}, fmt.Errorf("%w: crank outcome of %d bytes", ErrInvalidStateData, len(data))
	}
	var o CrankOutcome
	if err := readUint64s(bin.NewBinDecoder(data), &o.Applied, &o.Skipped, &o.Reward, &o.Pending); err != nil {
		return CrankOutcome{}, fmt.Errorf("%w: %v", ErrInvalidStateData, err)
	}
	return o, nil
}

type crankUser struct {
	info    *ledger.AccountInfo
	account *UserAccount
}

// crank walks the head of the event queue against the user accounts supplied
// with the call.
type crank struct {
	events []aaob.Event
	users  map[solana.PublicKey]*crankUser
}

func newCrank(programID, market solana.PublicKey, queue *aaob.EventQueue, infos []*ledger.AccountInfo, limit int) (*crank, error) {
	c := &crank{users: make(map[solana.PublicKey]*crankUser, len(infos))}
	for _, info := range infos {
		if _, dup := c.users[info.Key]; dup {
			continue
		}
		u, err := loadUser(programID, info)
		if err != nil {
			return nil, err
		}
		if err := checkUser(u, market, nil); err != nil {
			return nil, err
		}
		c.users[info.Key] = &crankUser{info: info, account: u}
	}

	n := min(limit, queue.Len())
	c.events = make([]aaob.Event, 0, n)
	for i := range n {
		ev, err := queue.At(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEventQueue, err)
		}
		c.events = append(c.events, ev)
	}
	return c, nil
}

// Events yields the consumable events in queue order with what happens to each.
func (c *crank) Events() iter.Seq2[aaob.Event, Outcome] {
	return func(yield func(aaob.Event, Outcome) bool) {
		for _, ev := range c.events {
			outcome := Skipped
			if _, ok := c.users[ev.User]; ok {
				outcome = Applied
			}
			if !yield(ev, outcome) {
				return
			}
		}
	}
}

func (c *crank) apply(m *MarketState, ev aaob.Event) error {
	u := c.users[ev.User].account
	var err error
	switch {
	case ev.Kind == aaob.EventOut && ev.Side == aaob.SideBid:
		err = unlock(&u.QuoteFree, &u.QuoteLocked, ev.QuoteQty)
	case ev.Kind == aaob.EventOut:
		err = unlock(&u.BaseFree, &u.BaseLocked, ev.BaseQty)
	case ev.Side == aaob.SideBid:
		if err = debit(&u.QuoteLocked, ev.QuoteQty); err == nil {
			err = credit(&u.BaseFree, ev.BaseQty)
		}
	default:
		fee := takerFee(ev.QuoteQty, m.FeeBps)
		if err = debit(&u.BaseLocked, ev.BaseQty); err == nil {
			err = credit(&u.QuoteFree, ev.QuoteQty-fee)
		}
		if err == nil {
			err = credit(&m.AccumulatedFees, fee)
		}
	}
	if err != nil {
		return fmt.Errorf("event for order %d: %w", ev.OrderID, err)
	}
	if ev.Completed {
		u.RemoveOrder(ev.OrderID)
	}
	return nil
}

func (c *crank) flush() error {
	for _, cu := range c.users {
		if err := cu.account.WriteTo(cu.info.Data()); err != nil {
			return err
		}
	}
	return nil
}

func takerFee(quote, feeBps uint64) uint64 {
	hi, lo := bits.Mul64(quote, feeBps)
	fee, _ := bits.Div64(hi, lo, FeeBpsDenom)
	return fee
}

func (p *Program) consumeEvents(ictx *ledger.InvokeContext, infos []*ledger.AccountInfo, params *ConsumeEventsParams) error {
	a, err := parseConsumeEventsAccounts(p.id, infos)
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
		); err != nil {
			return err
		}
		queue, err := aaob.LoadEventQueue(a.eventQueue.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEventQueue, err)
		}
		pending := uint64(queue.Len())
		c, err := newCrank(p.id, a.market.Key, queue, a.users, int(min(params.MaxIterations, pending)))
		if err != nil {
			return err
		}

		// Only the applied prefix is popped. The first event whose user was
		// not supplied stops the walk and stays queued with everything after it.
		var out CrankOutcome
		for ev, outcome := range c.Events() {
			if ictx.RemainingUnits() < eventUnits+crankReserveUnits {
				break
			}
			if err := ictx.Consume(eventUnits); err != nil {
				return err
			}
			if outcome == Skipped {
				out.Skipped++
				ictx.Log("crank blocked", "order_id", ev.OrderID, "user", ev.User)
				break
			}
			if err := c.apply(m, ev); err != nil {
				return err
			}
			out.Applied++
		}
		popped := out.Applied

		if popped == 0 {
			if params.NoOpErr != 0 {
				return ErrNoOp
			}
			out.Pending = pending
			return ictx.SetReturnData(out.Bytes())
		}
		if err := c.flush(); err != nil {
			return err
		}

		ix := aaob.NewConsumeEventsInstruction(m.AaobProgram, m.Orderbook, m.EventQueue, a.marketSigner.Key, popped)
		if err := ictx.Invoke(ix, signerSeeds(a.market.Key, m)); err != nil {
			return err
		}

		out.Reward = min(p.policy.Reward.Reward(m.FeeBudget, out.Applied, pending), m.FeeBudget)
		if out.Reward > 0 {
			if err := a.market.CheckedSubLamports(out.Reward); err != nil {
				return err
			}
			if err := a.rewardTarget.CheckedAddLamports(out.Reward); err != nil {
				return err
			}
			m.FeeBudget -= out.Reward
		}
		out.Pending = pending - popped
		ictx.Log("crank", "applied", out.Applied, "skipped", out.Skipped, "reward", out.Reward, "pending", out.Pending)
		return ictx.SetReturnData(out.Bytes())
	})
}
