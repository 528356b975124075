package dex

import (
	"fmt"
	"math/bits"

	"github.com/coldbell/dex/settlement/internal/config"
)

// RewardPolicy decides how many lamports of the market's fee budget a crank
// call earns for applying events out of the pending ones.
type RewardPolicy interface {
	Reward(budget, applied, pending uint64) uint64
}

// ProportionalReward pays budget * applied / pending.
type ProportionalReward struct{}

func (ProportionalReward) Reward(budget, applied, pending uint64) uint64 {
	if pending == 0 || applied == 0 {
		return 0
	}
	applied = min(applied, pending)
	hi, lo := bits.Mul64(budget, applied)
	q, _ := bits.Div64(hi, lo, pending)
	return q
}

// PerEventReward pays a flat amount per applied event, capped by the budget.
type PerEventReward struct {
	Lamports uint64
}

func (r PerEventReward) Reward(budget, applied, _ uint64) uint64 {
	hi, lo := bits.Mul64(r.Lamports, applied)
	if hi != 0 {
		return budget
	}
	return min(lo, budget)
}

// Policy holds the choices the program leaves to its operator.
type Policy struct {
	// SettleLocked lets Settle pay out locked balances of a user with no
	// open orders.
	SettleLocked        bool
	Reward              RewardPolicy
	SignerNonceAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		Reward:              ProportionalReward{},
		SignerNonceAttempts: DefaultSignerNonceAttempts,
	}
}

func PolicyFromConfig(cfg config.PolicyConfig) (Policy, error) {
	policy := DefaultPolicy()
	policy.SettleLocked = cfg.SettleLocked
	if cfg.SignerNonceAttempts > 0 {
		policy.SignerNonceAttempts = cfg.SignerNonceAttempts
	}
	switch cfg.RewardMode {
	case "", config.RewardModeProportional:
	case config.RewardModePerEvent:
		policy.Reward = PerEventReward{Lamports: cfg.RewardPerEvent}
	default:
		return Policy{}, fmt.Errorf("unsupported reward mode %q", cfg.RewardMode)
	}
	return policy, nil
}
