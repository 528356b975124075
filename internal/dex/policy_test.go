package dex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coldbell/dex/settlement/internal/config"
)

func TestProportionalReward(t *testing.T) {
	var r ProportionalReward
	require.Equal(t, uint64(1_500), r.Reward(3_000, 2, 4))
	require.Equal(t, uint64(3_000), r.Reward(3_000, 9, 4))
	require.Zero(t, r.Reward(3_000, 0, 4))
	require.Zero(t, r.Reward(3_000, 1, 0))
	require.Equal(t, uint64(math.MaxUint64/2), r.Reward(math.MaxUint64, 1, 2))
}

func TestPerEventReward(t *testing.T) {
	r := PerEventReward{Lamports: 100}
	require.Equal(t, uint64(300), r.Reward(1_000, 3, 10))
	require.Equal(t, uint64(1_000), r.Reward(1_000, 30, 30))
	require.Equal(t, uint64(7), PerEventReward{Lamports: math.MaxUint64}.Reward(7, 2, 2))
}

func TestPolicyFromConfig(t *testing.T) {
	policy, err := PolicyFromConfig(config.PolicyConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultPolicy(), policy)

	policy, err = PolicyFromConfig(config.PolicyConfig{
		SettleLocked:        true,
		RewardMode:          config.RewardModePerEvent,
		RewardPerEvent:      42,
		SignerNonceAttempts: 16,
	})
	require.NoError(t, err)
	require.True(t, policy.SettleLocked)
	require.Equal(t, PerEventReward{Lamports: 42}, policy.Reward)
	require.Equal(t, 16, policy.SignerNonceAttempts)

	_, err = PolicyFromConfig(config.PolicyConfig{RewardMode: "auction"})
	require.Error(t, err)
}
