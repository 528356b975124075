package config

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadPolicyConfig(t *testing.T) {
	t.Setenv("TESTDEX_SETTLE_LOCKED", "true")
	t.Setenv("TESTDEX_REWARD_MODE", "Per-Event")
	t.Setenv("TESTDEX_REWARD_PER_EVENT", "250")

	cfg, err := LoadPolicyConfig("TESTDEX")
	require.NoError(t, err)
	require.Equal(t, PolicyConfig{
		SettleLocked:        true,
		RewardMode:          RewardModePerEvent,
		RewardPerEvent:      250,
		SignerNonceAttempts: 256,
	}, cfg)
}

func TestLoadPolicyConfigRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown mode":          {"BADDEX_REWARD_MODE": "lottery"},
		"per-event without fee": {"BADDEX_REWARD_MODE": "per-event"},
		"too many attempts":     {"BADDEX_SIGNER_NONCE_ATTEMPTS": "300"},
		"not a bool":            {"BADDEX_SETTLE_LOCKED": "sometimes"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadPolicyConfig("BADDEX")
			require.Error(t, err)
		})
	}
}

func TestLoadCrankConfig(t *testing.T) {
	dex := solana.NewWallet().PublicKey()
	aaob := solana.NewWallet().PublicKey()
	market := solana.NewWallet().PublicKey()
	t.Setenv("DEX_PROGRAM_ID", dex.String())
	t.Setenv("AAOB_PROGRAM_ID", aaob.String())
	t.Setenv("CRANK_MARKET", market.String())
	t.Setenv("CRANK_POLL_INTERVAL", "250ms")
	t.Setenv("CRANK_MAX_EVENTS_PER_TICK", "8")
	t.Setenv("CRANK_KEYPAIR_PATH", "/tmp/crank.json")

	cfg, err := LoadCrankConfig()
	require.NoError(t, err)
	require.Equal(t, dex, cfg.DexProgramID)
	require.Equal(t, aaob, cfg.AaobProgramID)
	require.Equal(t, market, cfg.Market)
	require.True(t, cfg.RewardTarget.IsZero())
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 8, cfg.MaxEventsPerTick)
	require.Equal(t, 16, cfg.MaxUserAccounts)
	require.Equal(t, "/tmp/crank.json", cfg.KeypairPath)
	require.Equal(t, RewardModeProportional, cfg.Policy.RewardMode)
	require.Empty(t, cfg.JournalDSN)
}

func TestLoadCrankConfigRequiresMarket(t *testing.T) {
	t.Setenv("DEX_PROGRAM_ID", solana.NewWallet().PublicKey().String())
	t.Setenv("AAOB_PROGRAM_ID", solana.NewWallet().PublicKey().String())
	t.Setenv("CRANK_MARKET", "")

	_, err := LoadCrankConfig()
	require.ErrorContains(t, err, "CRANK_MARKET is required")
}

func TestFlattenConfig(t *testing.T) {
	body := []byte(`
crank:
  poll-interval: 2s
  max events per tick: 4
dex:
  reward_mode: per-event
targets: [a, " b ", 3]
`)
	raw := make(map[string]any)
	require.NoError(t, yaml.Unmarshal(body, &raw))

	flat, err := flattenConfig(raw)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"CRANK_POLL_INTERVAL":       "2s",
		"CRANK_MAX_EVENTS_PER_TICK": "4",
		"DEX_REWARD_MODE":           "per-event",
		"TARGETS":                   "a,b,3",
	}, flat)
}
