package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

const (
	RewardModeProportional = "proportional"
	RewardModePerEvent     = "per-event"
)

// PolicyConfig carries the operator choices of the dex program.
type PolicyConfig struct {
	SettleLocked        bool
	RewardMode          string
	RewardPerEvent      uint64
	SignerNonceAttempts int
}

type CrankConfig struct {
	DataDir          string
	DexProgramID     solana.PublicKey
	AaobProgramID    solana.PublicKey
	Market           solana.PublicKey
	RewardTarget     solana.PublicKey
	KeypairPath      string
	PollInterval     time.Duration
	MaxEventsPerTick int
	MaxUserAccounts  int
	ComputeUnitLimit uint32
	TxTimeout        time.Duration
	JournalDSN       string
	Policy           PolicyConfig
	Log              LogConfig
}

func LoadCrankConfig() (CrankConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return CrankConfig{}, err
	}

	keypairPath := envOrDefault("CRANK_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", "~/.config/solana/id.json"))
	expandedKeypair, err := expandHomePath(keypairPath)
	if err != nil {
		return CrankConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}
	dataDir, err := expandHomePath(envOrDefault("CRANK_DATA_DIR", filepath.Join(".docker", "dex-crank", "ledger")))
	if err != nil {
		return CrankConfig{}, fmt.Errorf("expand data dir: %w", err)
	}

	pollInterval, err := envDuration("CRANK_POLL_INTERVAL", time.Second)
	if err != nil {
		return CrankConfig{}, err
	}
	txTimeout, err := envDuration("CRANK_TX_TIMEOUT", 10*time.Second)
	if err != nil {
		return CrankConfig{}, err
	}
	maxEvents, err := envInt("CRANK_MAX_EVENTS_PER_TICK", 32)
	if err != nil {
		return CrankConfig{}, err
	}
	maxUsers, err := envInt("CRANK_MAX_USER_ACCOUNTS", 16)
	if err != nil {
		return CrankConfig{}, err
	}
	cuLimit, err := envUint32("CRANK_COMPUTE_UNIT_LIMIT", 400_000)
	if err != nil {
		return CrankConfig{}, err
	}

	dexProgramID, err := requiredPubkey("DEX_PROGRAM_ID")
	if err != nil {
		return CrankConfig{}, err
	}
	aaobProgramID, err := requiredPubkey("AAOB_PROGRAM_ID")
	if err != nil {
		return CrankConfig{}, err
	}
	market, err := requiredPubkey("CRANK_MARKET")
	if err != nil {
		return CrankConfig{}, err
	}
	rewardTarget, err := envPubkey("CRANK_REWARD_TARGET", solana.PublicKey{})
	if err != nil {
		return CrankConfig{}, err
	}

	policy, err := LoadPolicyConfig("DEX")
	if err != nil {
		return CrankConfig{}, err
	}

	return CrankConfig{
		DataDir:          dataDir,
		DexProgramID:     dexProgramID,
		AaobProgramID:    aaobProgramID,
		Market:           market,
		RewardTarget:     rewardTarget,
		KeypairPath:      expandedKeypair,
		PollInterval:     pollInterval,
		MaxEventsPerTick: maxEvents,
		MaxUserAccounts:  maxUsers,
		ComputeUnitLimit: cuLimit,
		TxTimeout:        txTimeout,
		JournalDSN:       envOrDefault("CRANK_JOURNAL_DSN", ""),
		Policy:           policy,
		Log:              buildLogConfig("CRANK", "dex-crank"),
	}, nil
}

// LoadPolicyConfig reads <prefix>_SETTLE_LOCKED, <prefix>_REWARD_MODE,
// <prefix>_REWARD_PER_EVENT and <prefix>_SIGNER_NONCE_ATTEMPTS.
func LoadPolicyConfig(prefix string) (PolicyConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return PolicyConfig{}, err
	}

	settleLocked, err := envBool(prefix+"_SETTLE_LOCKED", false)
	if err != nil {
		return PolicyConfig{}, err
	}
	perEvent, err := envUint64(prefix+"_REWARD_PER_EVENT", 0)
	if err != nil {
		return PolicyConfig{}, err
	}
	attempts, err := envInt(prefix+"_SIGNER_NONCE_ATTEMPTS", 256)
	if err != nil {
		return PolicyConfig{}, err
	}
	if attempts > 256 {
		return PolicyConfig{}, fmt.Errorf("invalid %s_SIGNER_NONCE_ATTEMPTS: must be <= 256", prefix)
	}

	mode := strings.ToLower(envOrDefault(prefix+"_REWARD_MODE", RewardModeProportional))
	switch mode {
	case RewardModeProportional:
	case RewardModePerEvent:
		if perEvent == 0 {
			return PolicyConfig{}, fmt.Errorf("invalid %s_REWARD_PER_EVENT: required when reward mode is %s", prefix, RewardModePerEvent)
		}
	default:
		return PolicyConfig{}, fmt.Errorf("invalid %s_REWARD_MODE: %q (expected %s|%s)", prefix, mode, RewardModeProportional, RewardModePerEvent)
	}

	return PolicyConfig{
		SettleLocked:        settleLocked,
		RewardMode:          mode,
		RewardPerEvent:      perEvent,
		SignerNonceAttempts: attempts,
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func requiredPubkey(key string) (solana.PublicKey, error) {
	pk, err := envPubkey(key, solana.PublicKey{})
	if err != nil {
		return solana.PublicKey{}, err
	}
	if pk.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("%s is required", key)
	}
	return pk, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envUint32(key string, fallback uint32) (uint32, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return uint32(v), nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}
