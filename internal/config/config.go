package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LedgerBackendSQLite = "sqlite"
	LedgerBackendMemory = "memory"
	LedgerBackendRedis  = "redis"
)

type GlobalFlags struct {
	ConfigPath          string
	JSON                bool
	Plain               bool
	Select              string
	ResultsOnly         bool
	EnableCommands      string
	ReadOnly            bool
	Timeout             string
	Retries             int
	APIBaseURL          string
	OwnerAddress        string
	RPCURL              string
	Countdown           int
	ConfirmationTimeout string
	DryRun              bool
	NoCache             bool
	LogLevel            string
}

// Contracts holds the addresses of the external contracts consumed by plans.
type Contracts struct {
	Payment            string
	USDC               string
	SwapPool           string
	RentToOwn          string
	PropertyTreasury   string
	PropertyShareToken string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	ReadOnly       bool
	Timeout        time.Duration
	Retries        int

	APIBaseURL   string
	OwnerAddress string
	Chain        string
	RPCURL       string
	KeySource    string
	Contracts    Contracts

	CountdownSeconds    int
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	GasMultiplier       float64
	MaxFeeGwei          string
	MaxPriorityFeeGwei  string
	DryRun              bool

	SequenceStorePath string
	SequenceLockPath  string

	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	FriendCacheTTL time.Duration

	LedgerBackend  string
	LedgerPath     string
	LedgerLockPath string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	RebalanceSchedule string
	LogLevel          string
	LogFormat         string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	ReadOnly *bool  `yaml:"read_only"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	API      struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
	Wallet struct {
		Owner     string `yaml:"owner"`
		Chain     string `yaml:"chain"`
		RPCURL    string `yaml:"rpc_url"`
		KeySource string `yaml:"key_source"`
	} `yaml:"wallet"`
	Contracts struct {
		Payment            string `yaml:"payment"`
		USDC               string `yaml:"usdc"`
		SwapPool           string `yaml:"swap_pool"`
		RentToOwn          string `yaml:"rent_to_own"`
		PropertyTreasury   string `yaml:"property_treasury"`
		PropertyShareToken string `yaml:"property_share_token"`
	} `yaml:"contracts"`
	Execution struct {
		CountdownSeconds    *int     `yaml:"countdown_seconds"`
		ConfirmationTimeout string   `yaml:"confirmation_timeout"`
		PollInterval        string   `yaml:"poll_interval"`
		GasMultiplier       *float64 `yaml:"gas_multiplier"`
		MaxFeeGwei          string   `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei  string   `yaml:"max_priority_fee_gwei"`
		DryRun              *bool    `yaml:"dry_run"`
		SequencesPath       string   `yaml:"sequences_path"`
		SequencesLockPath   string   `yaml:"sequences_lock_path"`
	} `yaml:"execution"`
	Cache struct {
		Enabled   *bool  `yaml:"enabled"`
		Path      string `yaml:"path"`
		LockPath  string `yaml:"lock_path"`
		FriendTTL string `yaml:"friend_ttl"`
	} `yaml:"cache"`
	Ledger struct {
		Backend          string `yaml:"backend"`
		Path             string `yaml:"path"`
		LockPath         string `yaml:"lock_path"`
		RedisAddr        string `yaml:"redis_addr"`
		RedisPasswordEnv string `yaml:"redis_password_env"`
		RedisDB          *int   `yaml:"redis_db"`
	} `yaml:"ledger"`
	Rebalance struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"rebalance"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CountdownSeconds <= 0 {
		settings.CountdownSeconds = 5
	}
	if settings.ConfirmationTimeout <= 0 {
		settings.ConfirmationTimeout = 2 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 2 * time.Second
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}
	switch settings.LedgerBackend {
	case LedgerBackendSQLite, LedgerBackendMemory, LedgerBackendRedis:
	default:
		return Settings{}, fmt.Errorf("ledger backend must be sqlite, memory or redis")
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	dir, err := defaultStateDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:          "json",
		Timeout:             10 * time.Second,
		Retries:             1,
		APIBaseURL:          "http://localhost:3000",
		Chain:               "base",
		KeySource:           "auto",
		CountdownSeconds:    5,
		ConfirmationTimeout: 2 * time.Minute,
		PollInterval:        2 * time.Second,
		GasMultiplier:       1.2,
		SequenceStorePath:   filepath.Join(dir, "sequences.db"),
		SequenceLockPath:    filepath.Join(dir, "sequences.lock"),
		CacheEnabled:        true,
		CachePath:           filepath.Join(dir, "cache.db"),
		CacheLockPath:       filepath.Join(dir, "cache.lock"),
		FriendCacheTTL:      10 * time.Minute,
		LedgerBackend:       LedgerBackendSQLite,
		LedgerPath:          filepath.Join(dir, "ledger.db"),
		LedgerLockPath:      filepath.Join(dir, "ledger.lock"),
		RebalanceSchedule:   "@every 1h",
		LogLevel:            "info",
		LogFormat:           "text",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "rwa", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "rwa"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ReadOnly != nil {
		settings.ReadOnly = *cfg.ReadOnly
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	setString(&settings.APIBaseURL, cfg.API.BaseURL)
	setString(&settings.OwnerAddress, cfg.Wallet.Owner)
	setString(&settings.Chain, cfg.Wallet.Chain)
	setString(&settings.RPCURL, cfg.Wallet.RPCURL)
	setString(&settings.KeySource, cfg.Wallet.KeySource)

	setString(&settings.Contracts.Payment, cfg.Contracts.Payment)
	setString(&settings.Contracts.USDC, cfg.Contracts.USDC)
	setString(&settings.Contracts.SwapPool, cfg.Contracts.SwapPool)
	setString(&settings.Contracts.RentToOwn, cfg.Contracts.RentToOwn)
	setString(&settings.Contracts.PropertyTreasury, cfg.Contracts.PropertyTreasury)
	setString(&settings.Contracts.PropertyShareToken, cfg.Contracts.PropertyShareToken)

	if cfg.Execution.CountdownSeconds != nil {
		settings.CountdownSeconds = *cfg.Execution.CountdownSeconds
	}
	if cfg.Execution.ConfirmationTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ConfirmationTimeout)
		if err != nil {
			return fmt.Errorf("config execution.confirmation_timeout: %w", err)
		}
		settings.ConfirmationTimeout = d
	}
	if cfg.Execution.PollInterval != "" {
		d, err := time.ParseDuration(cfg.Execution.PollInterval)
		if err != nil {
			return fmt.Errorf("config execution.poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Execution.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Execution.GasMultiplier
	}
	setString(&settings.MaxFeeGwei, cfg.Execution.MaxFeeGwei)
	setString(&settings.MaxPriorityFeeGwei, cfg.Execution.MaxPriorityFeeGwei)
	if cfg.Execution.DryRun != nil {
		settings.DryRun = *cfg.Execution.DryRun
	}
	setString(&settings.SequenceStorePath, cfg.Execution.SequencesPath)
	setString(&settings.SequenceLockPath, cfg.Execution.SequencesLockPath)

	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	setString(&settings.CachePath, cfg.Cache.Path)
	setString(&settings.CacheLockPath, cfg.Cache.LockPath)
	if cfg.Cache.FriendTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.FriendTTL)
		if err != nil {
			return fmt.Errorf("config cache.friend_ttl: %w", err)
		}
		settings.FriendCacheTTL = d
	}

	if cfg.Ledger.Backend != "" {
		settings.LedgerBackend = strings.ToLower(cfg.Ledger.Backend)
	}
	setString(&settings.LedgerPath, cfg.Ledger.Path)
	setString(&settings.LedgerLockPath, cfg.Ledger.LockPath)
	setString(&settings.RedisAddr, cfg.Ledger.RedisAddr)
	if cfg.Ledger.RedisPasswordEnv != "" {
		settings.RedisPassword = os.Getenv(cfg.Ledger.RedisPasswordEnv)
	}
	if cfg.Ledger.RedisDB != nil {
		settings.RedisDB = *cfg.Ledger.RedisDB
	}

	setString(&settings.RebalanceSchedule, cfg.Rebalance.Schedule)
	setString(&settings.LogLevel, cfg.Log.Level)
	setString(&settings.LogFormat, cfg.Log.Format)
	return nil
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("RWA_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("RWA_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.ReadOnly = b
		}
	}
	if v := os.Getenv("RWA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("RWA_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	setString(&settings.APIBaseURL, os.Getenv("RWA_API_BASE_URL"))
	setString(&settings.OwnerAddress, os.Getenv("RWA_OWNER_ADDRESS"))
	setString(&settings.Chain, os.Getenv("RWA_CHAIN"))
	setString(&settings.RPCURL, os.Getenv("RWA_RPC_URL"))
	if v := os.Getenv("RWA_COUNTDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.CountdownSeconds = n
		}
	}
	if v := os.Getenv("RWA_CONFIRMATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmationTimeout = d
		}
	}
	setString(&settings.MaxFeeGwei, os.Getenv("RWA_MAX_FEE_GWEI"))
	setString(&settings.MaxPriorityFeeGwei, os.Getenv("RWA_MAX_PRIORITY_FEE_GWEI"))
	if v := os.Getenv("RWA_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.DryRun = b
		}
	}
	if v := os.Getenv("RWA_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	setString(&settings.SequenceStorePath, os.Getenv("RWA_SEQUENCES_PATH"))
	setString(&settings.SequenceLockPath, os.Getenv("RWA_SEQUENCES_LOCK_PATH"))
	setString(&settings.CachePath, os.Getenv("RWA_CACHE_PATH"))
	setString(&settings.CacheLockPath, os.Getenv("RWA_CACHE_LOCK_PATH"))
	if v := os.Getenv("RWA_LEDGER_BACKEND"); v != "" {
		settings.LedgerBackend = strings.ToLower(v)
	}
	setString(&settings.LedgerPath, os.Getenv("RWA_LEDGER_PATH"))
	setString(&settings.LedgerLockPath, os.Getenv("RWA_LEDGER_LOCK_PATH"))
	setString(&settings.RedisAddr, os.Getenv("RWA_REDIS_ADDR"))
	if v := os.Getenv("RWA_REDIS_PASSWORD"); v != "" {
		settings.RedisPassword = v
	}
	setString(&settings.LogLevel, os.Getenv("RWA_LOG_LEVEL"))
	setString(&settings.LogFormat, os.Getenv("RWA_LOG_FORMAT"))
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	settings.SelectFields = splitList(flags.Select)
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}
	if flags.ReadOnly {
		settings.ReadOnly = true
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	setString(&settings.APIBaseURL, flags.APIBaseURL)
	setString(&settings.OwnerAddress, flags.OwnerAddress)
	setString(&settings.RPCURL, flags.RPCURL)
	if flags.Countdown > 0 {
		settings.CountdownSeconds = flags.Countdown
	}
	if flags.ConfirmationTimeout != "" {
		d, err := time.ParseDuration(flags.ConfirmationTimeout)
		if err != nil {
			return fmt.Errorf("parse --confirmation-timeout: %w", err)
		}
		settings.ConfirmationTimeout = d
	}
	if flags.DryRun {
		settings.DryRun = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	setString(&settings.LogLevel, flags.LogLevel)

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
