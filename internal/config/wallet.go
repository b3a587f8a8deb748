package config

import (
	"os"
	"strconv"
	"time"
)

// WalletConfig carries the ledger and settlement knobs. Confirmation
// requirements that are disabled count as already satisfied.
type WalletConfig struct {
	WithdrawRetries      int
	MoveRetries          int
	DepositRetryCeiling  int
	BatchSize            int
	PassBudget           time.Duration
	TickerInterval       time.Duration
	AdminConfirmRequired bool
	UserConfirmRequired  bool
	SharedTenantPool     bool
}

func LoadWalletConfig() *WalletConfig {
	return &WalletConfig{
		WithdrawRetries:      getEnvAsInt("WALLET_WITHDRAW_RETRIES", 3),
		MoveRetries:          getEnvAsInt("WALLET_MOVE_RETRIES", 3),
		DepositRetryCeiling:  getEnvAsInt("WALLET_DEPOSIT_RETRY_CEILING", 100000),
		BatchSize:            getEnvAsInt("WALLET_SETTLEMENT_BATCH_SIZE", 8),
		PassBudget:           getEnvAsDuration("WALLET_SETTLEMENT_PASS_BUDGET", 30*time.Second),
		TickerInterval:       getEnvAsDuration("WALLET_SETTLEMENT_INTERVAL", 5*time.Minute),
		AdminConfirmRequired: getEnvAsBool("WALLET_ADMIN_CONFIRM_REQUIRED", false),
		UserConfirmRequired:  getEnvAsBool("WALLET_USER_CONFIRM_REQUIRED", true),
		SharedTenantPool:     getEnvAsBool("WALLET_SHARED_TENANT_POOL", false),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
