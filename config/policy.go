package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// NetworkPolicy holds the business constants of the referral network
type NetworkPolicy struct {
	MaxStructures         int
	MaxDepth              int
	FanOut                int
	ReferralsPerStructure int

	// Rates are in basis points: 1000 = 10%
	BaseRateBps  int64
	RateStepBps  int64
	EliteRateBps int64

	// Money is in minor units of the payout currency
	SubscriptionPrice int64
	DirectBonusAmount int64
	PayoutCurrency    string

	// Crypto payments are in micro-units of IntentCurrency
	InitialPaymentAmount      int64
	SubscriptionPaymentAmount int64
	IntentCurrency            string
	IntentTTL                 time.Duration
	// LatePaymentWindow bounds how long after expiry a payment is still honored; <= 0 means no cutoff
	LatePaymentWindow time.Duration
}

// DefaultNetworkPolicy returns the schedule the network launched with
func DefaultNetworkPolicy() NetworkPolicy {
	return NetworkPolicy{
		MaxStructures:             6,
		MaxDepth:                  6,
		FanOut:                    3,
		ReferralsPerStructure:     3,
		BaseRateBps:               1000,
		RateStepBps:               100,
		EliteRateBps:              1600,
		SubscriptionPrice:         5000,
		DirectBonusAmount:         2500,
		PayoutCurrency:            "USD",
		InitialPaymentAmount:      50000000,
		SubscriptionPaymentAmount: 50000000,
		IntentCurrency:            "USDC",
		IntentTTL:                 30 * time.Minute,
		LatePaymentWindow:         24 * time.Hour,
	}
}

// StructureCapacity is the number of placed positions one structure holds (3+9+...+729)
func (p NetworkPolicy) StructureCapacity() int {
	total, width := 0, 1
	for level := 1; level <= p.MaxDepth; level++ {
		width *= p.FanOut
		total += width
	}
	return total
}

// StructureRateBps returns the residual rate of a structure, honoring the Elite override
func (p NetworkPolicy) StructureRateBps(structureNumber, completedStructures int) int64 {
	if completedStructures >= p.MaxStructures {
		return p.EliteRateBps
	}
	return p.BaseRateBps + int64(structureNumber-1)*p.RateStepBps
}

// UnlockedStructuresFor returns how many structures a direct referral count unlocks
func (p NetworkPolicy) UnlockedStructuresFor(directReferrals int) int {
	if p.ReferralsPerStructure <= 0 {
		return 0
	}
	n := directReferrals / p.ReferralsPerStructure
	if n > p.MaxStructures {
		n = p.MaxStructures
	}
	return n
}

// IntentAmount returns the expected deposit for an intent type
func (p NetworkPolicy) IntentAmount(intentType string) int64 {
	if intentType == "subscription" {
		return p.SubscriptionPaymentAmount
	}
	return p.InitialPaymentAmount
}

// RuntimeConfig holds process settings: timeouts, concurrency, schedules
type RuntimeConfig struct {
	Port              string
	Env               string
	StoreBackend      string
	DatabaseName      string
	TransferTimeout   time.Duration
	MaxPayoutRetries  int
	PayoutConcurrency int
	TransfersPerSec   float64
	StaleProcessing   time.Duration
	PlacementAttempts int

	ResidualsCron     string
	PayoutCron        string
	QualificationCron string
	IntentPollCron    string
	IntentSweepCron   string
	StaleCheckCron    string
	SchedulerEnabled  bool

	ChainObserverURL string
	AdminEmails      []string
	JWTSecret        string
	CORSOrigins      []string
	RedisEnabled     bool
}

// LoadNetworkPolicy reads the policy from the environment, falling back to defaults
func LoadNetworkPolicy() NetworkPolicy {
	p := DefaultNetworkPolicy()
	p.MaxStructures = getEnvAsInt("NETWORK_MAX_STRUCTURES", p.MaxStructures)
	p.MaxDepth = getEnvAsInt("NETWORK_MAX_DEPTH", p.MaxDepth)
	p.FanOut = getEnvAsInt("NETWORK_FAN_OUT", p.FanOut)
	p.ReferralsPerStructure = getEnvAsInt("NETWORK_REFERRALS_PER_STRUCTURE", p.ReferralsPerStructure)
	p.BaseRateBps = getEnvAsInt64("COMMISSION_BASE_RATE_BPS", p.BaseRateBps)
	p.RateStepBps = getEnvAsInt64("COMMISSION_RATE_STEP_BPS", p.RateStepBps)
	p.EliteRateBps = getEnvAsInt64("COMMISSION_ELITE_RATE_BPS", p.EliteRateBps)
	p.SubscriptionPrice = getEnvAsInt64("SUBSCRIPTION_PRICE_MINOR", p.SubscriptionPrice)
	p.DirectBonusAmount = getEnvAsInt64("DIRECT_BONUS_MINOR", p.DirectBonusAmount)
	p.PayoutCurrency = getEnv("PAYOUT_CURRENCY", p.PayoutCurrency)
	p.InitialPaymentAmount = getEnvAsInt64("INITIAL_PAYMENT_MICRO", p.InitialPaymentAmount)
	p.SubscriptionPaymentAmount = getEnvAsInt64("SUBSCRIPTION_PAYMENT_MICRO", p.SubscriptionPaymentAmount)
	p.IntentCurrency = getEnv("INTENT_CURRENCY", p.IntentCurrency)
	p.IntentTTL = getEnvAsDuration("INTENT_TTL", p.IntentTTL)
	p.LatePaymentWindow = getEnvAsDuration("LATE_PAYMENT_WINDOW", p.LatePaymentWindow)
	return p
}

// LoadRuntimeConfig reads process settings from the environment
func LoadRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "production"),
		StoreBackend:      getEnv("STORE_BACKEND", "mongo"),
		DatabaseName:      getEnv("DB_NAME", "barrim_network"),
		TransferTimeout:   getEnvAsDuration("TRANSFER_TIMEOUT", 30*time.Second),
		MaxPayoutRetries:  getEnvAsInt("PAYOUT_MAX_RETRIES", 3),
		PayoutConcurrency: getEnvAsInt("PAYOUT_CONCURRENCY", 4),
		TransfersPerSec:   getEnvAsFloat("PAYOUT_TRANSFERS_PER_SEC", 5),
		StaleProcessing:   getEnvAsDuration("PAYOUT_STALE_PROCESSING", 15*time.Minute),
		PlacementAttempts: getEnvAsInt("PLACEMENT_ATTEMPTS", 5),

		ResidualsCron:     getEnv("CRON_RESIDUALS", "0 2 1 * *"),
		PayoutCron:        getEnv("CRON_PAYOUTS", "0 6 1 * *"),
		QualificationCron: getEnv("CRON_QUALIFICATION", "30 * * * *"),
		IntentPollCron:    getEnv("CRON_INTENT_POLL", "* * * * *"),
		IntentSweepCron:   getEnv("CRON_INTENT_SWEEP", "*/15 * * * *"),
		StaleCheckCron:    getEnv("CRON_STALE_PAYOUTS", "*/10 * * * *"),
		SchedulerEnabled:  getEnvAsBool("SCHEDULER_ENABLED", true),

		ChainObserverURL: getEnv("CHAIN_OBSERVER_URL", ""),
		AdminEmails:      getEnvAsSlice("ADMIN_EMAILS", nil),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		CORSOrigins:      getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
		RedisEnabled:     getEnvAsBool("REDIS_ENABLED", false),
	}
}

// IsDevelopment reports whether the process runs in a development environment
func (c RuntimeConfig) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if val, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if val, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if val, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if val, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
