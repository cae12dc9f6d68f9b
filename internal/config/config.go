package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var policyYAML []byte

type Config struct {
	Database DatabaseConfig
	Oracle   OracleConfig
	Matching MatchingConfig
	Risk     RiskConfig
	Auth     AuthConfig
	School   SchoolConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// OracleConfig locates the external embedding service that turns images
// into face embeddings. The service is consumed as a black box.
type OracleConfig struct {
	URL            string // defaults to http://localhost:8000
	TimeoutSeconds int    // per-call timeout (default 30)
	MaxImageSize   int    // max image dimension sent to the service (default 1920)
}

// MatchingConfig carries the distance cutoffs for the matcher. Both are
// distances in the embedding space; smaller is closer, and the confident
// cutoff must sit strictly below the uncertain one.
type MatchingConfig struct {
	Metric             string  `yaml:"metric"`
	ConfidentThreshold float64 `yaml:"confident_threshold"`
	UncertainThreshold float64 `yaml:"uncertain_threshold"`
}

// RiskConfig holds the at-risk attendance cutoff used by rollups and the
// monthly alert scan.
type RiskConfig struct {
	AtRiskPercentage float64 `yaml:"at_risk_percentage"`
}

type AuthConfig struct {
	JWTSecret       string
	QRTokenLifetime int // seconds a QR attendance token stays valid (default 120)
}

// SchoolConfig pins the deployment's notion of "today" for the daily ledger.
type SchoolConfig struct {
	Timezone       string // IANA name, defaults to UTC
	FutureSkewDays int    // how far into the future a confirm date may point (default 0)
}

type policyFile struct {
	Matching MatchingConfig `yaml:"matching"`
	Risk     RiskConfig     `yaml:"risk"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float, falling back
// to the default when unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func Load() *Config {
	var policy policyFile
	if err := yaml.Unmarshal(policyYAML, &policy); err != nil {
		// Embedded file, should never happen in practice.
		panic("failed to unmarshal embedded policy.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Oracle: OracleConfig{
			URL:            envString("ORACLE_URL", "http://localhost:8000"),
			TimeoutSeconds: envInt("ORACLE_TIMEOUT_SECONDS", 30),
			MaxImageSize:   envInt("ORACLE_MAX_IMAGE_SIZE", 1920),
		},
		Matching: MatchingConfig{
			Metric:             envString("MATCH_METRIC", policy.Matching.Metric),
			ConfidentThreshold: envFloat("MATCH_CONFIDENT_THRESHOLD", policy.Matching.ConfidentThreshold),
			UncertainThreshold: envFloat("MATCH_UNCERTAIN_THRESHOLD", policy.Matching.UncertainThreshold),
		},
		Risk: RiskConfig{
			AtRiskPercentage: envFloat("RISK_AT_RISK_PERCENTAGE", policy.Risk.AtRiskPercentage),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("JWT_SECRET"),
			QRTokenLifetime: envInt("QR_TOKEN_LIFETIME_SECONDS", 120),
		},
		School: SchoolConfig{
			Timezone:       envString("SCHOOL_TIMEZONE", "UTC"),
			FutureSkewDays: envInt("SCHOOL_FUTURE_SKEW_DAYS", 0),
		},
	}
}
