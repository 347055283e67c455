package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Vendor selects the verification provider for this deployment. Exactly one
// is active per process; there is no per-request vendor switching.
type Vendor string

const (
	VendorHMRC     Vendor = "hmrc"
	VendorExperian Vendor = "experian"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres holds session store connection settings. An empty URL means the
// in-memory store is used instead.
type Postgres struct {
	URL string
}

// Redis holds vendor-token cache connection settings. An empty URL means the
// in-memory cache is used instead.
type Redis struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka holds side-channel publisher settings.
type Kafka struct {
	Brokers           []string
	PartialMatchTopic string
	AuditTopic        string
}

// KMS names the remote key material. Private keys never leave the KMS; these
// are references only.
type KMS struct {
	SigningKeyID    string
	SigningKeyAlias string
	DecryptionKeyID string
}

// HMRC configures the Confirmation of Payee client.
type HMRC struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Experian configures the Bank Wizard client.
type Experian struct {
	BaseURL        string
	TokenURL       string
	Username       string
	Password       string
	ClientID       string
	ClientSecret   string
	ScoreThreshold int
}

// Client is a registered relying party. Request JWTs are verified against the
// JWKS published at its base URL.
type Client struct {
	JWKSBaseURL string `json:"jwksBaseUrl"`
	RedirectURI string `json:"redirectUri"`
}

// Retry tunes the vendor call retry loop.
type Retry struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Sessions tunes session lifetimes and attempt limiting.
type Sessions struct {
	TTL            time.Duration
	AuthCodeTTL    time.Duration
	AccessTokenTTL time.Duration
	MaxAttempts    int
}

// Config is the full process configuration, built once at startup and passed
// down explicitly. There are no config singletons.
type Config struct {
	Server        Server
	Postgres      Postgres
	Redis         Redis
	Kafka         Kafka
	KMS           KMS
	Vendor        Vendor
	HMRC          HMRC
	Experian      Experian
	Retry         Retry
	Sessions      Sessions
	Clients       map[string]Client
	Issuer        string
	JWTSigningKey string
	Audience      string
}

// FromEnv builds the Config from environment variables so main stays lean.
// Mandatory values missing from the environment fail construction; the
// process must not start half-configured.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:            envDefault("CRI_ADDR", ":8080"),
			ShutdownTimeout: envDuration("CRI_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("CRI_POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("CRI_REDIS_URL"),
			PoolSize:     envInt("CRI_REDIS_POOL_SIZE", 10),
			DialTimeout:  envDuration("CRI_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CRI_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CRI_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:           splitNonEmpty(os.Getenv("CRI_KAFKA_BROKERS")),
			PartialMatchTopic: envDefault("CRI_PARTIAL_MATCH_TOPIC", "cri.bank-account.partial-match"),
			AuditTopic:        envDefault("CRI_AUDIT_TOPIC", "cri.bank-account.audit"),
		},
		Vendor: Vendor(envDefault("CRI_VENDOR", string(VendorHMRC))),
		Retry: Retry{
			MaxRetries: envInt("CRI_VENDOR_MAX_RETRIES", 3),
			BaseDelay:  envDuration("CRI_VENDOR_RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		Sessions: Sessions{
			TTL:            envDuration("CRI_SESSION_TTL", time.Hour),
			AuthCodeTTL:    envDuration("CRI_AUTH_CODE_TTL", 10*time.Minute),
			AccessTokenTTL: envDuration("CRI_ACCESS_TOKEN_TTL", time.Hour),
			MaxAttempts:    envInt("CRI_MAX_ATTEMPTS", 2),
		},
		Issuer:        envDefault("CRI_ISSUER", "https://review-bav.account.gov.uk"),
		JWTSigningKey: envDefault("CRI_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Audience:      envDefault("CRI_AUDIENCE", "https://review-bav.account.gov.uk"),
	}

	if raw := os.Getenv("CRI_CLIENTS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Clients); err != nil {
			return Config{}, fmt.Errorf("parsing CRI_CLIENTS: %w", err)
		}
	}

	var missing []string
	cfg.KMS = KMS{
		SigningKeyID:    mustEnv("CRI_KMS_SIGNING_KEY_ID", &missing),
		SigningKeyAlias: mustEnv("CRI_KMS_SIGNING_KEY_ALIAS", &missing),
		DecryptionKeyID: mustEnv("CRI_KMS_DECRYPTION_KEY_ID", &missing),
	}

	switch cfg.Vendor {
	case VendorHMRC:
		cfg.HMRC = HMRC{
			BaseURL:      mustEnv("CRI_HMRC_BASE_URL", &missing),
			TokenURL:     mustEnv("CRI_HMRC_TOKEN_URL", &missing),
			ClientID:     mustEnv("CRI_HMRC_CLIENT_ID", &missing),
			ClientSecret: mustEnv("CRI_HMRC_CLIENT_SECRET", &missing),
		}
	case VendorExperian:
		cfg.Experian = Experian{
			BaseURL:        mustEnv("CRI_EXPERIAN_BASE_URL", &missing),
			TokenURL:       mustEnv("CRI_EXPERIAN_TOKEN_URL", &missing),
			Username:       mustEnv("CRI_EXPERIAN_USERNAME", &missing),
			Password:       mustEnv("CRI_EXPERIAN_PASSWORD", &missing),
			ClientID:       mustEnv("CRI_EXPERIAN_CLIENT_ID", &missing),
			ClientSecret:   mustEnv("CRI_EXPERIAN_CLIENT_SECRET", &missing),
			ScoreThreshold: envInt("CRI_EXPERIAN_SCORE_THRESHOLD", 40),
		}
	default:
		return Config{}, fmt.Errorf("unknown vendor %q", cfg.Vendor)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing mandatory configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func mustEnv(key string, missing *[]string) string {
	v := os.Getenv(key)
	if v == "" {
		*missing = append(*missing, key)
	}
	return v
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
