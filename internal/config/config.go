package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		ReadTimeout    time.Duration
		WriteTimeout   time.Duration
		// TrustedProxies may set X-Forwarded-For; empty means none.
		TrustedProxies []string
	}
	Database struct {
		// Driver is one of sqlite, postgres or memory.
		Driver string
		Path   string
		DSN    string
	}
	Auth struct {
		SigningKey         string
		// SigningKeySource overrides SigningKey: file://path or s3://bucket/key.
		SigningKeySource   string
		Algorithm          string
		Issuer             string
		AccessTokenTTL     time.Duration
		RefreshTokenTTL    time.Duration
		BcryptCost         int
		Revocation         string
		AllowRoleSelection bool
	}
	APIKeys struct {
		Header string
		Keys   []string
	}
	RateLimit struct {
		Enabled     bool
		MaxRequests int
		Window      time.Duration
		MaxClients  int
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Storage struct {
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("BANKAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8000")
	v.SetDefault("server.readtimeout", 10*time.Second)
	v.SetDefault("server.writetimeout", 15*time.Second)
	v.SetDefault("server.trustedproxies", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/bank-auth.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.signingkey", "")
	v.SetDefault("auth.signingkeysource", "")
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("auth.issuer", "bank-auth")
	v.SetDefault("auth.accesstokenttl", 30*time.Minute)
	v.SetDefault("auth.refreshtokenttl", 7*24*time.Hour)
	v.SetDefault("auth.bcryptcost", 12)
	v.SetDefault("auth.revocation", "memory")
	v.SetDefault("auth.allowroleselection", false)
	v.SetDefault("apikeys.header", "X-API-Key")
	v.SetDefault("apikeys.keys", []string{})
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.maxrequests", 100)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.maxclients", 10000)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.APIKeys.Keys = splitKeys(cfg.APIKeys.Keys)
	cfg.Server.TrustedProxies = splitKeys(cfg.Server.TrustedProxies)

	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	if strings.TrimSpace(c.Auth.SigningKey) == "" && strings.TrimSpace(c.Auth.SigningKeySource) == "" {
		errs = append(errs, errors.New("auth.signingkey or auth.signingkeysource is required"))
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	switch c.Auth.Revocation {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown revocation backend %q", c.Auth.Revocation))
	}
	if c.Auth.Revocation == "redis" && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for redis revocation"))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			errs = append(errs, errors.New("ratelimit.maxrequests must be positive"))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("ratelimit.window must be positive"))
		}
		if c.RateLimit.MaxClients <= 0 {
			errs = append(errs, errors.New("ratelimit.maxclients must be positive"))
		}
	}
	if strings.TrimSpace(c.APIKeys.Header) == "" {
		errs = append(errs, errors.New("apikeys.header is required"))
	}

	return errors.Join(errs...)
}

// splitKeys flattens comma separated list entries and drops blanks.
func splitKeys(raw []string) []string {
	var keys []string
	for _, entry := range raw {
		for _, k := range strings.Split(entry, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
