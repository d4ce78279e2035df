package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is applied by envconfig when processing the environment.
const EnvPrefix = "verifio"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Config aggregates every tunable the binaries consume.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Password   PasswordConfig
	Activation ActivationConfig
	Outbox     OutboxConfig
	Mail       MailConfig
	Metrics    MetricsConfig
}

// Load processes the environment into a Config and derives the DB DSN.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VERIFIO_APP_ENV" default:"dev"`
	Port         string `envconfig:"VERIFIO_APP_PORT" default:"8000"`
	LogLevel     string `envconfig:"VERIFIO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VERIFIO_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"VERIFIO_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"VERIFIO_DB_DSN"`

	Host     string `envconfig:"VERIFIO_DB_HOST"`
	Port     int    `envconfig:"VERIFIO_DB_PORT" default:"5432"`
	User     string `envconfig:"VERIFIO_DB_USER"`
	Password string `envconfig:"VERIFIO_DB_PASSWORD"`
	Name     string `envconfig:"VERIFIO_DB_NAME"`
	SSLMode  string `envconfig:"VERIFIO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VERIFIO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VERIFIO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VERIFIO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VERIFIO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VERIFIO_REDIS_URL"`
	Address      string        `envconfig:"VERIFIO_REDIS_ADDR"`
	Password     string        `envconfig:"VERIFIO_REDIS_PASSWORD"`
	DB           int           `envconfig:"VERIFIO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VERIFIO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VERIFIO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VERIFIO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VERIFIO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VERIFIO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"VERIFIO_JWT_SECRET"`
	Issuer                 string `envconfig:"VERIFIO_JWT_ISSUER" default:"verifio"`
	ExpirationMinutes      int    `envconfig:"VERIFIO_JWT_EXPIRATION_MINUTES" default:"15"`
	RefreshTokenTTLMinutes int    `envconfig:"VERIFIO_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"VERIFIO_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"VERIFIO_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"VERIFIO_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"VERIFIO_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"VERIFIO_ARGON_KEY_LEN" default:"32"`
}

type ActivationConfig struct {
	CodeTTL        time.Duration `envconfig:"VERIFIO_ACTIVATION_CODE_TTL" default:"60s"`
	MaxAttempts    int           `envconfig:"VERIFIO_ACTIVATION_MAX_ATTEMPTS" default:"5"`
	ResendThrottle time.Duration `envconfig:"VERIFIO_ACTIVATION_RESEND_THROTTLE" default:"60s"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"VERIFIO_OUTBOX_BATCH_SIZE" default:"10"`
	PollIntervalMS int           `envconfig:"VERIFIO_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts    int           `envconfig:"VERIFIO_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetryBase      time.Duration `envconfig:"VERIFIO_OUTBOX_RETRY_BASE" default:"2s"`
	RetryMaxDelay  time.Duration `envconfig:"VERIFIO_OUTBOX_RETRY_MAX_DELAY" default:"5m"`
}

// PollInterval returns the dispatcher idle sleep between empty polls.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

type MailConfig struct {
	BaseURL  string        `envconfig:"VERIFIO_MAIL_BASE_URL" default:"http://smtp-relay:8025"`
	SendPath string        `envconfig:"VERIFIO_MAIL_SEND_PATH" default:"/send"`
	Timeout  time.Duration `envconfig:"VERIFIO_MAIL_TIMEOUT" default:"5s"`
}

type MetricsConfig struct {
	Addr string `envconfig:"VERIFIO_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := []struct {
		env   string
		value string
	}{
		{"VERIFIO_DB_HOST", db.Host},
		{"VERIFIO_DB_USER", db.User},
		{"VERIFIO_DB_NAME", db.Name},
	}
	for _, entry := range required {
		if entry.value == "" {
			missing = append(missing, entry.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either VERIFIO_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
