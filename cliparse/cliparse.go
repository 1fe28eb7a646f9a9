package cliparse

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
)

const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

type MailConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Configured reports whether outgoing mail can be sent
func (m MailConfig) Configured() bool {
	return m.Server != "" && m.Username != "" && m.Password != ""
}

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string

	SessionSecret string
	IPHashSalt    string

	UploadDir      string
	MaxUploadBytes int64
	PublicBaseURL  string

	TLSCert string
	TLSKey  string

	Mail MailConfig

	// Default AI endpoint used when a user selects chat_server without their own token
	ChatServerURL   string
	ChatServerToken string

	AdminUsername string
	AdminPassword string
	AdminEmail    string

	DefaultTaskLimit int
}

// ParseFlags validates flags and fills the rest from the environment
func ParseFlags(args []string) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet("quickform", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.UploadDir, "uploads", "", "Upload directory")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "TLS key file")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "Session secret (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		port, err := envInt("PORT", 3318)
		if err != nil {
			return Config{}, errors.New("invalid PORT env variable")
		}
		cfg.Port = port
	}

	if cfg.DatabaseType == "" {
		cfg.DatabaseType = os.Getenv("DATABASE_TYPE")
		if cfg.DatabaseType == "" {
			cfg.DatabaseType = DatabaseSQLite
		}
	}
	cfg.DatabaseType = strings.ToLower(cfg.DatabaseType)
	if cfg.DatabaseType != DatabaseSQLite && cfg.DatabaseType != DatabasePostgres {
		return Config{}, errors.New("database type must be sqlite or postgres")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		if cfg.DatabaseType == DatabasePostgres {
			return Config{}, errors.New("database URL required for postgres (use -d or DATABASE_URL env)")
		}
		cfg.DatabaseURL = "quickform.db"
	}

	// Secrets - MUST be provided
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	}
	if cfg.SessionSecret == "" {
		return Config{}, errors.New("SESSION_SECRET required")
	}
	cfg.IPHashSalt = envString("IP_HASH_SALT", cfg.SessionSecret)

	if cfg.UploadDir == "" {
		cfg.UploadDir = envString("UPLOAD_DIR", "uploads")
	}
	maxMB, err := envInt("MAX_UPLOAD_MB", 16)
	if err != nil || maxMB <= 0 {
		return Config{}, errors.New("invalid MAX_UPLOAD_MB env variable")
	}
	cfg.MaxUploadBytes = int64(maxMB) << 20
	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")

	if cfg.TLSCert == "" {
		cfg.TLSCert = os.Getenv("TLS_CERT")
	}
	if cfg.TLSKey == "" {
		cfg.TLSKey = os.Getenv("TLS_KEY")
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, errors.New("TLS_CERT and TLS_KEY must be set together")
	}

	cfg.Mail.Server = os.Getenv("MAIL_SERVER")
	mailPort, err := envInt("MAIL_PORT", 465)
	if err != nil {
		return Config{}, errors.New("invalid MAIL_PORT env variable")
	}
	cfg.Mail.Port = mailPort
	cfg.Mail.Username = os.Getenv("MAIL_USERNAME")
	cfg.Mail.Password = os.Getenv("MAIL_PASSWORD")
	cfg.Mail.UseTLS = envBool("MAIL_USE_TLS", true)

	cfg.ChatServerURL = envString("CHAT_SERVER_API_URL", "https://api.siliconflow.cn/v1")
	cfg.ChatServerToken = os.Getenv("CHAT_SERVER_API_TOKEN")

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")

	limit, err := envInt("DEFAULT_TASK_LIMIT", 5)
	if err != nil {
		return Config{}, errors.New("invalid DEFAULT_TASK_LIMIT env variable")
	}
	cfg.DefaultTaskLimit = limit

	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
