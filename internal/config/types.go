package config

// Config is the process configuration file. Durations are Go duration strings
// ("500ms", "10s", "1m"). Runtime notification settings live in the store,
// not here.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http"`
	Telegram TelegramConfig `json:"telegram"`
	Email    EmailConfig    `json:"email"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Probe    ProbeConfig    `json:"probe"`
	Monitor  MonitorConfig  `json:"monitor"`
	Notifier NotifierConfig `json:"notifier"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines at or above MinLevel into a chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/serverwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite | file | memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// Token, when set, is required as a bearer token on /api/* (never logged).
	Token           string `json:"token,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	APIURL       string  `json:"api_url,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
}

type EmailConfig struct {
	Enabled  bool      `json:"enabled"`
	Provider string    `json:"provider"` // smtp | brevo | gmail | mock
	From     string    `json:"from"`
	FromName string    `json:"from_name,omitempty"`
	SMTP     SMTPEmail `json:"smtp"`
	Brevo    Brevo     `json:"brevo"`
	Gmail    Gmail     `json:"gmail"`
}

type SMTPEmail struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Brevo struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
}

type Gmail struct {
	CredentialsJSON string `json:"credentials_json,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token"`
	PhoneNumberID string `json:"phone_number_id"`
	APIBase       string `json:"api_base,omitempty"`
	VerifyOnInit  bool   `json:"verify_on_init,omitempty"`
}

type ProbeConfig struct {
	StatusAPI string `json:"status_api"`
	Timeout   string `json:"timeout"`
	UserAgent string `json:"user_agent,omitempty"`
}

type MonitorConfig struct {
	DedupWindow      string `json:"dedup_window"`
	RecoveryInterval string `json:"recovery_interval"`
	// Targets are created on first boot when the store holds no targets.
	Targets []SeedTarget `json:"targets,omitempty"`
}

type SeedTarget struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	Variant      string `json:"variant,omitempty"`
	PollInterval int    `json:"poll_interval,omitempty"` // seconds
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "error",
				RatePerSec: 1,
			},
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			Path:        "./data/serverwatch.db",
			BusyTimeout: "1s",
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     "15s",
			ShutdownTimeout: "5s",
		},
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Email:    EmailConfig{Provider: "smtp", SMTP: SMTPEmail{Port: 587}},
		Probe: ProbeConfig{
			StatusAPI: "https://api.mcstatus.io/v2/status",
			Timeout:   "10s",
		},
		Monitor: MonitorConfig{
			DedupWindow:      "30m",
			RecoveryInterval: "60s",
		},
		Notifier: NotifierConfig{
			RatePerSec:  3,
			SendTimeout: "30s",
		},
	}
}
