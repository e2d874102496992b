package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Operator is a local account that may log in and access the report endpoints.
// Password is an argon2 hash as produced by argon2-hashing.
type Operator struct {
	Username string
	Password string
	Role     string `default:"viewer"`
}

// Config describes all configuration options
type Config struct {
	Ledger struct {
		Backend  string `default:"csv" usage:"Ledger backend (csv or postgres)"`
		File     string `default:"sales.csv" usage:"Path to the CSV sales ledger"`
		Database string `default:"postgres://localhost/ledgerd" usage:"PostgreSQL DSN (only used with the postgres backend)"`
	}
	State struct {
		File string `default:"state.db" usage:"Path to the local sync state database"`
	}
	Reports struct {
		Share        float64 `default:"0.10" usage:"Revenue share fraction applied in reports (i.e. 0.10 for 10%)"`
		Dir          string  `default:"reports" usage:"Directory for generated report files (also served under /files/)"`
		TopCustomers int     `default:"10" usage:"Number of rows on the dashboard's top customer sheet"`
	}
	Log struct {
		Level string `default:"info"`
		File  string
		JSON  bool `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	HTTP struct {
		Address string `default:"127.0.0.1:8080" usage:"Address to listen on"`
		BaseURL string `default:"http://example.com" usage:"Public URL for this server"`
	}
	Platform struct {
		BaseURL     string `default:"https://api.myplatform.example" usage:"Base URL of the platform API users are synced to"`
		Token       string `usage:"Bearer token for the platform API"`
		DefaultPlan string `default:"free" usage:"Plan assigned when the CRM event doesn't carry one"`
	}
	Webhook struct {
		Secret string `usage:"Shared secret for webhook HMAC signatures (empty disables the check)"`
	}
	Auth struct {
		Secret    string `usage:"Signing secret for session tokens"`
		TokenTTL  int    `default:"86400" usage:"Session token lifetime in seconds"`
		Operators []Operator
	}
	Argon2 struct {
		Memory      uint32 `default:"65536"`
		Iterations  uint32 `default:"3"`
		Parallelism uint8  `default:"2"`
		SaltLength  uint32 `default:"16"`
		KeyLength   uint32 `default:"32"`
	}
	Mail struct {
		From       string `usage:"Mail sender"`
		Server     string `usage:"SMTP server (empty logs mails instead of sending them)"`
		Port       int
		Encryption string `default:"STARTTLS" usage:"Transport encryption (STARTTLS, SSL or None)"`
		Username   string
		Password   string

		Welcome struct {
			Subject string `default:"[ledgerd] Welcome!" usage:"Welcome mail subject"`
			Text    string `usage:"Text template for the welcome mail"`
			HTML    string `usage:"HTML template for the welcome mail"`
		}
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

var operatorRoles = map[string]bool{
	"viewer":   true,
	"operator": true,
	"admin":    true,
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader() (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:  "LEDGERD",
		FlagPrefix: "cfg",
		Files:      []string{"config.toml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	switch cfg.Ledger.Backend {
	case "csv":
	case "postgres":
		_, err := pgxpool.ParseConfig(cfg.Ledger.Database)
		if err != nil {
			return eris.Wrapf(err, `Invalid value for ledger.database`)
		}
	default:
		return eris.Errorf(`Invalid value for ledger.backend: %s (must be csv or postgres)`, cfg.Ledger.Backend)
	}

	if cfg.Reports.Share < 0 || cfg.Reports.Share > 1 {
		return eris.Errorf(`Invalid value for reports.share: %f (must be between 0 and 1)`, cfg.Reports.Share)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	switch cfg.Mail.Encryption {
	case "STARTTLS":
	case "SSL":
	case "None":
		// valid
		break
	default:
		return eris.Errorf(`Invalid value for mail.encryption: %s (must be one of STARTTLS, SSL or None)`, cfg.Mail.Encryption)
	}

	if len(cfg.Auth.Operators) > 0 && cfg.Auth.Secret == "" {
		return eris.New(`auth.secret must be set when operators are configured`)
	}

	for _, op := range cfg.Auth.Operators {
		if op.Username == "" || op.Password == "" {
			return eris.New(`Operators need both a username and a password hash`)
		}

		if !operatorRoles[op.Role] {
			return eris.Errorf(`Invalid role for operator %s: %s (must be viewer, operator or admin)`, op.Username, op.Role)
		}
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
