package bot

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Configuration keys of a bot section.
const (
	CfgTgToken         = "tg_token"
	CfgDbConnStr       = "db_conn_str"
	CfgDbTimeout       = "db_timeout"
	CfgRetryAttempts   = "retry_attempts"
	CfgRetryDelay      = "retry_delay"
	CfgRequestTimeout  = "request_timeout"
	CfgTickInterval    = "tick_interval"
	CfgMaxTimerMinutes = "max_timer_minutes"
	CfgDebug           = "debug"

	EnvPrefix = "ABOT"
)

// Config keeps bot configuration
type Config struct {
	TgToken         string
	DBConnStr       string
	DBTimeout       time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	RequestTimeout  time.Duration
	TickInterval    time.Duration
	MaxTimerMinutes int
	Debug           bool
}

var defaults = map[string]any{
	CfgTgToken:         "",
	CfgDbConnStr:       "",
	CfgDbTimeout:       5 * time.Second,
	CfgRetryAttempts:   3,
	CfgRetryDelay:      time.Second,
	CfgRequestTimeout:  10 * time.Second,
	CfgTickInterval:    time.Second,
	CfgMaxTimerMinutes: 5999,
	CfgDebug:           false,
}

// NewViper creates a viper instance reading cfgFile (may be empty) and the
// environment. Environment variables use the ABOT prefix, e.g.
// ABOT_BOTS_TIMERBOT_TG_TOKEN.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	cfgFile = strings.TrimSpace(cfgFile)
	if cfgFile == "" {
		return v, nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed reading configuration from %q", cfgFile)
	}
	return v, nil
}

func section(name string) string {
	return "bots." + strings.ToLower(name)
}

// ReadConfig extracts configuration of the named bot. Keys are read one by one
// so that environment overrides apply to keys missing in the file.
func ReadConfig(v *viper.Viper, name string) (*Config, error) {
	sec := section(name)
	for k, val := range defaults {
		v.SetDefault(sec+"."+k, val)
	}
	key := func(k string) string { return sec + "." + k }

	cfg := &Config{
		TgToken:         strings.TrimSpace(v.GetString(key(CfgTgToken))),
		DBConnStr:       strings.TrimSpace(v.GetString(key(CfgDbConnStr))),
		DBTimeout:       v.GetDuration(key(CfgDbTimeout)),
		RetryAttempts:   v.GetInt(key(CfgRetryAttempts)),
		RetryDelay:      v.GetDuration(key(CfgRetryDelay)),
		RequestTimeout:  v.GetDuration(key(CfgRequestTimeout)),
		TickInterval:    v.GetDuration(key(CfgTickInterval)),
		MaxTimerMinutes: v.GetInt(key(CfgMaxTimerMinutes)),
		Debug:           v.GetBool(key(CfgDebug)),
	}

	if cfg.TickInterval <= 0 {
		return nil, errors.Errorf("%s: %s must be positive", name, CfgTickInterval)
	}
	if cfg.MaxTimerMinutes <= 0 {
		return nil, errors.Errorf("%s: %s must be positive", name, CfgMaxTimerMinutes)
	}
	return cfg, nil
}

// ValidateConfig makes sure that all required fields are set for the bot
func ValidateConfig(v *viper.Viper, rec Record) error {
	sec := section(rec.Name)
	missingFields := []string{}
	for _, field := range rec.RequiredConfigFields {
		if strings.TrimSpace(v.GetString(sec+"."+field)) == "" {
			missingFields = append(missingFields, field)
		}
	}

	if len(missingFields) > 0 {
		return errors.Errorf("%v's configuration is missing field(s): %s", rec.Name, strings.Join(missingFields, ", "))
	}

	return nil
}
