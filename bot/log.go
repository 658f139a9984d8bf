package bot

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// NewLogger creates the base logger according to the "log" section.
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	var cfg zap.Config
	if v.GetBool("log.development") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zap.ParseAtomicLevel(v.GetString("log.level"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	cfg.Level = lvl

	return cfg.Build()
}

// Named returns a sugared logger in the given namespace.
func Named(l *zap.Logger, name string) *zap.SugaredLogger {
	return l.With(zap.String("ns", name)).Sugar()
}
