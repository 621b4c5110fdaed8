package logger

import (
	"github.com/fatflowers/stembill/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. dev gets a colored console encoder, everything
// else the JSON production encoder.
func New(cfg *config.Config) (*zap.SugaredLogger, error) {
	var zc zap.Config
	if cfg != nil && cfg.Env == config.EnvDev {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "time"
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().With("service", "stembill"), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
