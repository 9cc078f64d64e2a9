package logging

import "go.uber.org/zap"

// ZapLogger adapts a *zap.SugaredLogger onto the runtime's Logger shape,
// for callers who already run zap and want the runtime's diagnostics
// folded into their existing structured-logging pipeline.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger. Passing nil builds a
// production zap logger via zap.NewProduction.
func NewZapLogger(z *zap.Logger) (*ZapLogger, error) {
	if z == nil {
		var err error
		z, err = zap.NewProduction()
		if err != nil {
			return nil, err
		}
	}
	return &ZapLogger{sugar: z.Sugar()}, nil
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *ZapLogger) Infof(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *ZapLogger) Warnf(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *ZapLogger) Errorf(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries, should be called before process exit.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
