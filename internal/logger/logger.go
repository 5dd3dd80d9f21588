package logger

import "go.uber.org/zap"

// New builds the process logger. Development mode switches to the console encoder
// with debug level enabled.
func New(development bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop is used by tests and tools that do not care about log output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
