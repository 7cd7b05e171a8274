package logging

import "github.com/pressly/goose/v3"

type ShoreLoggerGoose struct {
}

var _ goose.Logger = (*ShoreLoggerGoose)(nil)

func (s ShoreLoggerGoose) Fatalf(format string, v ...interface{}) {
	Fatalf(format, v...)
}

func (s ShoreLoggerGoose) Printf(format string, v ...interface{}) {
	Infof(format, v...)
}
