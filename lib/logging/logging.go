package logging

import (
	logging "github.com/textileio/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// Subsystems lists the loggers owned by bidledger.
var Subsystems = []string{
	"bidledger",
	"bidledger/ledger",
	"bidledger/store",
	"bidledger/collab",
	"bidledger/comm",
	"bidledger/clock",
	"bidledger/service",
	"bidledger/api",
}

// SetLogLevels sets levels for the given systems. The "*" system applies to
// every registered subsystem.
func SetLogLevels(systems map[string]logging.LogLevel) error {
	for sys, level := range systems {
		l := zapcore.Level(level)
		if sys == "*" {
			for _, s := range logging.GetSubsystems() {
				if err := logging.SetLogLevel(s, l.CapitalString()); err != nil {
					return err
				}
			}
			continue
		}
		if err := logging.SetLogLevel(sys, l.CapitalString()); err != nil {
			return err
		}
	}
	return nil
}
