package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the process logger: human-readable in development, JSON
// everywhere else.
func New(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if strings.EqualFold(env, "development") {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewExample()
	}
	return log
}
