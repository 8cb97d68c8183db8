package logger

import "go.uber.org/zap"

// New builds the process-wide zap logger. Development mode switches to a
// human-readable console encoder.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
