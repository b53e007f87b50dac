package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger. Development gets the console encoder with
// debug enabled; anything else gets production JSON.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
