package logger

import "go.uber.org/zap"

// New builds a sugared logger. Development mode gets console encoding and
// debug level, production gets JSON.
func New(env string) (*zap.SugaredLogger, error) {
	var l *zap.Logger
	var err error
	if env == "development" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
