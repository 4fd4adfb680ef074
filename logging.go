/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		zc := zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logDate)
		return zc.Build()
	}

	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// drainErrors logs handler write failures until ctx is done.
func drainErrors(cfg *Config, errs <-chan error, done <-chan struct{}) {
	for {
		select {
		case err := <-errs:
			cfg.log().Warn("write failed", zap.Error(err))
		case <-done:
			return
		}
	}
}
