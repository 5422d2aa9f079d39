package sentry

import (
	"time"

	sentrygo "github.com/getsentry/sentry-go"

	"github.com/d60-Lab/townhall/config"
)

// Init 初始化 Sentry；DSN 为空时不启用
func Init(cfg config.SentryConfig) (bool, error) {
	if cfg.DSN == "" {
		return false, nil
	}
	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Flush waits for buffered events before shutdown.
func Flush() { sentrygo.Flush(2 * time.Second) }
