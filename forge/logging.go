package forge

import (
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/hashicorp/go-retryablehttp"
)

type retryableHTTPLeveledLogger struct{}

var _ retryablehttp.LeveledLogger = retryableHTTPLeveledLogger{}

func (r retryableHTTPLeveledLogger) Error(msg string, keysAndValues ...any) {
	logger.Error(msg, keysAndValues...)
}

func (r retryableHTTPLeveledLogger) Info(msg string, keysAndValues ...any) {
	logger.Info(msg, keysAndValues...)
}

func (r retryableHTTPLeveledLogger) Debug(msg string, keysAndValues ...any) {
	logger.Debug(msg, keysAndValues...)
}

func (r retryableHTTPLeveledLogger) Warn(msg string, keysAndValues ...any) {
	logger.Warn(msg, keysAndValues...)
}
