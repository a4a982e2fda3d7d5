// Package logger provides a slog logging wrapper that all packages within fixfinder should use to log output.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"cloud.google.com/go/errorreporting"
)

var (
	slogLogger  *slog.Logger
	errorClient *errorreporting.Client
	once        sync.Once
	level       = new(slog.LevelVar)
)

// InitGlobalLogger initializes the global slog logger and, when running in GCP,
// the Error Reporting and Cloud Trace clients.
func InitGlobalLogger(ctx context.Context) {
	once.Do(func() {
		var handler slog.Handler
		if inCloud() {
			projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
			if projectID != "" {
				name := serviceName()
				initErrorReporting(ctx, projectID, name)
				initTracing(ctx, projectID, name)
			}
			handler = slog.NewJSONHandler(os.Stdout, cloudHandlerOptions())
		} else {
			handler = newLocalHandler(os.Stderr, level)
		}
		slogLogger = slog.New(&contextHandler{handler})
	})
}

// SetLevel changes the minimum level that is logged. The default is Info.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetVerbose switches the logger between Debug and Info.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

func inCloud() bool {
	inGKE := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	inCloudRun := os.Getenv("K_SERVICE") != ""

	return inGKE || inCloudRun
}

func serviceName() string {
	if name := os.Getenv("K_SERVICE"); name != "" {
		return name
	}

	// GKE jobs don't set K_SERVICE.
	return filepath.Base(os.Args[0])
}

func log(ctx context.Context, lvl slog.Level, msg string, a []any) {
	InitGlobalLogger(ctx)
	if !slogLogger.Handler().Enabled(ctx, lvl) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, log, Info/Warn/etc]
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.Add(a...)
	//nolint:errcheck
	slogLogger.Handler().Handle(ctx, r)

	if lvl >= slog.LevelError && errorClient != nil {
		errorClient.Report(errorreporting.Entry{
			Error: fmt.Errorf("%s %v", msg, a),
		})
	}
}

// Debug prints a Debug level log.
//
//nolint:contextcheck,nolintlint
func Debug(msg string, a ...any) {
	log(context.Background(), slog.LevelDebug, msg, a)
}

// DebugContext prints a Debug level log with context.
func DebugContext(ctx context.Context, msg string, a ...any) {
	log(ctx, slog.LevelDebug, msg, a)
}

// Info prints an Info level log.
//
//nolint:contextcheck,nolintlint
func Info(msg string, a ...any) {
	log(context.Background(), slog.LevelInfo, msg, a)
}

// InfoContext prints an Info level log with context.
func InfoContext(ctx context.Context, msg string, a ...any) {
	log(ctx, slog.LevelInfo, msg, a)
}

// Warn prints a Warning level log.
//
//nolint:contextcheck,nolintlint
func Warn(msg string, a ...any) {
	log(context.Background(), slog.LevelWarn, msg, a)
}

// WarnContext prints a Warning level log with context.
func WarnContext(ctx context.Context, msg string, a ...any) {
	log(ctx, slog.LevelWarn, msg, a)
}

// Error prints an Error level log.
//
//nolint:contextcheck,nolintlint
func Error(msg string, a ...any) {
	log(context.Background(), slog.LevelError, msg, a)
}

// ErrorContext prints an Error level log with context.
func ErrorContext(ctx context.Context, msg string, a ...any) {
	log(ctx, slog.LevelError, msg, a)
}

// Fatal prints an Error level log and then exits the program.
//
//nolint:contextcheck,nolintlint
func Fatal(msg string, a ...any) {
	log(context.Background(), slog.LevelError, msg, a)
	Close()
	os.Exit(1)
}
