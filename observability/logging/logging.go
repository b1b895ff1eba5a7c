// Package logging standardises the service's JSON log output.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup builds the service-wide slog.Logger, installs it as the default, and
// redirects the standard library logger into it. Output is JSON with
// timestamp/severity/message keys; the minimum level comes from
// FLAPGATE_LOG_LEVEL (debug, info, warn, error, defaulting to info).
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       parseLevel(os.Getenv("FLAPGATE_LOG_LEVEL")),
		ReplaceAttr: renameKeys,
	}).WithAttrs(serviceAttrs(service, env))

	base := slog.New(handler)
	slog.SetDefault(base)

	// Dependencies logging through the stdlib land in the same stream.
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func renameKeys(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.MessageKey:
		attr.Key = "message"
	case slog.LevelKey:
		attr = slog.String("severity", strings.ToUpper(attr.Value.String()))
	}
	return attr
}

func serviceAttrs(service, env string) []slog.Attr {
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return attrs
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
