package gxgbot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"reflect"
	"strings"
)

type contextKey string

// loggerContextKey is the context key used for passing a
// [slog.Logger] via context
const loggerContextKey contextKey = "logger"

// WithLogger returns a copy of ctx carrying the given logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger stored in ctx, or slog.Default()
// if none was set
func ContextLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default()
	}
	return logger
}

// generateRandomHexString returns a random hex string of the given
// byte length
func generateRandomHexString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// truncate shortens the given string to at most maxLen runes
func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// possessive returns the possessive form of a display name, following
// the usual apostrophe rule for names ending in 's'
func possessive(name string) string {
	if strings.HasSuffix(name, "s") || strings.HasSuffix(name, "S") {
		return name + "'"
	}
	return name + "'s"
}

// structToSlogValue converts a struct to a [slog.Value], honoring
// `log` struct tags. Fields tagged `log:"-"` are omitted, and tagged
// values (such as "[redacted]") replace the field's value in output.
func structToSlogValue(s any) slog.Value {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return slog.Value{}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return slog.AnyValue(s)
	}

	t := v.Type()
	var attrs []slog.Attr

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		if jsonTag, ok := field.Tag.Lookup("json"); ok {
			jsonName := strings.Split(jsonTag, ",")[0]
			if jsonName != "" && jsonName != "-" {
				name = jsonName
			}
		}

		logTag, hasLogTag := field.Tag.Lookup("log")
		if hasLogTag {
			if logTag == "-" {
				continue
			}
			attrs = append(attrs, slog.String(name, logTag))
			continue
		}

		fieldValue := v.Field(i)
		switch fieldValue.Kind() {
		case reflect.Struct:
			attrs = append(
				attrs,
				slog.Attr{Key: name, Value: structToSlogValue(fieldValue.Interface())},
			)
		case reflect.Ptr:
			if fieldValue.IsNil() {
				attrs = append(attrs, slog.Any(name, nil))
			} else if fieldValue.Elem().Kind() == reflect.Struct {
				attrs = append(
					attrs,
					slog.Attr{
						Key:   name,
						Value: structToSlogValue(fieldValue.Interface()),
					},
				)
			} else {
				attrs = append(attrs, slog.Any(name, fieldValue.Elem().Interface()))
			}
		default:
			attrs = append(attrs, slog.Any(name, fieldValue.Interface()))
		}
	}

	return slog.GroupValue(attrs...)
}
