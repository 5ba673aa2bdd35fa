// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"log/slog"
	"strings"
)

// Redacted replaces sensitive values in log output.
const Redacted = "***REDACTED***"

// sensitiveKeyPatterns match attribute keys whose values never reach a log.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"otp",
	"authorization",
	"bearer",
	"exchange_code",
}

// IsSensitiveKey reports whether a key name suggests credential content.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// replaceAttr is the slog ReplaceAttr hook. Group members arrive here
// individually; map values (such as oops error context) are walked.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) && a.Value.Kind() != slog.KindGroup {
		if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindAny {
		if m, ok := a.Value.Any().(map[string]any); ok {
			return slog.Any(a.Key, redactMap(m))
		}
	}
	return a
}

func redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveKey(k):
			out[k] = Redacted
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = redactMap(nested)
				continue
			}
			out[k] = v
		}
	}
	return out
}
