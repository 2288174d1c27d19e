package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"passphrase":    {},
	"password":      {},
	"private_key":   {},
	"secret":        {},
}

var sensitiveSuffixes = []string{"_passphrase", "_secret", "_token"}

// Sensitive reports whether values logged under key are credentials. A bare
// "token" key names a mint and is not sensitive.
func Sensitive(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[key]; ok {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// MaskField logs that value is configured without revealing it. Keystore
// paths and bearer tokens go through here.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, "")
	}
	return slog.String(key, RedactedValue)
}

func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !Sensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
