// Package secretkeys lists the request headers whose values must not show up
// in logs.
package secretkeys

import (
	"net/http"
	"strings"
)

const (
	// EnvKey lists additional secret header names, separated by commas.
	EnvKey    = "TUS_SECRET_HEADERS"
	separator = ","
	mask      = "[REDACTED]"
)

// DefaultKeys are always treated as secret.
var DefaultKeys = []string{"Authorization", "Proxy-Authorization", "Cookie", "Set-Cookie"}

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// Manager ...
type Manager interface {
	Load(envGetter EnvGetter) []string
	Format(keys []string) string
}

type manager struct {
}

// NewManager ...
func NewManager() Manager {
	return manager{}
}

// Load returns the default keys and the ones listed in EnvKey.
func (manager) Load(envGetter EnvGetter) []string {
	keys := append([]string(nil), DefaultKeys...)
	for _, key := range strings.Split(envGetter.Get(EnvKey), separator) {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Format ...
func (manager) Format(keys []string) string {
	return strings.Join(keys, separator)
}

// Redact returns a copy of header with the values of keys masked.
func Redact(header http.Header, keys []string) http.Header {
	redacted := header.Clone()
	for _, key := range keys {
		if _, ok := redacted[http.CanonicalHeaderKey(key)]; ok {
			redacted.Set(key, mask)
		}
	}
	return redacted
}
