package secretkeys

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapEnv map[string]string

func (m mapEnv) Get(key string) string {
	return m[key]
}

func TestManager_Load(t *testing.T) {
	keys := NewManager().Load(mapEnv{EnvKey: "X-Api-Key, X-Session,"})
	assert.Equal(t, append(append([]string{}, DefaultKeys...), "X-Api-Key", "X-Session"), keys)

	assert.Equal(t, DefaultKeys, NewManager().Load(mapEnv{}))
}

func TestManager_Format(t *testing.T) {
	assert.Equal(t, "A,B", NewManager().Format([]string{"A", "B"}))
}

func TestRedact(t *testing.T) {
	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	header.Set("x-api-key", "key")
	header.Set("Upload-Offset", "0")

	redacted := Redact(header, []string{"Authorization", "X-Api-Key", "Cookie"})

	assert.Equal(t, "[REDACTED]", redacted.Get("Authorization"))
	assert.Equal(t, "[REDACTED]", redacted.Get("X-Api-Key"))
	assert.Equal(t, "0", redacted.Get("Upload-Offset"))
	assert.Empty(t, redacted.Values("Cookie"))
	assert.Equal(t, "Bearer token", header.Get("Authorization"))
}
