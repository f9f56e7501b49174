package tus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig("https://tus.io/files/")

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "default", modify: func(c *Config) {}},
		{name: "upload url only", modify: func(c *Config) { c.Endpoint = ""; c.UploadURL = "https://tus.io/files/abc" }},
		{name: "no endpoint", modify: func(c *Config) { c.Endpoint = "" }, wantErr: true},
		{name: "unsupported scheme", modify: func(c *Config) { c.Endpoint = "ftp://tus.io/files/" }, wantErr: true},
		{name: "negative chunk size", modify: func(c *Config) { c.ChunkSize = -1 }, wantErr: true},
		{name: "negative timeout", modify: func(c *Config) { c.RequestTimeout = -time.Second }, wantErr: true},
		{name: "negative retry delay", modify: func(c *Config) { c.RetryDelays = []time.Duration{time.Second, -1} }, wantErr: true},
		{name: "empty header name", modify: func(c *Config) { c.Headers = map[string]string{"": "x"} }, wantErr: true},
		{name: "invalid metadata key", modify: func(c *Config) { c.Metadata = map[string]string{"a b": "x"} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.modify(&config)

			err := config.Validate()
			if tt.wantErr {
				assert.Equal(t, KindInvalidConfiguration, KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Header(t *testing.T) {
	config := DefaultConfig("https://tus.io/files/")
	config.Headers = map[string]string{"authorization": "Bearer token", "Tus-Resumable": "0.2.2"}

	header := config.header()
	assert.Equal(t, "Bearer token", header.Get("Authorization"))
	assert.Equal(t, ProtocolVersion, header.Get("Tus-Resumable"))
}
