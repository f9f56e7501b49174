package tus

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

const metadataSeparator = ","

// EncodeMetadata renders metadata as the Upload-Metadata header value: each
// pair as `key base64(value)`, pairs sorted by key and joined by commas.
func EncodeMetadata(metadata map[string]string) (string, error) {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if err := validateMetadataKey(k); err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(metadata[k])))
	}
	return strings.Join(pairs, metadataSeparator), nil
}

// DecodeMetadata parses an Upload-Metadata header value. A key without a value
// decodes to an empty string.
func DecodeMetadata(header string) (map[string]string, error) {
	metadata := map[string]string{}
	if strings.TrimSpace(header) == "" {
		return metadata, nil
	}

	for _, pair := range strings.Split(header, metadataSeparator) {
		parts := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		key := parts[0]
		if key == "" {
			return nil, fmt.Errorf("empty metadata key in %q", header)
		}

		var value []byte
		if len(parts) == 2 {
			var err error
			value, err = base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				return nil, fmt.Errorf("decode metadata value of %s: %w", key, err)
			}
		}
		metadata[key] = string(value)
	}
	return metadata, nil
}

func validateMetadataKey(key string) error {
	if key == "" {
		return fmt.Errorf("metadata key must not be empty")
	}
	if strings.ContainsAny(key, " ,") {
		return fmt.Errorf("metadata key %q must not contain spaces or commas", key)
	}
	return nil
}
