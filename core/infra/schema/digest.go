package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Digest hashes the canonical JSON encoding of attributes. Map key order does not
// affect the result.
func Digest(attributes map[string]any) (string, error) {
	if attributes == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := appendCanonical(&buf, attributes); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func appendCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case json.RawMessage:
		buf.Write(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			buf.Write(key)
			buf.WriteByte(':')
			if err := appendCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// Typed maps and slices go through a JSON round trip so nested keys sort too.
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode canonical json: %w", err)
		}
		var generic any
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return fmt.Errorf("encode canonical json: %w", err)
		}
		switch generic.(type) {
		case map[string]any, []any:
			return appendCanonical(buf, generic)
		}
		buf.Write(encoded)
	}
	return nil
}
