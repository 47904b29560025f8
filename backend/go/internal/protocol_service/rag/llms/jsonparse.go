package llms

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned by DecodeJSON when no JSON object can be recovered from the text.
var ErrNoJSON = errors.New("no JSON object found in completion output")

// DecodeJSON decodes a model reply into v. The reply is first parsed as-is; when
// that fails, the substring from the first '{' to the last '}' is tried, which
// recovers objects wrapped in prose or markdown fences.
func DecodeJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}
