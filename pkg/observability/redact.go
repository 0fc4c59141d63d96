package observability

import (
	"log/slog"
	"net/url"
	"strings"
)

// Redacted replaces the value of any sensitive field.
const Redacted = "***REDACTED***"

// DefaultSensitiveKeys are matched as case-insensitive substrings of field names.
var DefaultSensitiveKeys = []string{
	"password",
	"client_secret",
	"access_token",
	"refresh_token",
	"token",
	"secret",
	"authorization",
	"api_key",
}

// Redactor masks values whose key names look sensitive.
type Redactor struct {
	keys []string
}

// NewRedactor builds a redactor; an empty list falls back to DefaultSensitiveKeys.
func NewRedactor(keys []string) *Redactor {
	if len(keys) == 0 {
		keys = DefaultSensitiveKeys
	}
	lowered := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Redactor{keys: lowered}
}

// IsSensitive reports whether key contains any sensitive substring.
func (r *Redactor) IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Map returns a copy of data with sensitive values masked, descending into nested maps.
func (r *Redactor) Map(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if r.IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return r.Map(typed)
	case map[string]string:
		m := make(map[string]interface{}, len(typed))
		for k, s := range typed {
			m[k] = s
		}
		return r.Map(m)
	case url.Values:
		m := make(map[string]interface{}, len(typed))
		for k, vals := range typed {
			if len(vals) == 1 {
				m[k] = vals[0]
			} else {
				m[k] = vals
			}
		}
		return r.Map(m)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = r.value(item)
		}
		return out
	default:
		return v
	}
}

// Attr redacts a single slog attribute.
func (r *Redactor) Attr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if r.IsSensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindAny {
		switch a.Value.Any().(type) {
		case map[string]interface{}, map[string]string, url.Values, []interface{}:
			return slog.Any(a.Key, r.value(a.Value.Any()))
		}
	}
	return a
}

// Redact masks sensitive fields in data using DefaultSensitiveKeys.
func Redact(data map[string]interface{}) map[string]interface{} {
	return NewRedactor(nil).Map(data)
}
