package config

import "reflect"

// RedactedValue replaces secrets in redacted output.
const RedactedValue = "[REDACTED]"

// Redacted returns a copy of cfg with every non-empty string field tagged
// `redact:"true"` replaced by RedactedValue. cfg is not modified.
func Redacted(cfg *Config) *Config {
	cp := *cfg // Config holds no pointers, maps or slices
	walkStrings(reflect.ValueOf(&cp).Elem(), "", func(field reflect.Value, _ string, tag reflect.StructTag) {
		if tag.Get("redact") == "true" && field.String() != "" {
			field.SetString(RedactedValue)
		}
	})
	return &cp
}
