package config

import "testing"

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Durable.Redis.Password = "hunter2"
	cfg.RateLimit.Redis.Password = "s3cret"

	red := Redacted(cfg)

	if red.Cache.Durable.Redis.Password != RedactedValue {
		t.Errorf("durable redis password not redacted: %q", red.Cache.Durable.Redis.Password)
	}
	if red.RateLimit.Redis.Password != RedactedValue {
		t.Errorf("rate limit redis password not redacted: %q", red.RateLimit.Redis.Password)
	}
	if red.Cache.Durable.Redis.Address != cfg.Cache.Durable.Redis.Address {
		t.Error("untagged fields must be kept")
	}
	if cfg.Cache.Durable.Redis.Password != "hunter2" {
		t.Error("Redacted must not modify its argument")
	}
}

func TestRedactedLeavesEmptySecrets(t *testing.T) {
	red := Redacted(DefaultConfig())
	if red.RateLimit.Redis.Password != "" {
		t.Errorf("empty secrets should stay empty, got %q", red.RateLimit.Redis.Password)
	}
}
