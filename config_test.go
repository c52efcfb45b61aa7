package sessionguard

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.Token.AccessTTL = 0 }},
		{"zero refresh ttl", func(c *Config) { c.Token.RefreshTTL = 0 }},
		{"refresh not longer than access", func(c *Config) {
			c.Token.AccessTTL = time.Hour
			c.Token.RefreshTTL = time.Hour
		}},
		{"unknown signing method", func(c *Config) { c.Token.SigningMethod = "rs256" }},
		{"hs256 without key", func(c *Config) { c.Token.PrivateKey = nil }},
		{"ed25519 without private key", func(c *Config) {
			c.Token.SigningMethod = "ed25519"
			c.Token.PrivateKey = nil
		}},
		{"negative leeway", func(c *Config) { c.Token.Leeway = -time.Second }},
		{"zero terminated retention", func(c *Config) { c.Session.TerminatedRetention = 0 }},
		{"zero activity log", func(c *Config) { c.Session.ActivityLogSize = 0 }},
		{"zero idempotency ttl", func(c *Config) { c.Session.LoginIdempotencyTTL = 0 }},
		{"negative travel speed", func(c *Config) { c.Risk.MaxTravelSpeedKmh = -1 }},
		{"audit enabled with zero buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"rotation enforcement disabled", func(c *Config) { c.Security.EnforceRefreshRotation = false }},
		{"reuse detection disabled", func(c *Config) { c.Security.EnforceReuseDetection = false }},
		{"inherit as engine mode", func(c *Config) { c.ValidationMode = ModeInherit }},
		{"production long access ttl", func(c *Config) {
			c.Security.ProductionMode = true
			c.Token.AccessTTL = time.Hour
		}},
		{"production short hs256 key", func(c *Config) {
			c.Security.ProductionMode = true
			c.Token.PrivateKey = []byte("short")
		}},
		{"production without isolation", func(c *Config) {
			c.Security.ProductionMode = true
			c.Tenant.EnforceIsolation = false
		}},
		{"production jwt-only mode", func(c *Config) {
			c.Security.ProductionMode = true
			c.ValidationMode = ModeJWTOnly
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation to fail")
			}
		})
	}
}

func TestDefaultConfigIsHybridAndIsolated(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ValidationMode != ModeHybrid {
		t.Fatalf("default mode = %v, want hybrid", cfg.ValidationMode)
	}
	if !cfg.Tenant.EnforceIsolation {
		t.Fatal("tenant isolation should default on")
	}
	if cfg.Token.AccessTTL >= cfg.Token.RefreshTTL {
		t.Fatal("access TTL should be shorter than refresh TTL")
	}
}

func TestCloneConfigDetachesKeyMaterial(t *testing.T) {
	cfg := validTestConfig()
	cfg.Token.VerifyKeys = map[string][]byte{"k1": []byte("0123456789abcdef0123456789abcdef")}

	clone := cloneConfig(cfg)
	clone.Token.PrivateKey[0] = 'x'
	clone.Token.VerifyKeys["k1"][0] = 'x'

	if cfg.Token.PrivateKey[0] == 'x' {
		t.Fatal("clone must not share the private key buffer")
	}
	if cfg.Token.VerifyKeys["k1"][0] == 'x' {
		t.Fatal("clone must not share verify key buffers")
	}
}
