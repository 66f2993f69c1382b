package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/R3E-Network/defi_engine/internal/engine/domains/defi"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Snapshot.Backend != BackendMemory {
		t.Errorf("Snapshot.Backend = %q, want memory", cfg.Snapshot.Backend)
	}
	if cfg.Pools.Count() != 0 {
		t.Errorf("Pools.Count() = %d, want 0", cfg.Pools.Count())
	}
	if cfg.HTTP.RateLimit.RequestsPerSecond != 50 || cfg.HTTP.RateLimit.Burst != 100 {
		t.Errorf("HTTP.RateLimit = %+v, want 50 rps burst 100", cfg.HTTP.RateLimit)
	}
}

func TestLoad_Pools(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "defi.yaml", `
http:
  addr: ":9000"
snapshot:
  backend: none
pools:
  staking:
    - name: NEO Staking
      asset: NEO
      apy: 0.08
      min_stake: 10
      lock_period: 168h
  lending:
    - asset: GAS
      interest_rate: "0.05"
  liquidity:
    - token_a: NEO
      token_b: GAS
  daos:
    - governance_token: NEO
      quorum_percentage: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("HTTP.Addr = %q, want :9000", cfg.HTTP.Addr)
	}
	if cfg.HTTP.WriteTimeout != 10*time.Second {
		t.Errorf("HTTP.WriteTimeout = %v, want default 10s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Pools.Count() != 4 {
		t.Fatalf("Pools.Count() = %d, want 4", cfg.Pools.Count())
	}

	st := cfg.Pools.Staking[0]
	if st.APY.String() != "0.08" || st.MinStake.String() != "10" {
		t.Errorf("staking APY/MinStake = %s/%s, want 0.08/10", st.APY, st.MinStake)
	}
	if st.LockPeriod != 168*time.Hour {
		t.Errorf("LockPeriod = %v, want 168h", st.LockPeriod)
	}
	if got := cfg.Pools.Lending[0].InterestRate.String(); got != "0.05" {
		t.Errorf("InterestRate = %s, want 0.05", got)
	}
	if cfg.Pools.Liquidity[0].FeeRate != nil {
		t.Errorf("FeeRate = %v, want nil (default)", cfg.Pools.Liquidity[0].FeeRate)
	}
	dao := cfg.Pools.DAOs[0]
	if dao.QuorumPercentage == nil || dao.QuorumPercentage.String() != "20" {
		t.Errorf("QuorumPercentage = %v, want 20", dao.QuorumPercentage)
	}
	if dao.ProposalThreshold != nil {
		t.Errorf("ProposalThreshold = %v, want nil", dao.ProposalThreshold)
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "defi.yaml"))
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if cfg.Pools.Count() != 4 {
		t.Errorf("Pools.Count() = %d, want 4", cfg.Pools.Count())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "defi.yaml", "log:\n  level: info\n")
	envPath := writeFile(t, dir, "test.env", "DEFI_LOG_LEVEL=debug\nDEFI_JOURNAL_SIZE=42\n")

	t.Setenv("DEFI_HTTP_ADDR", ":7777")
	t.Setenv("DEFI_SNAPSHOT_BACKEND", "redis")
	t.Setenv("DEFI_REDIS_ADDR", "redis:6379")
	t.Setenv("DEFI_REDIS_DB", "3")
	// godotenv never overrides set variables. Register cleanup, then unset.
	t.Setenv("DEFI_LOG_LEVEL", "")
	t.Setenv("DEFI_JOURNAL_SIZE", "")
	os.Unsetenv("DEFI_LOG_LEVEL")
	os.Unsetenv("DEFI_JOURNAL_SIZE")

	cfg, err := Load(path, envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"log level", cfg.Log.Level, "debug"},
		{"journal size", cfg.Journal.Size, 42},
		{"http addr", cfg.HTTP.Addr, ":7777"},
		{"backend", cfg.Snapshot.Backend, BackendRedis},
		{"redis addr", cfg.Snapshot.Redis.Addr, "redis:6379"},
		{"redis db", cfg.Snapshot.Redis.DB, 3},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load(missing) should fail")
	}

	bad := writeFile(t, dir, "bad.yaml", "http: [unterminated")
	if _, err := Load(bad); err == nil {
		t.Error("Load(bad yaml) should fail")
	}

	ok := writeFile(t, dir, "ok.yaml", "log:\n  level: info\n")
	if _, err := Load(ok, filepath.Join(dir, "missing.env")); err == nil {
		t.Error("Load with missing env file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Snapshot.Backend = "s3" }, "unknown snapshot backend"},
		{"redis without addr", func(c *Config) {
			c.Snapshot.Backend = BackendRedis
			c.Snapshot.Redis.Addr = ""
		}, "snapshot.redis.addr"},
		{"postgres without dsn", func(c *Config) { c.Snapshot.Backend = BackendPostgres }, "snapshot.postgres.dsn"},
		{"missing schedule", func(c *Config) { c.Snapshot.Schedule = "" }, "snapshot.schedule"},
		{"journal size", func(c *Config) { c.Journal.Size = 0 }, "journal.size"},
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr"},
		{"negative rate", func(c *Config) { c.HTTP.RateLimit.RequestsPerSecond = -1 }, "requests_per_second"},
		{"rate without burst", func(c *Config) { c.HTTP.RateLimit.Burst = 0 }, "http.rate_limit.burst"},
		{"bad lending pool", func(c *Config) { c.Pools.Lending = []defi.LendingConfig{{}} }, "pools.lending[0]"},
		{"bad amm pool", func(c *Config) {
			c.Pools.Liquidity = []defi.LiquidityConfig{{TokenA: "NEO", TokenB: "NEO"}}
		}, "pools.liquidity[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.HTTP.Addr != Default().HTTP.Addr {
		t.Errorf("HTTP.Addr = %q, want default", cfg.HTTP.Addr)
	}
}
