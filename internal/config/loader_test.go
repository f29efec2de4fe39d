package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file gets defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Interpreter.Path != "/usr/sbin/ipset" {
					t.Errorf("interpreter.path = %q", cfg.Interpreter.Path)
				}
				if strings.Join(cfg.Interpreter.Args, " ") != "-exist restore" {
					t.Errorf("interpreter.args = %v", cfg.Interpreter.Args)
				}
				if cfg.Interpreter.FlushInterval != 5*time.Second || cfg.Interpreter.RetryInterval != time.Minute {
					t.Errorf("timings = %v / %v", cfg.Interpreter.FlushInterval, cfg.Interpreter.RetryInterval)
				}
				if cfg.Service.LogLevel != "info" || cfg.Service.LogFormat != "json" {
					t.Errorf("service defaults not applied: %+v", cfg.Service)
				}
				if !filepath.IsAbs(cfg.State.Path) || filepath.Base(cfg.State.Path) != "fwup.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
			},
		},
		{
			name: "interpreter overrides",
			yaml: `
interpreter:
  path: /bin/sh
  args: ["-c", "cat >/dev/null"]
  flush_interval: 250ms
  retry_interval: 2s
`,
			checkFn: func(t *testing.T, cfg *Config) {
				q := cfg.Interpreter.QueueConfig()
				if q.Path != "/bin/sh" || len(q.Args) != 2 {
					t.Errorf("queue config = %+v", q)
				}
				if q.FlushInterval != 250*time.Millisecond || q.RetryInterval != 2*time.Second {
					t.Errorf("timings = %v / %v", q.FlushInterval, q.RetryInterval)
				}
			},
		},
		{
			name: "explicit empty args kept",
			yaml: `
interpreter:
  path: /usr/local/bin/restore
  args: []
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Interpreter.Args == nil || len(cfg.Interpreter.Args) != 0 {
					t.Errorf("args = %#v, want empty", cfg.Interpreter.Args)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${FWUP_TEST_KEY}
`,
			env: map[string]string{"FWUP_TEST_KEY": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Auth.APIKey != "s3cret" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
				if cfg.API.Listen != "127.0.0.1:8090" {
					t.Errorf("listen = %q", cfg.API.Listen)
				}
			},
		},
		{
			name: "unset env var in api key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${FWUP_TEST_UNSET_KEY}
`,
			wantErr: "FWUP_TEST_UNSET_KEY",
		},
		{
			name: "api enabled without key",
			yaml: `
api:
  enabled: true
`,
			wantErr: "api_key is required",
		},
		{
			name: "seed sets get defaults",
			yaml: `
sets:
  - name: blocklist
  - name: nets6
    type: hash:net
    family: inet6
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if len(cfg.Sets) != 2 {
					t.Fatalf("sets = %d", len(cfg.Sets))
				}
				if cfg.Sets[0].Type != ipset.HashIP || cfg.Sets[0].Family != ipset.Inet {
					t.Errorf("defaults not applied to %+v", cfg.Sets[0])
				}
				if cfg.Sets[1].Type != ipset.HashNet || cfg.Sets[1].Family != ipset.Inet6 {
					t.Errorf("sets[1] = %+v", cfg.Sets[1])
				}
			},
		},
		{
			name: "duplicate seed sets",
			yaml: `
sets:
  - name: blocklist
  - name: blocklist
`,
			wantErr: "duplicate set",
		},
		{
			name: "invalid seed set name",
			yaml: `
sets:
  - name: "has space"
`,
			wantErr: "sets[0]",
		},
		{
			name:    "relative interpreter path",
			yaml:    "interpreter:\n  path: ipset\n",
			wantErr: "must be absolute",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "log_level",
		},
		{
			name:    "unknown key",
			yaml:    "restore_binary: /sbin/ipset\n",
			wantErr: "restore_binary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadResolvesStatePathsAgainstConfigDir(t *testing.T) {
	path := writeConfig(t, "state:\n  path: db/fwup.db\n  lock_path: run/fwup.lock\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.State.Path != filepath.Join(dir, "db", "fwup.db") {
		t.Errorf("state.path = %q", cfg.State.Path)
	}
	if cfg.LockFile() != filepath.Join(dir, "run", "fwup.lock") {
		t.Errorf("lock file = %q", cfg.LockFile())
	}
}

func TestLockFileDefaultsNextToState(t *testing.T) {
	cfg := Defaults()
	cfg.State.Path = "/var/lib/fwup/fwup.db"
	if got := cfg.LockFile(); got != "/var/lib/fwup/fwup.lock" {
		t.Fatalf("LockFile = %q", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("FWUP_TEST_A", "alpha")
	got := interpolateEnv("${FWUP_TEST_A}-${FWUP_TEST_MISSING}")
	if got != "alpha-${FWUP_TEST_MISSING}" {
		t.Fatalf("interpolateEnv = %q", got)
	}
}

func TestDiscoverConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	explicit := writeConfig(t, "")
	t.Setenv("FWUP_CONFIG", explicit)
	got, err := DiscoverConfig()
	if err != nil || got != explicit {
		t.Fatalf("DiscoverConfig = %q, %v; want %q", got, err, explicit)
	}

	userPath := filepath.Join(home, ".config", "fwup", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(userPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(userPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FWUP_CONFIG", filepath.Join(home, "missing.yaml"))
	got, err = DiscoverConfig()
	if err != nil || got != userPath {
		t.Fatalf("DiscoverConfig = %q, %v; want %q", got, err, userPath)
	}
}

func TestDiscoverConfigNone(t *testing.T) {
	if _, err := os.Stat("/etc/fwup/config.yaml"); err == nil {
		t.Skip("system config present")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FWUP_CONFIG", "")
	t.Chdir(t.TempDir())

	if _, err := DiscoverConfig(); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := writeConfig(t, "service:\n  name: a\n")
	b := writeConfig(t, "service:\n  name: b\n")

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	again, _ := Fingerprint(a)
	fb, _ := Fingerprint(b)

	if !strings.HasPrefix(fa, "blake3:") || len(fa) != len("blake3:")+64 {
		t.Fatalf("unexpected fingerprint %q", fa)
	}
	if fa != again {
		t.Fatal("fingerprint not stable")
	}
	if fa == fb {
		t.Fatal("different files share a fingerprint")
	}
	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
