package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/fwup/internal/api"
	"github.com/mattjoyce/fwup/internal/api/mocks"
	"github.com/mattjoyce/fwup/internal/config"
	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/firewall"
	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/log"
	"github.com/mattjoyce/fwup/internal/queue"
	"github.com/mattjoyce/fwup/internal/state"
)

const testAPIKey = "cli-test-key-0123456789"

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so large output cannot block the command.
	outCh := make(chan []byte, 1)
	errCh := make(chan []byte, 1)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-outCh
	stderrBytes := <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeTestConfig writes a config whose interpreter is a shell script
// appending its input to out.
func writeTestConfig(t *testing.T, dir, out, extra string) string {
	t.Helper()
	body := `service:
  log_level: error
state:
  path: ` + filepath.Join(dir, "fwup.db") + `
interpreter:
  path: /bin/sh
  args: ["-c", "cat >> \"$0\"", "` + out + `"]
  flush_interval: 1h
  retry_interval: 100ms
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newMockDaemon(t *testing.T) (*mocks.MockFirewall, string) {
	t.Helper()
	ctrl := gomock.NewController(t)
	fw := mocks.NewMockFirewall(ctrl)
	srv := api.New(api.Config{APIKey: testAPIKey, Version: "test"}, fw, events.NewHub(8), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return fw, ts.URL
}

func TestRunVersion(t *testing.T) {
	setVersionMetadataForTest(t, "1.4.0", "0123456789abcdef0123", "2026-03-01T10:20:30+02:00")

	code, stdout, _ := runCaptured(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "fwup 1.4.0")
	assert.Contains(t, stdout, "commit: 0123456789ab\n")
	assert.Contains(t, stdout, "built_at: 2026-03-01T08:20:30Z")

	code, stdout, _ = runCaptured(t, "version", "--json")
	require.Equal(t, 0, code)
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versionInfo{Version: "1.4.0", Commit: "0123456789ab", BuildTime: "2026-03-01T08:20:30Z"}, info)

	code, _, stderr := runCaptured(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: fwup version")
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	_, ok := normalizeBuildTimeUTC("unknown")
	assert.False(t, ok)
	_, ok = normalizeBuildTimeUTC("yesterday")
	assert.False(t, ok)
	got, ok := normalizeBuildTimeUTC("2026-01-02T03:04:05.999Z")
	assert.True(t, ok)
	assert.Equal(t, "2026-01-02T03:04:05Z", got)
}

func TestRunCLIDispatch(t *testing.T) {
	code, stdout, _ := runCaptured(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "fwup <noun> <action>")

	code, _, stderr := runCaptured(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, _, _ = runCaptured(t)
	assert.Equal(t, 1, code)

	code, _, stderr = runCaptured(t, "system", "reboot")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown system action")

	code, _, stderr = runCaptured(t, "config", "edit")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown config action")

	code, stdout, _ = runCaptured(t, "system", "watch", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Keybindings")
}

func TestConfigCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, filepath.Join(dir, "out.txt"), "")

	code, stdout, stderr := runCaptured(t, "config", "check", "--config", path, "--json")
	require.Equal(t, 0, code, stderr)
	var result struct {
		Valid       bool   `json:"valid"`
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Valid)
	assert.True(t, strings.HasPrefix(result.Fingerprint, "blake3:"))

	// doctor is an alias for config check.
	code, stdout, _ = runCaptured(t, "doctor", "--config", path)
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, stdout)
}

func TestConfigCheckInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpreter:\n  path: sbin/ipset\n"), 0o600))

	code, _, stderr := runCaptured(t, "config", "check", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Config load error")

	code, _, stderr = runCaptured(t, "config", "check", "--config", filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")
}

func TestConfigShowMasksKey(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, filepath.Join(dir, "out.txt"), `api:
  enabled: true
  listen: 127.0.0.1:9999
  auth:
    api_key: `+testAPIKey+`
sets:
  - name: blocklist
    type: hash:ip
    family: inet
`)

	code, stdout, stderr := runCaptured(t, "config", "show", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, testAPIKey)
	assert.Contains(t, stdout, "********")
	assert.Contains(t, stdout, "blocklist")
	assert.Contains(t, stdout, "maxelem: 65536")
}

func TestSetCommands(t *testing.T) {
	fw, url := newMockDaemon(t)
	flags := []string{"--api-url", url, "--api-key", testAPIKey}
	set := func(action string, rest ...string) []string {
		return append(append([]string{"set", action}, flags...), rest...)
	}

	gomock.InOrder(
		fw.EXPECT().CreateSet(gomock.Any(), ipset.Set{Name: "nets", Type: ipset.HashNet, Family: ipset.Inet6, MaxElem: 1024}).Return(true, nil),
		fw.EXPECT().ListSets(gomock.Any()).Return([]ipset.Set{{Name: "nets", Type: ipset.HashNet, Family: ipset.Inet6, MaxElem: 1024}}, nil),
		fw.EXPECT().AddMembers(gomock.Any(), "nets", []string{"2001:db8::/32", "2001:db9::/32"}).Return([]string{"2001:db8::/32"}, nil),
		fw.EXPECT().GetSet(gomock.Any(), "nets").Return(firewall.SetView{
			Set:     ipset.Set{Name: "nets", Type: ipset.HashNet, Family: ipset.Inet6, MaxElem: 1024},
			Members: []string{"2001:db8::/32"},
			Digest:  "blake3:abc",
		}, nil),
		fw.EXPECT().RemoveMember(gomock.Any(), "nets", "2001:db8::/32").Return(true, nil),
		fw.EXPECT().RemoveMember(gomock.Any(), "nets", "2001:db8::/32").Return(false, nil),
		fw.EXPECT().DeleteSet(gomock.Any(), "nets").Return(nil),
	)

	code, stdout, stderr := runCaptured(t, set("create", "--type", "hash:net", "--family", "inet6", "--maxelem", "1024", "nets")...)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "created nets\n", stdout)

	code, stdout, _ = runCaptured(t, set("list")...)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "nets")
	assert.Contains(t, stdout, "hash:net")

	code, stdout, _ = runCaptured(t, set("add", "nets", "2001:db8::/32", "2001:db9::/32")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "added 1 of 2 to nets: 2001:db8::/32\n", stdout)

	code, stdout, _ = runCaptured(t, set("show", "--json", "nets")...)
	require.Equal(t, 0, code)
	var view firewall.SetView
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.Equal(t, []string{"2001:db8::/32"}, view.Members)

	code, stdout, _ = runCaptured(t, set("del", "nets", "2001:db8::/32")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "removed 2001:db8::/32 from nets\n", stdout)

	code, stdout, _ = runCaptured(t, set("del", "nets", "2001:db8::/32")...)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "was not a member")

	code, stdout, _ = runCaptured(t, set("delete", "nets")...)
	require.Equal(t, 0, code)
	assert.Equal(t, "deleted nets\n", stdout)
}

func TestSetCommandErrors(t *testing.T) {
	fw, url := newMockDaemon(t)
	fw.EXPECT().GetSet(gomock.Any(), "ghost").Return(firewall.SetView{}, state.ErrSetNotFound)

	code, _, stderr := runCaptured(t, "set", "show", "--api-url", url, "--api-key", testAPIKey, "ghost")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Show failed")

	code, _, stderr = runCaptured(t, "set", "show", "--api-url", url, "--api-key", "wrong", "ghost")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "401")

	code, _, stderr = runCaptured(t, "set", "add", "--api-url", url, "--api-key", testAPIKey, "only-name")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: fwup set")

	code, _, stderr = runCaptured(t, "set", "list", "--api-url", url, "--api-key", testAPIKey, "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: fwup set")

	code, _, stderr = runCaptured(t, "set", "rename", "a", "b")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown set action")
}

func TestClientFlagsNeedKey(t *testing.T) {
	t.Setenv("FWUP_API_KEY", "")
	t.Setenv("FWUP_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	code, _, stderr := runCaptured(t, "system", "flush", "--api-url", "http://127.0.0.1:1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "API key required")
}

func TestClientFlagsFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, filepath.Join(dir, "out.txt"), `api:
  enabled: true
  listen: 10.0.0.1:7000
  auth:
    api_key: from-config
`)
	cf := clientFlags{configPath: path}
	c, err := cf.client()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:7000", c.BaseURL)
	assert.Equal(t, "from-config", c.APIKey)

	cf = clientFlags{apiURL: "http://other:1/", apiKey: "flag", configPath: path}
	c, err = cf.client()
	require.NoError(t, err)
	assert.Equal(t, "http://other:1", c.BaseURL)
	assert.Equal(t, "flag", c.APIKey)
}

func TestSystemStatusAndFlush(t *testing.T) {
	fw, url := newMockDaemon(t)
	fw.EXPECT().Status(gomock.Any()).Return(firewall.Status{
		Queue: queue.Status{Broken: true, Starts: 4},
		Sets:  3,
	}, nil)
	fw.EXPECT().Flush(gomock.Any()).Return(nil)
	fw.EXPECT().Resync(gomock.Any()).Return(nil)

	code, stdout, _ := runCaptured(t, "system", "status", "--api-url", url, "--api-key", testAPIKey)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "interpreter: broken")
	assert.Contains(t, stdout, "sets: 3")

	code, stdout, _ = runCaptured(t, "system", "flush", "--api-url", url, "--api-key", testAPIKey)
	assert.Equal(t, 0, code)
	assert.Equal(t, "flush requested\n", stdout)

	code, stdout, _ = runCaptured(t, "system", "resync", "--api-url", url, "--api-key", testAPIKey)
	assert.Equal(t, 0, code)
	assert.Equal(t, "resync requested\n", stdout)
}

func TestServeReplaysSeededSets(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "restore.txt")
	path := writeTestConfig(t, dir, out, `sets:
  - name: blocklist
    type: hash:ip
    family: inet
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(out)
		return strings.Contains(string(data), "destroy fwup-tmp-")
	}, 5*time.Second, 20*time.Millisecond)

	// A second daemon on the same state is refused.
	err = serve(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another fwup instance")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "create blocklist hash:ip family inet")
	assert.Contains(t, string(data), "swap fwup-tmp-")
}
