package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/golab-dmp40/dmp40"
	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

func TestLoadConfigDefaults(t *testing.T) {
	_, c, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	assert.Equal(t, time.Second, c.Sequence.ObserverDelay)
	assert.Equal(t, uint32(2), c.Sequence.ZernikeFlag)
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	_, c, err := loadConfig(filepath.Join(t.TempDir(), "nope.yml"), nil)
	require.NoError(t, err)
	assert.Equal(t, ":8000", c.Addr)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmp40.yml")
	yml := `addr: ":9000"
mock: true
sequence:
  part: mirror
  observer_delay: 250ms
  zernike_amplitude: 0.99
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	_, c, err := loadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Addr)
	assert.True(t, c.Mock)
	assert.Equal(t, "mirror", c.Sequence.Part)
	assert.Equal(t, 250*time.Millisecond, c.Sequence.ObserverDelay)
	assert.Equal(t, 0.99, c.Sequence.ZernikeAmplitude)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, c.Sequence.MaxRelaxSteps)
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmp40.yml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o644))
	_, _, err := loadConfig(path, nil)
	assert.Error(t, err)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("DMP40_SEQUENCE__MAX_RELAX_STEPS", "5")
	t.Setenv("DMP40_LOG_LEVEL", "debug")
	_, c, err := loadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Sequence.MaxRelaxSteps)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DMP40_SEQUENCE__ZERNIKE_AMPLITUDE", "0.25")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Float64("amplitude", 0, "")
	fs.String("part", "both", "")
	require.NoError(t, fs.Parse([]string{"--amplitude=0.5"}))
	_, c, err := loadConfig("", fs)
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Sequence.ZernikeAmplitude)
	assert.Equal(t, "both", c.Sequence.Part)
}

func TestMkconfRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmp40.yml")
	want := DefaultConfig()
	want.Sequence.Part = "arms"
	want.Sequence.ObserverDelay = 3 * time.Second
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writeConf(f, want))
	require.NoError(t, f.Close())

	_, got, err := loadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func mockMux(t *testing.T, c Config) http.Handler {
	t.Helper()
	m := dfm.NewMockDMP40()
	opts := dmp40.DefaultOptions()
	opts.ConnectTimeout = 0
	sess, info, err := dmp40.Connect(context.Background(), m, opts)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	g, err := dmp40.QueryGeometry(sess)
	require.NoError(t, err)
	return BuildMux(dmp40.NewHTTPWrapper(sess, info, g, opts), c)
}

func TestBuildMuxEndpoints(t *testing.T) {
	mux := mockMux(t, DefaultConfig())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var graph map[string][]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&graph))
	assert.Contains(t, graph["/dmp40"], "POST /relax")
	assert.Contains(t, graph["/dmp40"], "GET /lock")
}

func TestBuildMuxLocked(t *testing.T) {
	mux := mockMux(t, DefaultConfig())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dmp40/lock", strings.NewReader(`{"bool":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dmp40/relax", nil))
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dmp40/lock", strings.NewReader(`{"bool":false}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dmp40/geometry", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunCommandMock(t *testing.T) {
	t.Setenv("DMP40_SEQUENCE__OBSERVER_DELAY", "0s")
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yml"), "--mock", "run", "--amplitude", "0.5"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1 DMP40 device(s) found.")
	assert.Contains(t, out.String(), "amplitude 0.5")
	assert.True(t, strings.HasSuffix(out.String(), "Connection closed. Program finished.\n"))
}

func TestRunCommandBadPart(t *testing.T) {
	t.Setenv("DMP40_SEQUENCE__OBSERVER_DELAY", "0s")
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yml"), "--mock", "run", "--part", "nose"})
	assert.Error(t, cmd.Execute())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", "", "version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dmp40 version "+Version+"\n", out.String())
}

func TestBuildMuxLockAllowsReads(t *testing.T) {
	c := DefaultConfig()
	c.LockAllowsReads = true
	mux := mockMux(t, c)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dmp40/lock", strings.NewReader(`{"bool":true,"holder":"test"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dmp40/segment-voltages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dmp40/zernike", strings.NewReader(`{"flag":4,"amplitude":0.1}`)))
	assert.Equal(t, http.StatusLocked, rec.Code)
}
