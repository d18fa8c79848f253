package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/companyzero/coachmedia/devices"
	"github.com/companyzero/coachmedia/internal/assert"
)

// TestParseConfigFile tests parsing a config file with sections.
func TestParseConfigFile(t *testing.T) {
	root := t.TempDir()
	data := `
root = ` + root + `
backend = https://coach.example.com/
nonce = abc123
mode = audio+video

[log]
debuglevel = info,AUDI=debug

[audio]
maxrecording = 1m30s
capturegain = 3
meterinterval = 20ms

[devices]
cooldown = 2s
pollinterval = 10s
store = json:` + filepath.Join(root, "sel.json") + `

[metrics]
listen = 127.0.0.1:9470
`
	var cfg config
	err := parseConfigFile(strings.NewReader(data), &cfg, "/nonexistent")
	assert.NilErr(t, err)
	assert.DeepEqual(t, cfg.Root, root)
	assert.DeepEqual(t, cfg.BackendURL, "https://coach.example.com")
	assert.DeepEqual(t, cfg.Nonce, "abc123")
	assert.DeepEqual(t, cfg.Mode, devices.ModeAudioVideo)
	assert.DeepEqual(t, cfg.DebugLevel, "info,AUDI=debug")
	assert.DeepEqual(t, cfg.MaxRecording, 90*time.Second)
	assert.DeepEqual(t, cfg.CaptureGain, 3.0)
	assert.DeepEqual(t, cfg.MeterInterval, 20*time.Millisecond)
	assert.DeepEqual(t, cfg.Cooldown, 2*time.Second)
	assert.DeepEqual(t, cfg.PollInterval, 10*time.Second)
	assert.DeepEqual(t, cfg.Store, "json:"+filepath.Join(root, "sel.json"))
	assert.DeepEqual(t, cfg.MetricsListen, "127.0.0.1:9470")
	assert.DeepEqual(t, cfg.LogFile, filepath.Join(root, "logs", appName+".log"))
	assert.DeepEqual(t, cfg.ExportDir, filepath.Join(root, "clips"))
}

// TestParseConfigFileDefaults tests the defaults of an empty config file.
func TestParseConfigFileDefaults(t *testing.T) {
	root := t.TempDir()
	var cfg config
	err := parseConfigFile(strings.NewReader(""), &cfg, root)
	assert.NilErr(t, err)
	assert.DeepEqual(t, cfg.Root, root)
	assert.DeepEqual(t, cfg.Mode, devices.ModeAudio)
	assert.DeepEqual(t, cfg.MaxRecording, 3*time.Minute)
	assert.DeepEqual(t, cfg.Cooldown, devices.DefaultCooldown)
	assert.DeepEqual(t, cfg.PollInterval, time.Duration(0))
	assert.DeepEqual(t, cfg.Store, "leveldb:"+filepath.Join(root, "selection"))
	assert.DeepEqual(t, cfg.BackendURL, "")
}

// TestParseConfigFileErrors tests config values that are rejected.
func TestParseConfigFileErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad mode", "mode = video"},
		{"bad backend", "backend = ftp://example.com"},
		{"bad duration", "[audio]\nmaxrecording = forever"},
		{"negative duration", "[devices]\ncooldown = -1s"},
		{"bad sensitivity", "[audio]\nsensitivity = 0"},
		{"unknown option", "nosuchoption = 1"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var cfg config
			err := parseConfigFile(strings.NewReader(tc.data), &cfg, t.TempDir())
			assert.NonNilErr(t, err)
		})
	}
}

// TestDefaultConfigParses tests that the generated default config file is
// valid.
func TestDefaultConfigParses(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "sub", appName+".conf")
	err := writeDefaultConfig(cfgFile, dir, "")
	assert.NilErr(t, err)

	f, err := os.Open(cfgFile)
	assert.NilErr(t, err)
	defer f.Close()

	var cfg config
	err = parseConfigFile(f, &cfg, "/unused")
	assert.NilErr(t, err)
	assert.DeepEqual(t, cfg.Root, dir)
	assert.DeepEqual(t, cfg.ExportDir, filepath.Join(dir, "clips"))
	assert.DeepEqual(t, cfg.Store, "leveldb:"+filepath.Join(dir, "selection"))
}

// TestColorDefn tests parsing theme color definitions.
func TestColorDefn(t *testing.T) {
	valid := []string{"bold:cyan:na", "none:na:na", "bold,underline:red:black", "reverse:na:na"}
	for _, v := range valid {
		_, err := colorDefnToLGStyle(v)
		assert.NilErr(t, err)
	}
	invalid := []string{"bold:cyan", "blink:na:na", "bold:purple:na", "bold:na:orange"}
	for _, v := range invalid {
		_, err := colorDefnToLGStyle(v)
		assert.NonNilErr(t, err)
	}
}
