package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"

	"github.com/companyzero/coachmedia/devices"
	"github.com/jrick/flagfile"
	"github.com/mitchellh/go-homedir"
	strduration "github.com/xhit/go-str2duration/v2"
)

const (
	appName    = "coachmedia"
	appVersion = "0.1.0"
)

var (
	// Error to signal loadConfig() completed everything the cmd had to do
	// and main() should exit.
	errCmdDone = errors.New("cmd done")
)

type config struct {
	Root string

	BackendURL string
	Nonce      string
	NonceURL   string
	Mode       devices.Mode

	// Set from CLI arguments only.
	SessionRef     string
	TranscriptFile string
	ListDevices    bool
	CPUProfile     string
	MemProfile     string

	LogFile     string
	MaxLogFiles int
	DebugLevel  string

	MaxRecording  time.Duration
	CaptureGain   float64
	PlaybackGain  float64
	MeterInterval time.Duration
	Sensitivity   float64
	ExportDir     string

	Cooldown     time.Duration
	PollInterval time.Duration
	Store        string

	UserColor   string
	AgentColor  string
	ActiveColor string

	MetricsListen string
}

func defaultAppDataDir(homeDir string) string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appName)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appName)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appName)
		}
	}

	return filepath.Join(".", appName)
}

// expandPath expands a leading ~ into the home dir of the user.
func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	path, err := homedir.Expand(os.ExpandEnv(path))
	if err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}

// expandStoreSpec expands the path of file based store specs.
func expandStoreSpec(spec string) (string, error) {
	typ, path, ok := strings.Cut(spec, ":")
	if !ok {
		return spec, nil
	}
	path, err := expandPath(path)
	if err != nil {
		return "", err
	}
	return typ + ":" + path, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := strduration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for flag '%s': %v", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("flag '%s' cannot be negative", name)
	}
	return d, nil
}

// writeDefaultConfig writes the default config file for the given root.
func writeDefaultConfig(cfgFile, root, homeDir string) error {
	if homeDir != "" && strings.HasPrefix(root, homeDir) {
		root = "~" + root[len(homeDir):]
	}
	data := struct {
		Root      string
		LogFile   string
		ExportDir string
	}{
		Root:      root,
		LogFile:   filepath.Join(root, "logs", appName+".log"),
		ExportDir: filepath.Join(root, "clips"),
	}

	tmpl, err := template.New("configfile").Parse(defaultConfigFileContent)
	if err != nil {
		return err
	}
	var generated bytes.Buffer
	if err := tmpl.Execute(&generated, data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgFile), 0o700); err != nil {
		return fmt.Errorf("unable to create config dir: %v", err)
	}
	return os.WriteFile(cfgFile, generated.Bytes(), 0o600)
}

// parseConfigFile parses the contents of a config file into cfg.
func parseConfigFile(r io.Reader, cfg *config, defaultRoot string) error {
	fs := flag.NewFlagSet("Config Options", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flagRootDir := fs.String("root", defaultRoot, "Root of all app data")
	flagBackend := fs.String("backend", "", "Origin of the coaching backend")
	flagNonce := fs.String("nonce", "", "REST nonce")
	flagNonceURL := fs.String("nonceurl", "", "URL to refresh the REST nonce")
	flagMode := fs.String("mode", "audio", "Capture mode")

	// log
	flagLogFile := fs.String("log.logfile", "", "Log file location")
	flagMaxLogFiles := fs.Int("log.maxlogfiles", 0, "Max log files")
	flagDebugLevel := fs.String("log.debuglevel", "info", "Debug Level")

	// audio
	flagMaxRecording := fs.String("audio.maxrecording", "3m", "Max recording duration")
	flagCaptureGain := fs.Float64("audio.capturegain", 0, "Capture gain (dB)")
	flagPlaybackGain := fs.Float64("audio.playbackgain", 0, "Playback gain (dB)")
	flagMeterInterval := fs.String("audio.meterinterval", "16ms", "Level meter interval")
	flagSensitivity := fs.Float64("audio.sensitivity", 4, "Level meter sensitivity")
	flagExportDir := fs.String("audio.exportdir", "", "Dir of exported clips")

	// devices
	flagCooldown := fs.String("devices.cooldown", "1500ms", "Hot-plug cooldown")
	flagPollInterval := fs.String("devices.pollinterval", "", "Device poll interval")
	flagStore := fs.String("devices.store", "", "Selection store")

	// theme
	flagUserColor := fs.String("theme.usercolor", "bold:cyan:na", "Color of user entries")
	flagAgentColor := fs.String("theme.agentcolor", "bold:green:na", "Color of agent entries")
	flagActiveColor := fs.String("theme.activecolor", "reverse:na:na", "Color of the active entry")

	// metrics
	flagMetricsListen := fs.String("metrics.listen", "", "Metrics listen address")

	parser := flagfile.Parser{
		ParseSections: true,
	}
	if err := parser.Parse(r, fs); err != nil {
		return err
	}

	if *flagRootDir == "" {
		return fmt.Errorf("flag 'root' cannot be empty")
	}
	if *flagBackend != "" {
		u, err := url.Parse(*flagBackend)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid backend url %q", *flagBackend)
		}
	}
	mode, err := devices.ParseMode(*flagMode)
	if err != nil {
		return err
	}
	if *flagSensitivity <= 0 {
		return fmt.Errorf("flag 'sensitivity' must be positive")
	}

	var errs []error
	durs := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"maxrecording", *flagMaxRecording, &cfg.MaxRecording},
		{"meterinterval", *flagMeterInterval, &cfg.MeterInterval},
		{"cooldown", *flagCooldown, &cfg.Cooldown},
		{"pollinterval", *flagPollInterval, &cfg.PollInterval},
	}
	for _, d := range durs {
		var err error
		*d.dst, err = parseDuration(d.name, d.value)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	// Clean paths.
	root, err := expandPath(*flagRootDir)
	if err != nil {
		return err
	}
	logFile := *flagLogFile
	if logFile == "" {
		logFile = filepath.Join(root, "logs", appName+".log")
	}
	if logFile, err = expandPath(logFile); err != nil {
		return err
	}
	exportDir := *flagExportDir
	if exportDir == "" {
		exportDir = filepath.Join(root, "clips")
	}
	if exportDir, err = expandPath(exportDir); err != nil {
		return err
	}
	store := *flagStore
	if store == "" {
		store = "leveldb:" + filepath.Join(root, "selection")
	}
	if store, err = expandStoreSpec(store); err != nil {
		return err
	}

	cfg.Root = root
	cfg.BackendURL = strings.TrimRight(*flagBackend, "/")
	cfg.Nonce = *flagNonce
	cfg.NonceURL = *flagNonceURL
	cfg.Mode = mode
	cfg.LogFile = logFile
	cfg.MaxLogFiles = *flagMaxLogFiles
	cfg.DebugLevel = *flagDebugLevel
	cfg.CaptureGain = *flagCaptureGain
	cfg.PlaybackGain = *flagPlaybackGain
	cfg.Sensitivity = *flagSensitivity
	cfg.ExportDir = exportDir
	cfg.Store = store
	cfg.UserColor = *flagUserColor
	cfg.AgentColor = *flagAgentColor
	cfg.ActiveColor = *flagActiveColor
	cfg.MetricsListen = *flagMetricsListen
	return nil
}

func loadConfig(args []string) (*config, error) {
	homeDir, err := homedir.Dir()
	if err != nil {
		homeDir = ""
	}
	defaultAppDir := defaultAppDataDir(homeDir)
	defaultCfgFile := filepath.Join(defaultAppDir, appName+".conf")

	// Parse CLI arguments.
	fs := flag.NewFlagSet("CLI Arguments", flag.ContinueOnError)
	flagVersion := fs.Bool("version", false, "Display current version and exit")
	flagCfgFile := fs.String("cfg", defaultCfgFile, "Config file to load")
	flagListDevices := fs.Bool("lsdev", false, "List capture and playback devices and exit")
	flagSession := fs.String("session", "", "Reference of a coaching session to review")
	flagTranscript := fs.String("transcript", "", "Transcript file of the local recording")
	flagProfile := fs.String("profile", "", "ip:port of where to run the go profiler")
	flagCPUProfile := fs.String("cpuprofile", "", "filename to dump CPU profiling")
	flagMemProfile := fs.String("memprofile", "", "filename to dump mem profiling")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, errCmdDone
		}
		return nil, err
	}

	if *flagVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil, errCmdDone
	}

	if *flagProfile != "" {
		go http.ListenAndServe(*flagProfile, nil)
	}

	cfgFile, err := expandPath(*flagCfgFile)
	if err != nil {
		return nil, err
	}
	if cfgFile == "" {
		cfgFile = defaultCfgFile
	}

	// Write a default config file on first run.
	defaultRoot := filepath.Dir(cfgFile)
	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(cfgFile, defaultRoot, homeDir); err != nil {
			return nil, fmt.Errorf("unable to write default config: %w", err)
		}
	}

	f, err := os.Open(cfgFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := &config{
		SessionRef:  *flagSession,
		ListDevices: *flagListDevices,
		CPUProfile:  *flagCPUProfile,
		MemProfile:  *flagMemProfile,
	}
	if cfg.TranscriptFile, err = expandPath(*flagTranscript); err != nil {
		return nil, err
	}
	if err := parseConfigFile(f, cfg, defaultRoot); err != nil {
		return nil, fmt.Errorf("unable to parse config file %s: %w", cfgFile, err)
	}
	return cfg, nil
}
