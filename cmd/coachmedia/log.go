package main

import (
	"container/ring"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags of the loggers.
const (
	subsysMain     = "MAIN"
	subsysAudio    = "AUDI"
	subsysDevices  = "DEVS"
	subsysPlayback = "PLAY"
	subsysBackend  = "BKND"
	subsysStore    = "STOR"
)

// errMsgRE matches error log lines.
var errMsgRE = regexp.MustCompile(`^\d{4}-\d\d-\d\d \d\d:\d\d:\d\d\.\d{3} \[ERR] `)

const maxLogLines = 200

type logBackend struct {
	logRotator      *rotator.Rotator
	stdout          bool
	bknd            *slog.Backend
	defaultLogLevel slog.Level
	logLevels       map[string]slog.Level

	loggersMtx sync.Mutex
	loggers    map[string]slog.Logger

	linesMtx sync.Mutex
	lines    *ring.Ring

	// errorMsg is called with every error line once set.
	errorMsg func(string)
}

// newLogBackend creates the log backend. An empty logFile logs to stdout
// only when stdout is true.
func newLogBackend(logFile, debugLevel string, maxLogFiles int, stdout bool) (*logBackend, error) {
	var logRotator *rotator.Rotator
	if logFile != "" {
		logDir, _ := filepath.Split(logFile)
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logRotator, err = rotator.New(logFile, 1024, false, maxLogFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
	}

	b := &logBackend{
		logRotator:      logRotator,
		stdout:          stdout,
		defaultLogLevel: slog.LevelInfo,
		logLevels:       make(map[string]slog.Level),
		loggers:         make(map[string]slog.Logger),
		lines:           ring.New(maxLogLines),
	}
	b.bknd = slog.NewBackend(b)

	for _, v := range strings.Split(debugLevel, ",") {
		if err := b.setLogLevel(strings.TrimSpace(v)); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (bknd *logBackend) Write(b []byte) (int, error) {
	if bknd.stdout {
		os.Stdout.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}

	line := strings.TrimRight(string(b), "\n")
	bknd.linesMtx.Lock()
	bknd.lines.Value = line
	bknd.lines = bknd.lines.Next()
	errorMsg := bknd.errorMsg
	bknd.linesMtx.Unlock()

	if errorMsg != nil && errMsgRE.Match(b) && len(line) > 24 {
		errorMsg(line[24:])
	}

	return len(b), nil
}

// setErrorMsgHandler sets the function called with every error line.
func (bknd *logBackend) setErrorMsgHandler(f func(string)) {
	bknd.linesMtx.Lock()
	bknd.errorMsg = f
	bknd.linesMtx.Unlock()
}

func (bknd *logBackend) logger(subsys string) slog.Logger {
	bknd.loggersMtx.Lock()
	defer bknd.loggersMtx.Unlock()

	if l, ok := bknd.loggers[subsys]; ok {
		return l
	}

	l := bknd.bknd.Logger(subsys)
	bknd.loggers[subsys] = l
	if level, ok := bknd.logLevels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(bknd.defaultLogLevel)
	}

	return l
}

// setLogLevel applies either a global level ("debug") or a subsystem level
// ("AUDI=trace").
func (bknd *logBackend) setLogLevel(s string) error {
	if s == "" {
		return nil
	}

	bknd.loggersMtx.Lock()
	defer bknd.loggersMtx.Unlock()

	fields := strings.Split(s, "=")
	switch len(fields) {
	case 1:
		level, ok := slog.LevelFromString(fields[0])
		if !ok {
			return fmt.Errorf("unknown log level %q", fields[0])
		}
		bknd.defaultLogLevel = level
		for subsys, l := range bknd.loggers {
			if _, ok := bknd.logLevels[subsys]; !ok {
				l.SetLevel(level)
			}
		}
	case 2:
		subsys := strings.ToUpper(fields[0])
		level, ok := slog.LevelFromString(fields[1])
		if !ok {
			return fmt.Errorf("unknown log level %q for subsystem %s",
				fields[1], subsys)
		}
		bknd.logLevels[subsys] = level
		if l, ok := bknd.loggers[subsys]; ok {
			l.SetLevel(level)
		}
	default:
		return fmt.Errorf("unable to parse %q as subsys=level "+
			"debuglevel string", s)
	}

	return nil
}

// lastLogLines returns up to the last n log lines, oldest first.
func (bknd *logBackend) lastLogLines(n int) []string {
	bknd.linesMtx.Lock()
	defer bknd.linesMtx.Unlock()

	res := make([]string, 0, n)
	bknd.lines.Do(func(v any) {
		if s, ok := v.(string); ok {
			res = append(res, s)
		}
	})
	if len(res) > n {
		res = res[len(res)-n:]
	}
	return res
}

func (bknd *logBackend) close() {
	if bknd.logRotator != nil {
		bknd.logRotator.Close()
	}
}
