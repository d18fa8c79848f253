package main

const (
	defaultConfigFileContent = `
# root directory for coachmedia data (selection store, exported clips, logs)
root = {{ .Root }}

# origin of the coaching backend. Leave empty to work offline (record and
# review local clips only).
# backend = https://coach.example.com

# REST nonce sent in the X-WP-Nonce header of authenticated requests.
# nonce =

# URL that returns a fresh nonce when the backend rejects the current one.
# nonceurl = https://coach.example.com/wp-admin/admin-ajax.php?action=rest-nonce

# Capture mode: "audio" or "audio+video".
mode = audio

# logging and debug
[log]

# logfile contains log file name location
logfile = {{ .LogFile }}

# How many log files to keep. 0 means keep all log files.
maxlogfiles = 0

# how verbose to be. Per subsystem levels are comma separated, for example
# info,AUDI=debug,DEVS=trace
debuglevel = info

[audio]

# Max duration of a recording. Recordings stop automatically after it.
maxrecording = 3m

# Gains applied to captured audio and to playback, in dB.
capturegain = 0
playbackgain = 0

# How often the input level meter is updated.
meterinterval = 16ms

# Multiplier of the input level before clamping into the 0-1 range.
sensitivity = 4

# Directory where recorded clips are exported.
exportdir = {{ .ExportDir }}

[devices]

# Hot-plug notifications within this interval of the last device refresh are
# coalesced into one refresh after it.
cooldown = 1500ms

# When set, devices are polled at this interval instead of watching the
# device nodes for changes.
# pollinterval = 5s

# Where the device selection is kept: leveldb:<dir>, json:<file> or memory.
store = leveldb:{{ .Root }}/selection

# Valid ui colors: na, black, red, green, yellow, blue, magenta, cyan and white
# Valid attributes are: none, underline, bold and reverse
# format is: attribute:foreground:background
[theme]
usercolor = bold:cyan:na
agentcolor = bold:green:na
activecolor = reverse:na:na

[metrics]
# Address where prometheus metrics are served. Empty disables them.
# listen = 127.0.0.1:9470
`
)
