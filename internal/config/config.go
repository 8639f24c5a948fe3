package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/endpoint"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/origin"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

const (
	envVarConfigFile      = "AERO_RTC_BRIDGE_CONFIG"
	envVarListenAddr      = "AERO_RTC_BRIDGE_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_RTC_BRIDGE_LOG_FORMAT"
	envVarLogLevel        = "AERO_RTC_BRIDGE_LOG_LEVEL"
	envVarLogFile         = "AERO_RTC_BRIDGE_LOG_FILE"
	envVarLogMaxSizeMB    = "AERO_RTC_BRIDGE_LOG_MAX_SIZE_MB"
	envVarLogMaxBackups   = "AERO_RTC_BRIDGE_LOG_MAX_BACKUPS"
	envVarShutdownTimeout = "AERO_RTC_BRIDGE_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_RTC_BRIDGE_MODE"

	// Default session (serves the signaling endpoints and --echo).
	envVarDefaultSession     = "AERO_RTC_BRIDGE_DEFAULT_SESSION"
	envVarRTCAddr            = "AERO_RTC_BRIDGE_RTC_ADDR"
	envVarRTCEndpoint        = "AERO_RTC_BRIDGE_RTC_ENDPOINT"
	envVarMessageKind        = "AERO_RTC_BRIDGE_MESSAGE_KIND"
	envVarDebug              = "AERO_RTC_BRIDGE_DEBUG"
	envVarEcho               = "AERO_RTC_BRIDGE_ECHO"
	envVarSchedulerWorkers   = "AERO_RTC_BRIDGE_SCHEDULER_WORKERS"
	envVarNegotiateTimeout   = "AERO_RTC_BRIDGE_NEGOTIATE_TIMEOUT"
	envVarPeerConnectTimeout = "AERO_RTC_BRIDGE_PEER_CONNECT_TIMEOUT"
	envVarMaxMessageBytes    = "AERO_RTC_BRIDGE_MAX_MESSAGE_BYTES"
	envVarSCTPReceiveBuffer  = "AERO_RTC_BRIDGE_SCTP_MAX_RECEIVE_BUFFER_BYTES"

	// Control protocol.
	envVarAuthMode                    = "AUTH_MODE"
	envVarAPIKey                      = "API_KEY"
	envVarMaxControlMessageBytes      = "MAX_CONTROL_MESSAGE_BYTES"
	envVarMaxControlMessagesPerSecond = "MAX_CONTROL_MESSAGES_PER_SECOND"
	envVarMaxSignalingMessageBytes    = "MAX_SIGNALING_MESSAGE_BYTES"

	DefaultListenAddr                    = "127.0.0.1:8080"
	DefaultShutdown                      = 15 * time.Second
	DefaultMode                     Mode = ModeDev
	DefaultMessageKind                   = transport.KindBinary
	DefaultNegotiateTimeout              = 10 * time.Second
	DefaultPeerConnectTimeout            = 10 * time.Second
	DefaultMaxMessageBytes               = 64 * 1024
	DefaultLogMaxSizeMB                  = 100
	DefaultLogMaxBackups                 = 3
	DefaultAuthMode             AuthMode = AuthModeAPIKey
	DefaultMaxControlMessageBytes        = int64(1 << 20)
	DefaultMaxControlMessagesPerSecond   = 200
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
)

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// LogFile enables rotated file output in place of stdout.
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// DefaultSession binds a session at startup on RTCAddr/RTCEndpoint. The
	// signaling endpoints and echo mode drive it.
	DefaultSession bool
	RTCAddr        string
	RTCEndpoint    string
	MessageKind    transport.MessageKind
	Debug          bool
	Echo           bool

	// SchedulerWorkers sizes the relay loop pool. Zero uses GOMAXPROCS.
	SchedulerWorkers int

	NegotiateTimeout   time.Duration
	PeerConnectTimeout time.Duration
	MaxMessageBytes    int
	// SCTPReceiveBufferBytes caps pion's per-association reassembly buffer.
	SCTPReceiveBufferBytes int

	AuthMode                    AuthMode
	APIKey                      string
	MaxControlMessageBytes      int64
	MaxControlMessagesPerSecond int
	MaxSignalingMessageBytes    int64
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	path := configPathFromArgs(args)
	if path == "" {
		path = envOrDefault(lookup, envVarConfigFile, "")
	}
	if path != "" {
		fc, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		lookup = layered(lookup, fc.values())
	}

	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	logFile := envOrDefault(lookup, envVarLogFile, "")
	rtcAddr := envOrDefault(lookup, envVarRTCAddr, endpoint.DefaultListen)
	rtcEndpoint := envOrDefault(lookup, envVarRTCEndpoint, endpoint.DefaultPublic)
	messageKindStr := envOrDefault(lookup, envVarMessageKind, DefaultMessageKind.String())
	authModeStr := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")

	logMaxSizeMB, err := envIntOrDefault(lookup, envVarLogMaxSizeMB, DefaultLogMaxSizeMB)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := envIntOrDefault(lookup, envVarLogMaxBackups, DefaultLogMaxBackups)
	if err != nil {
		return Config{}, err
	}
	schedulerWorkers, err := envIntOrDefault(lookup, envVarSchedulerWorkers, 0)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	envSCTP, envSCTPOK := lookup(envVarSCTPReceiveBuffer)
	envSCTPSet := envSCTPOK && strings.TrimSpace(envSCTP) != ""
	sctpReceiveBufferBytes, err := envIntOrDefault(lookup, envVarSCTPReceiveBuffer, 0)
	if err != nil {
		return Config{}, err
	}
	maxControlMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxControlMessagesPerSecond, DefaultMaxControlMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxControlMessageBytes, err := envInt64OrDefault(lookup, envVarMaxControlMessageBytes, DefaultMaxControlMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}

	defaultSession, err := envBoolOrDefault(lookup, envVarDefaultSession, true)
	if err != nil {
		return Config{}, err
	}
	debug, err := envBoolOrDefault(lookup, envVarDebug, false)
	if err != nil {
		return Config{}, err
	}
	echo, err := envBoolOrDefault(lookup, envVarEcho, false)
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	negotiateTimeout, err := envDurationOrDefault(lookup, envVarNegotiateTimeout, DefaultNegotiateTimeout)
	if err != nil {
		return Config{}, err
	}
	peerConnectTimeout, err := envDurationOrDefault(lookup, envVarPeerConnectTimeout, DefaultPeerConnectTimeout)
	if err != nil {
		return Config{}, err
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		configPath   string
	)

	fs := flag.NewFlagSet("aero-rtc-datagram-bridge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&configPath, "config", path, "YAML config file; values sit below env and flags (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&logFile, "log-file", logFile, "Write logs to this file with rotation instead of stdout (env "+envVarLogFile+")")
	fs.IntVar(&logMaxSizeMB, "log-max-size-mb", logMaxSizeMB, "Rotate the log file after this many megabytes")
	fs.IntVar(&logMaxBackups, "log-max-backups", logMaxBackups, "Rotated log files to keep")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.BoolVar(&defaultSession, "default-session", defaultSession, "Bind a session at startup for signaling and echo mode (env "+envVarDefaultSession+")")
	fs.StringVar(&rtcAddr, "rtc-addr", rtcAddr, "UDP listen address of the default session (env "+envVarRTCAddr+")")
	fs.StringVar(&rtcEndpoint, "rtc-endpoint", rtcEndpoint, "Public URL advertised by the default session (env "+envVarRTCEndpoint+")")
	fs.StringVar(&messageKindStr, "message-kind", messageKindStr, "Default outbound message kind: text or binary (env "+envVarMessageKind+")")
	fs.BoolVar(&debug, "debug", debug, "Forward inbound transport errors to session callbacks (env "+envVarDebug+")")
	fs.BoolVar(&echo, "echo", echo, "Echo every message received by the default session back to its sender (env "+envVarEcho+")")
	fs.IntVar(&schedulerWorkers, "scheduler-workers", schedulerWorkers, "Relay loop worker count (0 = GOMAXPROCS)")
	fs.DurationVar(&negotiateTimeout, "negotiate-timeout", negotiateTimeout, "Max time to answer an SDP offer (env "+envVarNegotiateTimeout+")")
	fs.DurationVar(&peerConnectTimeout, "peer-connect-timeout", peerConnectTimeout, "Max time for a negotiated peer to open its DataChannel (env "+envVarPeerConnectTimeout+")")
	fs.IntVar(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max DataChannel message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&sctpReceiveBufferBytes, "sctp-max-receive-buffer-bytes", sctpReceiveBufferBytes, "Max SCTP receive buffer in bytes (0 = derived from --max-message-bytes; env "+envVarSCTPReceiveBuffer+")")

	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Control auth mode: none or api_key (env "+envVarAuthMode+")")
	fs.StringVar(&apiKey, "api-key", apiKey, "Control API key (env "+envVarAPIKey+")")
	fs.Int64Var(&maxControlMessageBytes, "max-control-message-bytes", maxControlMessageBytes, "Max inbound control WS message size in bytes (env "+envVarMaxControlMessageBytes+")")
	fs.IntVar(&maxControlMessagesPerSecond, "max-control-messages-per-second", maxControlMessagesPerSecond, "Max inbound control WS messages per second per connection (env "+envVarMaxControlMessagesPerSecond+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	messageKind, err := transport.ParseMessageKind(strings.ToLower(strings.TrimSpace(messageKindStr)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMessageKind, messageKindStr, err)
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown-timeout must be > 0")
	}
	if negotiateTimeout <= 0 {
		return Config{}, fmt.Errorf("negotiate-timeout must be > 0")
	}
	if peerConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("peer-connect-timeout must be > 0")
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max-message-bytes must be > 0")
	}
	if schedulerWorkers < 0 {
		return Config{}, fmt.Errorf("scheduler-workers must be >= 0")
	}
	if maxControlMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max-control-message-bytes must be > 0")
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max-signaling-message-bytes must be > 0")
	}
	if maxControlMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("max-control-messages-per-second must be >= 0")
	}
	if logFile != "" && (logMaxSizeMB <= 0 || logMaxBackups < 0) {
		return Config{}, fmt.Errorf("log rotation needs log-max-size-mb > 0 and log-max-backups >= 0")
	}

	if !envSCTPSet && !setFlags["sctp-max-receive-buffer-bytes"] {
		sctpReceiveBufferBytes = defaultSCTPReceiveBufferBytes(maxMessageBytes)
	}
	if err := validateSCTPReceiveBufferBytes(sctpReceiveBufferBytes, maxMessageBytes); err != nil {
		return Config{}, err
	}

	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s=%s requires %s", envVarAuthMode, AuthModeAPIKey, envVarAPIKey)
	}

	if defaultSession {
		if _, err := endpoint.ParseListen(rtcAddr); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarRTCAddr, err)
		}
		if _, err := endpoint.ParsePublicURL(rtcEndpoint); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarRTCEndpoint, err)
		}
	} else if echo {
		return Config{}, fmt.Errorf("echo mode requires the default session")
	}

	return Config{
		ListenAddr:                  listenAddr,
		AllowedOrigins:              allowedOrigins,
		LogFormat:                   logFormat,
		LogLevel:                    level,
		ShutdownTimeout:             shutdownTimeout,
		Mode:                        mode,
		LogFile:                     logFile,
		LogMaxSizeMB:                logMaxSizeMB,
		LogMaxBackups:               logMaxBackups,
		DefaultSession:              defaultSession,
		RTCAddr:                     rtcAddr,
		RTCEndpoint:                 rtcEndpoint,
		MessageKind:                 messageKind,
		Debug:                       debug,
		Echo:                        echo,
		SchedulerWorkers:            schedulerWorkers,
		NegotiateTimeout:            negotiateTimeout,
		PeerConnectTimeout:          peerConnectTimeout,
		MaxMessageBytes:             maxMessageBytes,
		SCTPReceiveBufferBytes:      sctpReceiveBufferBytes,
		AuthMode:                    authMode,
		APIKey:                      apiKey,
		MaxControlMessageBytes:      maxControlMessageBytes,
		MaxControlMessagesPerSecond: maxControlMessagesPerSecond,
		MaxSignalingMessageBytes:    maxSignalingMessageBytes,
	}, nil
}

// NewLogger builds the process logger. The returned closer flushes the log
// file when one is configured and is a no-op otherwise.
func NewLogger(cfg Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			LocalTime:  true,
		}
		out, closer = lj, lj
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(out, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// configPathFromArgs finds --config ahead of flag parsing so the file can
// seed flag defaults.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// layered consults env first and falls back to file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
