package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/BTreeMap/ShiftPipe/internal/api"
	"github.com/BTreeMap/ShiftPipe/internal/engine"
	"github.com/BTreeMap/ShiftPipe/internal/lockfile"
	"github.com/BTreeMap/ShiftPipe/internal/scheduler"
	"github.com/BTreeMap/ShiftPipe/internal/store"
	"github.com/BTreeMap/ShiftPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ShiftPipe state data
	DefaultStateDir = "/var/lib/shiftpipe"
	// DefaultAppDBFileName is the default SQLite database filename for application data
	DefaultAppDBFileName = "shiftpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultTimezone is the zone deadlines are computed in
	DefaultTimezone = "Europe/Berlin"
	// DefaultCacheSize is the number of workers and shifts kept in the lookup cache
	DefaultCacheSize = 1024
)

// Transports
const (
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	initializeLogger(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ShiftPipe", "transport", config.Transport, "state_dir", config.StateDir, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("ShiftPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ShiftPipe exited successfully")
}

// Config holds the resolved configuration.
type Config struct {
	StateDir       string
	DatabaseURL    string
	APIAddr        string
	LogLevel       string
	Transport      string
	Timezone       string
	CutoffHour     int
	SweepSchedule  string
	CacheSize      int
	CacheTTL       time.Duration
	Coordinator    string
	SeedCodes      []string
	SendRate       float64
	SendBurst      int
	UseOutbox      bool
	OutboxInterval time.Duration

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFrom           string
	TwilioStatusCallback string
	PublicURL            string

	WhatsAppDSN string
	QROutput    string
	NumericCode bool
}

// initializeLogger sets up structured logging through tint.
func initializeLogger(level string) {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLogLevel(level),
		TimeFormat: time.DateTime,
	})
	slog.SetDefault(slog.New(handler))
}

// parseLogLevel maps a level name to a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:             os.Getenv("SHIFTPIPE_STATE_DIR"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		APIAddr:              os.Getenv("API_ADDR"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
		Transport:            strings.ToLower(os.Getenv("TRANSPORT")),
		Timezone:             os.Getenv("TIMEZONE"),
		CutoffHour:           util.ParseIntEnv("TIME_REQUEST_CUTOFF_HOUR", engine.DefaultCutoffHour),
		SweepSchedule:        os.Getenv("SWEEP_SCHEDULE"),
		CacheSize:            util.ParseIntEnv("LOOKUP_CACHE_SIZE", DefaultCacheSize),
		CacheTTL:             util.ParseDurationEnv("LOOKUP_CACHE_TTL", store.DefaultLookupCacheTTL),
		Coordinator:          os.Getenv("COORDINATOR_NUMBER"),
		SeedCodes:            util.SplitList(os.Getenv("REGISTRATION_CODES")),
		SendRate:             util.ParseFloatEnv("SEND_RATE_PER_SECOND", 0),
		SendBurst:            util.ParseIntEnv("SEND_RATE_BURST", 1),
		UseOutbox:            util.ParseBoolEnv("USE_OUTBOX", false),
		OutboxInterval:       util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", 5*time.Second),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:           os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioStatusCallback: os.Getenv("TWILIO_STATUS_CALLBACK_URL"),
		PublicURL:            strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		WhatsAppDSN:          os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SHIFTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.Transport == "" {
		config.Transport = TransportTwilio
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = scheduler.DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"SHIFTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"TRANSPORT", config.Transport,
		"TIMEZONE", config.Timezone,
		"SWEEP_SCHEDULE", config.SweepSchedule,
		"USE_OUTBOX", config.UseOutbox,
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"REGISTRATION_CODES", len(config.SeedCodes))

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults.
// Database paths derived from the state directory follow a -state-dir override.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	out := config
	fs.StringVar(&out.StateDir, "state-dir", config.StateDir, "state directory for ShiftPipe data (overrides $SHIFTPIPE_STATE_DIR)")
	fs.StringVar(&out.DatabaseURL, "db-dsn", config.DatabaseURL, "application database DSN, empty for in-memory (overrides $DATABASE_URL)")
	fs.StringVar(&out.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&out.LogLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&out.Transport, "transport", config.Transport, "messaging transport: twilio or whatsapp (overrides $TRANSPORT)")
	fs.StringVar(&out.Timezone, "timezone", config.Timezone, "time zone for response deadlines (overrides $TIMEZONE)")
	fs.StringVar(&out.SweepSchedule, "sweep-schedule", config.SweepSchedule, "cron schedule for expiry and reminder sweeps (overrides $SWEEP_SCHEDULE)")
	fs.BoolVar(&out.UseOutbox, "use-outbox", config.UseOutbox, "deliver replies through the durable outbox (overrides $USE_OUTBOX)")
	fs.StringVar(&out.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "WhatsApp session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&out.QROutput, "qr-output", config.QROutput, "path to write the WhatsApp login QR code")
	fs.BoolVar(&out.NumericCode, "numeric-code", config.NumericCode, "use numeric WhatsApp login code instead of QR code")

	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if out.StateDir != config.StateDir {
		if out.DatabaseURL == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			out.DatabaseURL = filepath.Join(out.StateDir, DefaultAppDBFileName)
		}
		if out.WhatsAppDSN == defaultWhatsAppDSN(config.StateDir) {
			out.WhatsAppDSN = defaultWhatsAppDSN(out.StateDir)
		}
		slog.Debug("Updated database paths for state directory", "state_dir", out.StateDir)
	}
	out.Transport = strings.ToLower(out.Transport)
	if out.Transport != TransportTwilio && out.Transport != TransportWhatsApp {
		return config, fmt.Errorf("unknown transport %q", out.Transport)
	}

	slog.Debug("flags parsed",
		"stateDir", out.StateDir,
		"dbDSN_set", out.DatabaseURL != "",
		"apiAddr", out.APIAddr,
		"transport", out.Transport,
		"useOutbox", out.UseOutbox)
	return out, nil
}
