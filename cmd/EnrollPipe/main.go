package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/FarmLedger/EnrollPipe/internal/api"
	"github.com/FarmLedger/EnrollPipe/internal/flow"
	"github.com/FarmLedger/EnrollPipe/internal/genai"
	"github.com/FarmLedger/EnrollPipe/internal/messaging"
	"github.com/FarmLedger/EnrollPipe/internal/provision"
	"github.com/FarmLedger/EnrollPipe/internal/store"
	"github.com/FarmLedger/EnrollPipe/internal/twiliowhatsapp"
	"github.com/FarmLedger/EnrollPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for EnrollPipe state data
	DefaultStateDir = "/var/lib/enrollpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "enrollpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := flow.NewEngine(st, buildExtractor(flags), buildProvisioner(flags))

	msgService, err := buildMessagingService(flags)
	if err != nil {
		slog.Error("Failed to initialize messaging service", "error", err)
		os.Exit(1)
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(msgService, st, engine, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping EnrollPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "use_twilio", *flags.useTwilio)
	if err := server.Run(ctx); err != nil {
		slog.Error("EnrollPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("EnrollPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN       string
	DatabaseURL       string
	StateDir          string
	OpenAIKey         string
	APIAddr           string
	UseTwilio         bool
	ProvisionEndpoint string
	ProvisionToken    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput          *string
	numeric           *bool
	stateDir          *string
	dbDSN             *string
	openaiKey         *string
	apiAddr           *string
	useTwilio         *bool
	provisionEndpoint *string
	provisionToken    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// boolEnv reads a boolean environment variable, tolerating the usual
// yes/no and on/off spellings. Unset or unparseable values fall back to the
// default.
func boolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	slog.Warn("ignoring unparseable boolean environment variable", "key", key, "value", raw)
	return fallback
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDSN:       os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("ENROLLPIPE_STATE_DIR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		APIAddr:           os.Getenv("API_ADDR"),
		UseTwilio:         boolEnv("USE_TWILIO", false),
		ProvisionEndpoint: os.Getenv("PROVISION_ENDPOINT"),
		ProvisionToken:    os.Getenv("PROVISION_TOKEN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ENROLLPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ENROLLPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"USE_TWILIO", config.UseTwilio,
		"PROVISION_ENDPOINT_SET", config.ProvisionEndpoint != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:          flag.String("qr-output", "", "path to write login QR code"),
		numeric:           flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:          flag.String("state-dir", config.StateDir, "state directory for EnrollPipe data (overrides $ENROLLPIPE_STATE_DIR)"),
		dbDSN:             flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp and the session store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		openaiKey:         flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:           flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		useTwilio:         flag.Bool("use-twilio", config.UseTwilio, "use the Twilio WhatsApp API instead of a direct WhatsApp connection (overrides $USE_TWILIO)"),
		provisionEndpoint: flag.String("provision-endpoint", config.ProvisionEndpoint, "account provisioning endpoint URL (overrides $PROVISION_ENDPOINT)"),
		provisionToken:    flag.String("provision-token", config.ProvisionToken, "bearer token for the provisioning endpoint (overrides $PROVISION_TOKEN)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"useTwilio", *flags.useTwilio,
		"provisionEndpointSet", *flags.provisionEndpoint != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects the session store backend from the database DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildExtractor creates the field extractor. Without an OpenAI key the
// extractor runs degraded and never extracts fields.
func buildExtractor(flags Flags) *flow.Extractor {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("GenAI client unavailable, field extraction disabled", "error", err)
		return flow.NewExtractor(nil)
	}
	return flow.NewExtractor(client)
}

// buildProvisioner creates the account provisioner. Without an endpoint a
// stub is used so conversations can be exercised locally; no real accounts
// are created in that mode.
func buildProvisioner(flags Flags) provision.Provisioner {
	if *flags.provisionEndpoint == "" {
		slog.Warn("No provisioning endpoint configured, using in-process stub")
		return &provision.MockProvisioner{}
	}
	provisioner, err := provision.NewHTTPProvisioner(
		provision.WithEndpoint(*flags.provisionEndpoint),
		provision.WithToken(*flags.provisionToken),
	)
	if err != nil {
		slog.Warn("Provisioner unavailable, using in-process stub", "error", err)
		return &provision.MockProvisioner{}
	}
	return provisioner
}

// buildMessagingService selects the WhatsApp transport.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.useTwilio {
		slog.Info("Using Twilio WhatsApp transport")
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	slog.Info("Using direct WhatsApp transport")
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}
