package main

import (
	"flag"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/scheduler"
	"github.com/BTreeMap/SupportPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SupportPipe state data
	DefaultStateDir = "/var/lib/supportpipe"
	// DefaultWhatsAppDBFileName is the whatsmeow session database inside the state directory
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultFeedbackFileName is the human-readable feedback statistics file
	DefaultFeedbackFileName = "feedback_stats.txt"
	// DefaultAnswerCacheSize is the number of cached generated answers
	DefaultAnswerCacheSize = 256
	// DefaultAnswerCacheTTL is how long a generated answer is reused
	DefaultAnswerCacheTTL = time.Hour
)

// Transport names accepted by SUPPORTPIPE_TRANSPORT.
const (
	TransportNone     = "none"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Config holds environment configuration
type Config struct {
	StateDir             string
	DatabaseURL          string
	WhatsAppDSN          string
	OpenAIKey            string
	OpenAIBaseURL        string
	OpenAIModel          string
	GenAIDebug           bool
	APIAddr              string
	TablesPath           string
	ReferenceDoc         string
	FeedbackFile         string
	SimilarityThreshold  float64
	DynamicClarification bool
	StrictOptions        bool
	MaxConversations     int
	AnswerCacheSize      int
	AnswerCacheTTL       time.Duration
	Transport            string
	TwilioValidate       bool
	TwilioWebhookURL     string
	DedupRetention       time.Duration
}

// Flags holds the effective configuration after command line overrides.
type Flags struct {
	Config
	QROutput    string
	NumericCode bool
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:             util.GetEnvDefault("SUPPORTPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:          util.GetEnvDefault("DATABASE_URL", ""),
		WhatsAppDSN:          util.GetEnvDefault("WHATSAPP_DB_DSN", ""),
		OpenAIKey:            util.GetEnvDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        util.GetEnvDefault("OPENAI_BASE_URL", ""),
		OpenAIModel:          util.GetEnvDefault("OPENAI_MODEL", ""),
		GenAIDebug:           util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:              util.GetEnvDefault("API_ADDR", ""),
		TablesPath:           util.GetEnvDefault("SUPPORTPIPE_TABLES", ""),
		ReferenceDoc:         util.GetEnvDefault("SUPPORTPIPE_REFERENCE_DOC", ""),
		FeedbackFile:         util.GetEnvDefault("SUPPORTPIPE_FEEDBACK_FILE", ""),
		SimilarityThreshold:  util.ParseFloatEnv("SUPPORTPIPE_SIMILARITY_THRESHOLD", classify.DefaultSimilarityThreshold),
		DynamicClarification: util.ParseBoolEnv("SUPPORTPIPE_DYNAMIC_CLARIFICATION", true),
		StrictOptions:        util.ParseBoolEnv("SUPPORTPIPE_STRICT_OPTIONS", false),
		MaxConversations:     util.ParseIntEnv("SUPPORTPIPE_MAX_CONVERSATIONS", 0),
		AnswerCacheSize:      util.ParseIntEnv("SUPPORTPIPE_ANSWER_CACHE_SIZE", DefaultAnswerCacheSize),
		AnswerCacheTTL:       util.ParseDurationEnv("SUPPORTPIPE_ANSWER_CACHE_TTL", DefaultAnswerCacheTTL),
		Transport:            util.GetEnvDefault("SUPPORTPIPE_TRANSPORT", TransportNone),
		TwilioValidate:       util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", true),
		TwilioWebhookURL:     util.GetEnvDefault("TWILIO_WEBHOOK_URL", ""),
		DedupRetention:       util.ParseDurationEnv("SUPPORTPIPE_DEDUP_RETENTION", scheduler.DefaultDedupRetention),
	}

	slog.Debug("environment variables loaded",
		"SUPPORTPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"SUPPORTPIPE_TRANSPORT", config.Transport)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
// Paths left empty are derived from the (possibly overridden) state directory.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	f := Flags{Config: config}
	fs.StringVar(&f.StateDir, "state-dir", config.StateDir, "state directory for SupportPipe data (overrides $SUPPORTPIPE_STATE_DIR)")
	fs.StringVar(&f.DatabaseURL, "db-dsn", config.DatabaseURL, "PostgreSQL DSN or SQLite path for conversation state; empty keeps state in memory (overrides $DATABASE_URL)")
	fs.StringVar(&f.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key; empty disables generated answers (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.OpenAIModel, "openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.TablesPath, "tables", config.TablesPath, "YAML tables file; empty uses the built-in tables (overrides $SUPPORTPIPE_TABLES)")
	fs.StringVar(&f.ReferenceDoc, "reference-doc", config.ReferenceDoc, "reference document searched before generating answers (overrides $SUPPORTPIPE_REFERENCE_DOC)")
	fs.StringVar(&f.FeedbackFile, "feedback-file", config.FeedbackFile, "feedback statistics file (overrides $SUPPORTPIPE_FEEDBACK_FILE)")
	fs.Float64Var(&f.SimilarityThreshold, "similarity-threshold", config.SimilarityThreshold, "follow-up similarity threshold (overrides $SUPPORTPIPE_SIMILARITY_THRESHOLD)")
	fs.BoolVar(&f.DynamicClarification, "dynamic-clarification", config.DynamicClarification, "ask a generated clarifying question for off-topic messages (overrides $SUPPORTPIPE_DYNAMIC_CLARIFICATION)")
	fs.StringVar(&f.Transport, "transport", config.Transport, "chat transport: whatsapp, twilio or none (overrides $SUPPORTPIPE_TRANSPORT)")
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.NumericCode, "numeric-code", false, "print the WhatsApp login code instead of a QR code")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if f.WhatsAppDSN == "" {
		f.WhatsAppDSN = "file:" + filepath.Join(f.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if f.FeedbackFile == "" {
		f.FeedbackFile = filepath.Join(f.StateDir, DefaultFeedbackFileName)
	}

	slog.Debug("flags parsed",
		"stateDir", f.StateDir,
		"dbDSN_set", f.DatabaseURL != "",
		"openaiKeySet", f.OpenAIKey != "",
		"apiAddr", f.APIAddr,
		"tables", f.TablesPath,
		"referenceDoc", f.ReferenceDoc,
		"transport", f.Transport)
	return f, nil
}
