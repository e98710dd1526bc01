package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/SupportPipe/internal/answer"
	"github.com/BTreeMap/SupportPipe/internal/api"
	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/BTreeMap/SupportPipe/internal/docsearch"
	"github.com/BTreeMap/SupportPipe/internal/feedback"
	"github.com/BTreeMap/SupportPipe/internal/flow"
	"github.com/BTreeMap/SupportPipe/internal/genai"
	"github.com/BTreeMap/SupportPipe/internal/lockfile"
	"github.com/BTreeMap/SupportPipe/internal/messaging"
	"github.com/BTreeMap/SupportPipe/internal/scheduler"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/tables"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SupportPipe/internal/whatsapp"
)

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SupportPipe")
	if err := run(ctx, flags); err != nil {
		slog.Error("SupportPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SupportPipe exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// run wires every component and blocks until ctx is cancelled or the HTTP server fails.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.Acquire(flags.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	t, err := loadTables(flags.TablesPath)
	if err != nil {
		return err
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sched := scheduler.NewScheduler()
	if err := sched.AddJob("prune-dedup", "@hourly", scheduler.PruneDedupJob(st, flags.DedupRetention)); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	ps, err := buildProducers(flags, t)
	if err != nil {
		return err
	}
	defer ps.cleanup()

	engineOpts := buildEngineOptions(flags, st, ps)
	classifier := classify.NewKeywordClassifier(t.Keywords, classify.WithSimilarityThreshold(flags.SimilarityThreshold))
	engine := flow.NewEngine(st, t, classifier, ps.answer, engineOpts...)

	svc, closeTransport, err := buildTransport(ctx, flags)
	if err != nil {
		return err
	}
	defer closeTransport()

	var router *messaging.Router
	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		router = messaging.NewRouter(svc, engine, messaging.WithDedup(st))
		router.Start(ctx)
	}

	apiOpts := buildAPIOptions(flags, st, svc, router)
	server := api.NewServer(engine, apiOpts...)

	serverErr := server.Start()
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown incomplete", "error", err)
	}
	if router != nil {
		router.Stop()
	}
	if svc != nil {
		if err := svc.Stop(); err != nil {
			slog.Warn("Messaging service stop failed", "error", err)
		}
	}
	return nil
}

// loadTables reads the YAML tables file, or returns the built-in tables when path is empty.
func loadTables(path string) (*tables.Tables, error) {
	if path == "" {
		slog.Info("Using built-in tables")
		return tables.Default(), nil
	}
	t, err := tables.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables from %s: %w", path, err)
	}
	slog.Info("Tables loaded", "path", path, "keywords", len(t.Keywords), "clarifications", len(t.Clarifications))
	return t, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	switch {
	case flags.DatabaseURL == "":
		slog.Debug("No database DSN provided, will use in-memory store", "max_conversations", flags.MaxConversations)
		storeOpts = append(storeOpts, store.WithMaxConversations(flags.MaxConversations))
	case store.DetectDSNType(flags.DatabaseURL) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.DatabaseURL))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.DatabaseURL)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.DatabaseURL))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithAPIKey(flags.OpenAIKey),
		genai.WithDebugMode(flags.GenAIDebug),
		genai.WithStateDir(flags.StateDir),
	}
	if flags.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(flags.OpenAIBaseURL))
	}
	if flags.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.OpenAIModel))
	}
	return genaiOpts
}

// producers are the answer sources the engine is built over. clarifier and
// alternatives are nil without a language model.
type producers struct {
	answer       answer.Producer
	clarifier    answer.Producer
	alternatives answer.Producer
	cleanup      func()
}

// buildProducers assembles the answer chain: the reference document first, then
// the cached language model. Alternatives after "не помогло" come from the
// uncached model alone, since the document would return the same section again.
func buildProducers(flags Flags, t *tables.Tables) (producers, error) {
	var chain []answer.Producer
	ps := producers{cleanup: func() {}}

	if flags.ReferenceDoc != "" {
		idx, err := docsearch.Load(flags.ReferenceDoc)
		if err != nil {
			return producers{}, fmt.Errorf("failed to load reference document: %w", err)
		}
		ps.cleanup = func() { idx.Close() }
		slog.Info("Reference document indexed", "path", flags.ReferenceDoc, "sections", idx.Len())
		chain = append(chain, answer.NewDocument(idx))
	}

	if flags.OpenAIKey != "" {
		client, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			ps.cleanup()
			return producers{}, fmt.Errorf("failed to create GenAI client: %w", err)
		}
		generative := answer.NewGenerative(client, answer.WithHints(t))
		chain = append(chain, answer.NewCached(generative, flags.AnswerCacheSize, flags.AnswerCacheTTL))
		ps.alternatives = generative
		ps.clarifier = answer.NewGenerative(client)
	} else {
		slog.Warn("OPENAI_API_KEY not set; answers come from the reference document only")
	}

	if len(chain) == 0 {
		slog.Warn("No answer source configured; every question will get the apology")
	}
	ps.answer = answer.NewChain(chain...)
	return ps, nil
}

// buildEngineOptions constructs engine options. Dynamic clarification needs a model.
func buildEngineOptions(flags Flags, st store.Store, ps producers) []flow.Option {
	sink := feedback.Multi{feedback.NewFileLog(flags.FeedbackFile), feedback.NewStoreSink(st)}
	opts := []flow.Option{
		flow.WithFeedbackSink(sink),
		flow.WithAcceptFreeTextOptions(!flags.StrictOptions),
		flow.WithDynamicClarification(flags.DynamicClarification && ps.clarifier != nil),
	}
	if ps.clarifier != nil {
		opts = append(opts, flow.WithClarifier(ps.clarifier))
	}
	if ps.alternatives != nil {
		opts = append(opts, flow.WithAlternatives(ps.alternatives))
	}
	return opts
}

// buildTransport opens the configured chat transport. A nil service means HTTP only.
func buildTransport(ctx context.Context, flags Flags) (messaging.Service, func(), error) {
	noop := func() {}
	switch flags.Transport {
	case "", TransportNone:
		slog.Info("No chat transport configured; serving HTTP only")
		return nil, noop, nil
	case TransportWhatsApp:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(flags.WhatsAppDSN)}
		if flags.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.QROutput))
		}
		if flags.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client.Close, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var twOpts []messaging.TwilioOption
		if flags.TwilioValidate {
			token := os.Getenv("TWILIO_AUTH_TOKEN")
			twOpts = append(twOpts, messaging.WithSignatureValidator(twiliowhatsapp.NewSignatureValidator(token)))
		}
		if flags.TwilioWebhookURL != "" {
			twOpts = append(twOpts, messaging.WithWebhookURL(flags.TwilioWebhookURL))
		}
		return messaging.NewTwilioService(client, twOpts...), noop, nil
	default:
		return nil, noop, errors.New("unknown transport " + flags.Transport + "; use whatsapp, twilio or none")
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, st store.Store, svc messaging.Service, router *messaging.Router) []api.Option {
	apiOpts := []api.Option{api.WithFeedbackRepo(st)}
	if flags.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.APIAddr))
	}
	if mem, ok := st.(*store.InMemoryStore); ok {
		apiOpts = append(apiOpts, api.WithConversationCounter(mem.ConversationCount))
	}
	if tw, ok := svc.(*messaging.TwilioService); ok {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tw.TwilioWebhookHandler))
	}
	if router != nil {
		apiOpts = append(apiOpts, api.WithResetHook(router.Forget))
	}
	return apiOpts
}
