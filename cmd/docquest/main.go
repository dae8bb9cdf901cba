package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/docquest/internal/catalog"
	"github.com/pavelanni/docquest/internal/handler"
	"github.com/pavelanni/docquest/internal/history"
	appI18n "github.com/pavelanni/docquest/internal/i18n"
	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/llm/prompts"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/session"
	"github.com/pavelanni/docquest/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docquest",
		Short: "Medical case simulator with an LLM patient and evaluator",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), casesCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `docquest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DocQuest web server",
		RunE:  runServe,
	}
	def := llm.DefaultConfig()
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "docquest.db", "SQLite database path for session state")
	f.StringP("cases", "c", "cases.json", "Path to the case catalog JSON file")
	f.String("history", "history.jsonl", "Path to the append-only attempt history file")
	f.String("llm-provider", def.Provider, "LLM provider (openai, anthropic, gemini, mock)")
	f.String("llm-url", def.BaseURL, "OpenAI-compatible API base URL")
	f.String("llm-model", def.Model, "LLM model name")
	f.String("api-key", "", "API key for the LLM provider (or DOCQUEST_API_KEY, or API_KEY in .env)")
	f.String("env-file", ".env", "Dotenv file consulted for API_KEY")
	f.Duration("llm-timeout", def.Timeout, "Timeout for a single completion call")
	f.Int("llm-retries", def.Retry.MaxAttempts, "Attempts per completion on rate limits and outages")
	f.Bool("llm-ping", false, "Check the LLM endpoint before serving")
	f.Int("chat-window", session.DefaultChatWindow, "Transcript entries shown on the case page")
	f.String("prompt-variant", string(prompts.PromptStandard), "Evaluator prompt variant (strict, standard, lenient)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.Duration("session-ttl", store.DefaultSessionTTL, "How long idle sessions are kept")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the best result per case as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "docquest.db", "SQLite database path for session state")
	f.StringP("cases", "c", "cases.json", "Path to the case catalog JSON file")
	f.String("history", "history.jsonl", "Path to the append-only attempt history file")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func casesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Validate the case catalog and list its categories",
		RunE:  runCases,
	}
	cmd.Flags().StringP("cases", "c", "cases.json", "Path to the case catalog JSON file")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("DOCQUEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("docquest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/docquest")
	v.AddConfigPath("/etc/docquest")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// resolveAPIKey picks the credential from the flag or DOCQUEST_API_KEY, then
// the plain API_KEY variable, then API_KEY in the dotenv file.
func resolveAPIKey(v *viper.Viper) string {
	if key := strings.TrimSpace(v.GetString("api-key")); key != "" {
		return key
	}
	if key := strings.TrimSpace(os.Getenv("API_KEY")); key != "" {
		return key
	}
	path := v.GetString("env-file")
	if path == "" {
		return ""
	}
	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("dotenv file not read", "path", path, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(env.GetString("api_key"))
}

func llmConfig(v *viper.Viper) llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Provider = strings.ToLower(strings.TrimSpace(v.GetString("llm-provider")))
	cfg.APIKey = resolveAPIKey(v)
	cfg.Model = v.GetString("llm-model")
	cfg.BaseURL = v.GetString("llm-url")
	cfg.Timeout = v.GetDuration("llm-timeout")
	cfg.Retry.MaxAttempts = v.GetInt("llm-retries")
	return cfg
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// The credential check comes first so a misconfigured server never listens.
	llmCfg := llmConfig(v)
	if err := llmCfg.Validate(); err != nil {
		return err
	}

	cases, err := catalog.Load(v.GetString("cases"))
	if err != nil {
		return fmt.Errorf("load case catalog: %w", err)
	}

	if err := prompts.Load(prompts.Templates); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sessionTTL := v.GetDuration("session-ttl")
	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}

	provider, err := llm.NewProvider(context.Background(), llmCfg)
	if err != nil {
		return fmt.Errorf("create LLM provider: %w", err)
	}
	client := llm.NewClient(provider, llmCfg.Timeout)
	if v.GetBool("llm-ping") {
		if err := client.Ping(context.Background()); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "provider", llmCfg.Provider, "model", client.ModelID())
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}

	hist := history.New(v.GetString("history"))
	machine := session.NewMachine(cases, client, hist, session.WithVariant(prompts.PromptVariant(promptVariant)))

	basePath := normalizeBasePath(v.GetString("base-path"))
	appCfg := model.AppConfig{
		ChatWindow:    v.GetInt("chat-window"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: promptVariant,
		SessionTTL:    sessionTTL,
	}

	if err := db.RecordStartup(store.ServerInfo{
		CatalogPath:   v.GetString("cases"),
		CaseCount:     cases.Len(),
		PromptVariant: promptVariant,
		Model:         client.ModelID(),
	}); err != nil {
		slog.Warn("failed to record startup", "error", err)
	}

	h, err := handler.New(db, machine, hist, appCfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	go sweepSessions(db, time.Hour)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"provider", llmCfg.Provider,
		"model", client.ModelID(),
		"lang", lang,
		"prompt_variant", promptVariant,
		"chat_window", appCfg.ChatWindow,
		"history", hist.Path(),
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func sweepSessions(db *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for range t.C {
		n, err := db.CleanupExpiredSessions()
		if err != nil {
			slog.Warn("failed to clean up expired sessions", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("removed expired sessions", "count", n)
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var sessionAttempts []model.AttemptRecord
	if dbPath := v.GetString("db"); dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			db, err := store.New(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if sessionAttempts, err = db.SessionAttempts(); err != nil {
				return fmt.Errorf("read session attempts: %w", err)
			}
		}
	}

	hist := history.New(v.GetString("history"))
	global, err := hist.Load()
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	// A missing or broken catalog only costs titles in the export.
	cases, err := catalog.Load(v.GetString("cases"))
	if err != nil {
		slog.Warn("case catalog unavailable, exporting without titles", "error", err)
		cases = nil
	}

	export := buildExport(sessionAttempts, global, cases, hist.Path(), time.Now())

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func buildExport(sessionAttempts, global []model.AttemptRecord, cases *catalog.Catalog, historyPath string, now time.Time) model.HistoryExport {
	best := history.MergeBestByCase(sessionAttempts, global)
	results := make([]model.CaseBestResult, 0, len(best))
	for _, rec := range best {
		res := model.CaseBestResult{
			CaseID:   rec.CaseID,
			Score:    rec.Score,
			MaxScore: model.MaxTotalScore,
			Date:     rec.Date,
		}
		if cases != nil {
			if c, ok := cases.ByID(rec.CaseID); ok {
				res.Title = c.Title
				res.Category = c.Category
			}
		}
		results = append(results, res)
	}
	return model.HistoryExport{
		GeneratedAt:  now.UTC(),
		HistoryFile:  historyPath,
		TotalRecords: countDistinct(sessionAttempts, global),
		Results:      results,
	}
}

// countDistinct counts records across both lists once each. Session
// attempts are usually also in the history file.
func countDistinct(sessionAttempts, global []model.AttemptRecord) int {
	seen := make(map[model.AttemptRecord]struct{}, len(sessionAttempts)+len(global))
	for _, rec := range global {
		seen[rec] = struct{}{}
	}
	for _, rec := range sessionAttempts {
		seen[rec] = struct{}{}
	}
	return len(seen)
}

func runCases(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cases, err := catalog.Load(v.GetString("cases"))
	if err != nil {
		return err
	}
	printCatalog(cmd.OutOrStdout(), cases)
	return nil
}

func printCatalog(w io.Writer, cases *catalog.Catalog) {
	categories := cases.Categories()
	fmt.Fprintf(w, "%d cases in %d categories\n", cases.Len(), len(categories))
	for _, name := range categories {
		fmt.Fprintf(w, "  %-24s %d\n", name, len(cases.InCategory(name)))
	}
	if q := cases.Quarantined(); len(q) > 0 {
		fmt.Fprintf(w, "%d records skipped:\n", len(q))
		for _, rec := range q {
			fmt.Fprintf(w, "  #%d (id %d): %s\n", rec.Index, rec.ID, rec.Reason)
		}
	}
}
