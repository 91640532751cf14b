package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/newsrag"
	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/ai/openai"
	"github.com/poiesic/newsrag/config"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/ingestion"
	"github.com/poiesic/newsrag/mailsource"
	"github.com/poiesic/newsrag/reembed"
	"github.com/poiesic/newsrag/search"
	"github.com/poiesic/newsrag/storage/chroma"
)

const dateLayout = "2006-01-02"

// newProvider builds the AI provider for a database. Tests replace it.
var newProvider = func(cfg *ai.Config) (ai.AIProvider, error) {
	return openai.NewProvider(cfg)
}

// loadConfig reads the configuration file, applies the environment and the
// global --db flag, and validates the result.
func loadConfig(c *cli.Context) (*config.File, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.Store.Path = db
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *config.File, aiCfg *ai.Config) (*newsrag.Database, error) {
	registry, err := cfg.SenderRegistry()
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(aiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}

	opts := []newsrag.DatabaseOption{
		newsrag.WithProvider(provider),
		newsrag.WithRegistry(registry),
	}
	if cfg.Store.Backend == config.BackendChroma {
		opts = append(opts, newsrag.WithChroma(chroma.Config{
			URL:        cfg.Store.ChromaURL,
			Collection: cfg.Store.ChromaCollection,
		}))
	}

	db, err := newsrag.Open(ctx, cfg.Store.Path, opts...)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func ingestCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dir := c.String("dir")
	if dir == "" {
		dir = cfg.Mail.Dir
	}
	source, err := mailsource.NewDirSource(dir)
	if err != nil {
		return err
	}

	ingestCfg := cfg.IngestionConfig()
	if c.IsSet("max-pages") {
		ingestCfg.MaxPages = c.Int("max-pages")
	}
	if c.IsSet("workers") {
		ingestCfg.Workers = c.Int("workers")
	}

	db, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []ingestion.Option{ingestion.WithConfig(ingestCfg)}
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, ingestion.WithMetrics(reg))
		stop := serveMetrics(addr, reg)
		defer stop()
	}

	pipeline, err := db.NewIngestionPipeline(opts...)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	summary, runErr := pipeline.Run(c.Context, source)
	if summary != nil {
		printSummary(c, summary)
	}
	if runErr != nil {
		return fmt.Errorf("ingestion stopped: %w", runErr)
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func printSummary(c *cli.Context, s *core.BatchSummary) {
	w := c.App.Writer
	fmt.Fprintf(w, "Run %s: fetched %d, stored %d, unchanged %d, skipped %d, failed %d, passages %d\n",
		s.RunID, s.Fetched, s.Stored, s.Unchanged, s.Skipped, s.Failed, s.Passages)
	for _, o := range s.Outcomes {
		switch o.State {
		case core.StateFailed:
			fmt.Fprintf(w, "  failed   %s (%s): %s\n", o.SourceID, o.Subject, o.Reason)
		case core.StateSkipped:
			fmt.Fprintf(w, "  skipped  %s (%s): %s\n", o.SourceID, o.Subject, o.Reason)
		}
	}
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	filters, err := parseFilters(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	searchCfg := cfg.SearchConfig()
	if c.IsSet("top-k") {
		searchCfg.TopK = c.Int("top-k")
	}

	db, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	answerer, err := db.NewAnswerer(search.WithConfig(searchCfg))
	if err != nil {
		return err
	}
	defer answerer.Close()

	var monitor search.SearchMonitor = quietMonitor{}
	if c.Bool("explain") {
		monitor = &explainMonitor{w: c.App.Writer}
	}

	answer, err := answerer.AnswerWithMonitor(c.Context, question, filters, monitor)
	if err != nil {
		return err
	}
	printAnswer(c, answer)
	return nil
}

func parseFilters(c *cli.Context) (core.Filters, error) {
	filters := core.Filters{
		Sender:  c.String("sender"),
		Company: strings.ToLower(c.String("company")),
	}
	if s := c.String("since"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return filters, fmt.Errorf("invalid --since date %q: %w", s, err)
		}
		filters.Since = t
	}
	if s := c.String("until"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return filters, fmt.Errorf("invalid --until date %q: %w", s, err)
		}
		filters.Until = t
	}
	if !filters.Since.IsZero() && !filters.Until.IsZero() && !filters.Since.Before(filters.Until) {
		return filters, errors.New("--since must be before --until")
	}
	return filters, nil
}

func printAnswer(c *cli.Context, answer *core.Answer) {
	w := c.App.Writer
	fmt.Fprintln(w, answer.Text)
	if answer.LowConfidence {
		fmt.Fprintln(w, "\n(low confidence: the closest passages are only loosely related)")
	}
	if len(answer.Citations) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, cite := range answer.Citations {
		fmt.Fprintf(w, "  [%d] %s | %s | %s (%.3f)\n", i+1,
			cite.Timestamp.Format(dateLayout), cite.Sender, cite.Subject, cite.Score)
	}
}

func deleteCommand(c *cli.Context) error {
	sourceID := strings.TrimSpace(c.Args().First())
	if sourceID == "" {
		return errors.New("a source id is required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	existed, err := db.DeleteSource(c.Context, sourceID)
	if err != nil {
		return err
	}
	if existed {
		fmt.Fprintf(c.App.Writer, "Deleted %s\n", sourceID)
	} else {
		fmt.Fprintf(c.App.Writer, "%s was not indexed\n", sourceID)
	}
	return nil
}

func failuresCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	failures, err := db.Ledger().ListFailures(c.Context)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		fmt.Fprintln(c.App.Writer, "No failed messages")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tERROR\tATTEMPTS\tFAILED AT\tSUBJECT\tMESSAGE")
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", f.SourceID, f.ErrorType, f.Attempts,
			f.FailedAt.Format(time.RFC3339), f.Subject, f.Message)
	}
	return tw.Flush()
}

func statsCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Passages: %d\n", stats.Records)
	fmt.Fprintf(w, "Messages: %d\n", stats.Sources)
	fmt.Fprintf(w, "Failures: %d\n", stats.Failures)
	if stats.Schema == nil {
		fmt.Fprintln(w, "Schema:   none (empty store)")
	} else {
		fmt.Fprintf(w, "Schema:   %s, %d dimensions, since %s\n",
			stats.Schema.Model, stats.Schema.Dimension, stats.Schema.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	targetPath := c.String("target")
	if targetPath == cfg.Store.Path {
		return errors.New("target must differ from the source database")
	}
	if c.Int("batch-size") <= 0 {
		return errors.New("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return errors.New("report-interval must be greater than 0")
	}

	source, err := openDatabase(c.Context, cfg, cfg.AIConfig())
	if err != nil {
		return err
	}
	defer source.Close()

	targetCfg := *cfg
	targetCfg.Store.Path = targetPath
	if targetCfg.Store.Backend == config.BackendChroma {
		targetCfg.Store.ChromaCollection = cfg.Store.ChromaCollection + "-" + sanitizeModel(c.String("embedding-model"))
	}
	aiCfg := cfg.AIConfig()
	aiCfg.EmbeddingModel = c.String("embedding-model")
	if host := c.String("embedding-host"); host != "" {
		aiCfg.EmbeddingHost = host
	}
	if err := aiCfg.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	target, err := openDatabase(c.Context, &targetCfg, aiCfg)
	if err != nil {
		return err
	}
	defer target.Close()

	reembedCfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Retry:          cfg.RetryPolicy(),
		SubjectPrefix:  cfg.Ingest.SubjectPrefix,
	}

	errWriter := c.App.ErrWriter
	fmt.Fprintf(errWriter, "Source database: %s\n", cfg.Store.Path)
	fmt.Fprintf(errWriter, "Target database: %s\n", targetPath)
	fmt.Fprintf(errWriter, "Embedding host: %s\n", aiCfg.EmbeddingHost)
	fmt.Fprintf(errWriter, "Embedding model: %s\n", aiCfg.EmbeddingModel)
	fmt.Fprintln(errWriter)

	if _, err := source.MigrateTo(c.Context, target, reembedCfg, errWriter); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Point store.path at %s and set ai.embedding_model to %s to use the new index\n",
		targetPath, aiCfg.EmbeddingModel)
	return nil
}

func sanitizeModel(model string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, model)
}
