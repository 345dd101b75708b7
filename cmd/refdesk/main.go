// Package main is the refdesk CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/refdesk/internal/cli"
	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/embedding"
	"github.com/hyperjump/refdesk/internal/generation"
	"github.com/hyperjump/refdesk/internal/indexer"
	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/internal/retrieval"
	"github.com/hyperjump/refdesk/internal/server"
	"github.com/hyperjump/refdesk/internal/storage"
	"github.com/hyperjump/refdesk/internal/vector"
	"github.com/hyperjump/refdesk/internal/watcher"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/refdesk/config.yaml"

// loadConfig loads config from path. When path is the default and ./config.yaml
// exists, that file is used instead so the project directory config wins in development.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "sets":
		runSets()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("refdesk version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config and builds a logger and the components for a command.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, logger, components
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watch.Enabled() {
		idx := components.Indexer
		inbox := watcher.NewWatcher(
			cfg.Watch.InboxDir,
			cfg.Watch.Extensions,
			func(ctx context.Context, refSetID, path string) error {
				_, err := idx.IngestPath(ctx, refSetID, path)
				return err
			},
			watcher.WithLogger(logger),
		)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
		go inbox.SyncExisting()
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.Gateway,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// argsReorder moves flags that follow positional arguments to the front, since
// flag.Parse stops at the first non-flag argument ("refdesk ask what is x --set a").
// Each flag keeps its value; positional arguments keep their order.
func argsReorder(fs *flag.FlagSet, args []string) []string {
	flags := make([]string, 0, len(args))
	positional := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(a) < 2 || a[0] != '-' {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || isBoolFlag(fs, name) {
			continue
		}
		if i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	b, ok := f.Value.(interface{ IsBoolFlag() bool })
	return ok && b.IsBoolFlag()
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	setID := fs.String("set", "", "reference set id (required)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(fs, os.Args[2:]))

	if *setID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: refdesk ingest --set <reference-set-id> <file> [file...]")
		os.Exit(1)
	}
	cfg, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	format := cli.ParseFormat(*output)
	failed := 0
	for _, path := range fs.Args() {
		if !indexer.Supported(path, cfg.Watch.Extensions) {
			fmt.Fprintf(os.Stderr, "Skipping %s: unsupported file type\n", path)
			failed++
			continue
		}
		stats, err := components.Indexer.IngestPath(context.Background(), *setID, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingest %s failed: %v\n", path, err)
			failed++
			continue
		}
		if err := cli.WriteIngestStats(os.Stdout, stats, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = query local storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	var sets stringList
	fs.Var(&sets, "set", "reference set id to search (repeatable; default all sets)")
	_ = fs.Parse(argsReorder(fs, os.Args[2:]))

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: refdesk ask [--set <id>]... <question>")
		os.Exit(1)
	}
	req := &models.ChatRequest{Query: query, ReferenceSets: sets}

	var resp *models.ChatResponse
	var err error
	if *serverURL != "" {
		resp, err = askViaHTTP(*serverURL, req)
	} else {
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		resp, err = components.Engine.Ask(context.Background(), req)
	}
	if err != nil {
		fatalf("Ask failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, cli.ParseFormat(*output)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func askViaHTTP(serverURL string, req *models.ChatRequest) (*models.ChatResponse, error) {
	var resp models.ChatResponse
	if err := postJSON(strings.TrimRight(serverURL, "/")+"/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runSets() {
	sub := "list"
	args := os.Args[2:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("sets", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	domain := fs.String("domain", "", "domain name for a new reference set")
	description := fs.String("description", "", "description for a new reference set")
	_ = fs.Parse(args)

	format := cli.ParseFormat(*output)
	switch sub {
	case "list":
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		sets, err := components.Storage.ListReferenceSets(context.Background())
		if err != nil {
			fatalf("List failed: %v", err)
		}
		if err := cli.WriteReferenceSets(os.Stdout, sets, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "create":
		input := &models.ReferenceSetInput{Domain: *domain, Description: *description}
		if err := input.Validate(); err != nil {
			fmt.Println("Usage: refdesk sets create --domain <name> [--description <text>]")
			os.Exit(1)
		}
		_, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		set := &models.ReferenceSet{Domain: input.Domain, Description: input.Description}
		if err := components.Storage.CreateReferenceSet(context.Background(), set); err != nil {
			fatalf("Create failed: %v", err)
		}
		if err := cli.WriteReferenceSets(os.Stdout, []*models.ReferenceSet{set}, format); err != nil {
			fatalf("Output failed: %v", err)
		}
	default:
		fmt.Printf("Unknown sets subcommand: %s\n", sub)
		fmt.Println("Usage: refdesk sets <list|create> [flags]")
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/status.
type statusResponse struct {
	ReferenceSets  int64                  `json:"reference_sets"`
	Inquiries      int64                  `json:"inquiries"`
	VectorIndex    map[string]interface{} `json:"vector_index"`
	Embedding      map[string]interface{} `json:"embedding"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage directly)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		resp, err := http.Get(strings.TrimRight(*serverURL, "/") + "/api/status")
		if err != nil {
			fatalf("Status failed: request failed: %v", err)
		}
		defer resp.Body.Close()
		if err := decodeResponse(resp, &status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		s, err := localStatus(context.Background(), cfg, components)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		status = *s
	}
	if err := writeStatus(os.Stdout, &status, cli.ParseFormat(*output)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*statusResponse, error) {
	sets, err := c.Storage.CountReferenceSets(ctx)
	if err != nil {
		return nil, err
	}
	inquiries, err := c.Storage.CountInquiries(ctx)
	if err != nil {
		return nil, err
	}
	vectorInfo := map[string]interface{}{
		"type":      cfg.Vector.Type,
		"state":     c.Gateway.State().String(),
		"available": c.Gateway.Available(),
	}
	if n, err := c.Gateway.Count(ctx); err == nil {
		vectorInfo["size"] = n
	}
	embeddingInfo := map[string]interface{}{
		"provider":   cfg.Embedding.Provider,
		"model":      cfg.Embedding.Model,
		"dimensions": cfg.Embedding.Dimensions,
		"available":  true,
	}
	if err := c.Engine.EmbedderError(); err != nil {
		embeddingInfo["available"] = false
		embeddingInfo["error"] = err.Error()
	}
	status := &statusResponse{ReferenceSets: sets, Inquiries: inquiries, VectorIndex: vectorInfo, Embedding: embeddingInfo}
	if n, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.VectorIndexPath, cfg.Storage.TempDir); err == nil {
		status.DiskUsageBytes = &n
	}
	return status, nil
}

func writeStatus(w io.Writer, s *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "reference_sets:     %d\n", s.ReferenceSets)
	fmt.Fprintf(w, "inquiries:          %d\n", s.Inquiries)
	if s.VectorIndex != nil {
		fmt.Fprintf(w, "vector_index_type:  %v\n", s.VectorIndex["type"])
		fmt.Fprintf(w, "vector_index_state: %v\n", s.VectorIndex["state"])
		if n, ok := s.VectorIndex["size"]; ok {
			fmt.Fprintf(w, "vector_index_size:  %v\n", n)
		}
	}
	if s.Embedding != nil {
		fmt.Fprintf(w, "embedding_provider: %v\n", s.Embedding["provider"])
		fmt.Fprintf(w, "embedding_ready:    %v\n", s.Embedding["available"])
		if msg, ok := s.Embedding["error"]; ok {
			fmt.Fprintf(w, "embedding_error:    %v\n", msg)
		}
	}
	if s.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *s.DiskUsageBytes)
	}
	return nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*configPath, *force); err != nil {
		fatalf("Init failed: %v", err)
	}
	fmt.Printf("Wrote %s\n", *configPath)
}

// writeDefaultConfig writes a config with every default filled in.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return config.Save(path, config.Default())
}

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Gateway   *vector.Gateway
	Engine    *retrieval.Engine
	Indexer   *indexer.Indexer
	indexPath string
	logger    *zap.Logger
}

// Close persists the local vector index and releases resources.
func (c *Components) Close() {
	if c.Gateway != nil {
		if err := c.Gateway.Save(c.indexPath); err != nil {
			c.logger.Warn("vector index save failed", zap.String("path", c.indexPath), zap.Error(err))
		}
		_ = c.Gateway.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	generator, err := generation.New(cfg.Generation, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	index, err := vector.NewIndex(cfg.Vector, embedder.Dimensions(), cfg.Storage.VectorIndexPath)
	if err != nil {
		logger.Warn("vector index unavailable", zap.String("type", cfg.Vector.Type), zap.Error(err))
		index = nil
	}
	gateway := vector.Open(ctx, index,
		vector.WithLogger(logger),
		vector.WithBatchSize(cfg.Vector.BatchSize),
		vector.WithUpsertConcurrency(cfg.Vector.UpsertConcurrency),
	)

	var indexPath string
	if _, ok := index.(*vector.MemoryIndex); ok {
		indexPath = cfg.Storage.VectorIndexPath
	}
	idx := indexer.NewIndexer(store, embedder, gateway, nil, cfg.Ingest,
		indexer.WithLogger(logger),
		indexer.WithTempDir(cfg.Storage.TempDir),
		indexer.WithIndexPath(indexPath),
	)
	engine := retrieval.NewEngine(embedder, gateway, generator, cfg.Retrieval,
		retrieval.WithLogger(logger),
		retrieval.WithSampling(cfg.Generation.MaxTokens, cfg.Generation.Temperature),
	)

	return &Components{
		Storage:   store,
		Embedder:  embedder,
		Gateway:   gateway,
		Engine:    engine,
		Indexer:   idx,
		indexPath: indexPath,
		logger:    logger,
	}, nil
}

func printUsage() {
	fmt.Println(`refdesk - research assistant over your reference documents

Usage:
  refdesk server [flags]                   Start the HTTP server
  refdesk ingest --set <id> <file>...      Ingest documents into a reference set
  refdesk ask [--set <id>]... <question>   Ask a question with cited answers
  refdesk sets [list|create] [flags]       List or create reference sets
  refdesk status [flags]                   Show storage and vector index status
  refdesk init [flags]                     Write a default config file
  refdesk version                          Show version
  refdesk help                             Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/refdesk/config.yaml,
                     or ./config.yaml when present)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Ask / Status Flags:
  --server string    Server URL; empty (default) reads local storage directly
  --set string       Reference set id to search; repeat or comma-separate for several

Sets Create Flags:
  --domain string        Domain name (required)
  --description string   Description

Init Flags:
  --config string    Where to write the config (default: config.yaml)
  --force            Overwrite an existing file

Examples:
  refdesk init
  refdesk sets create --domain "Medical Research"
  refdesk ingest --set 6f1c... trials.pdf faq.jsonl
  refdesk ask --set 6f1c... "What is the recommended aspirin dose?"
  refdesk ask --server http://localhost:3000 --output json "statin side effects"
  refdesk status --output json`)
}
