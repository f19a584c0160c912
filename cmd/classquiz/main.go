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
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edubridge/classquiz/internal/blob"
	"github.com/edubridge/classquiz/internal/chat"
	"github.com/edubridge/classquiz/internal/clock"
	"github.com/edubridge/classquiz/internal/config"
	"github.com/edubridge/classquiz/internal/extract"
	"github.com/edubridge/classquiz/internal/grading"
	"github.com/edubridge/classquiz/internal/handler"
	"github.com/edubridge/classquiz/internal/jobs"
	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/metrics"
	"github.com/edubridge/classquiz/internal/model"
	"github.com/edubridge/classquiz/internal/pipeline"
	"github.com/edubridge/classquiz/internal/quiz"
	"github.com/edubridge/classquiz/internal/quizfile"
	"github.com/edubridge/classquiz/internal/segment"
	"github.com/edubridge/classquiz/internal/store"
	"github.com/edubridge/classquiz/internal/store/mongostore"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "classquiz",
		Short: "Classroom quizzes with document auto-grading",
	}
	config.RegisterFlags(root.PersistentFlags())

	serve := serveCmd()
	root.AddCommand(serve, workerCmd(), importCmd(), exportCmd(), tokenCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	cmd.Flags().Bool("worker", true, "Also process queued jobs in this process when Redis is configured")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued extraction and grading jobs",
		RunE:  runWorker,
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a structured quiz from a YAML or JSON file",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Quiz definition file (required)")
	f.String("classroom", "", "Classroom id (required)")
	f.String("teacher", "", "Instructor id recorded as the quiz creator (required)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("classroom")
	_ = cmd.MarkFlagRequired("teacher")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export quiz results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("quiz-id", "", "Quiz to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("quiz-id")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for development",
		RunE:  runToken,
	}
	f := cmd.Flags()
	f.String("user", "", "User id (required)")
	f.String("name", "", "Display name")
	f.String("role", string(model.UserRoleStudent), "Role (teacher, student)")
	f.Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// loadConfig binds the command's flags and environment, validates the
// result and configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	cfg := config.FromViper(v)
	setupLogging(cfg)
	if path := v.ConfigFileUsed(); path != "" {
		slog.Info("loaded config file", "path", path)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	var logLevel slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store == "mongo" {
		return mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
	}
	return store.New(cfg.DB)
}

func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.Blob == "minio" {
		return blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.SSL,
		})
	}
	return blob.NewLocal(cfg.BlobDir)
}

func newCompleter(ctx context.Context, cfg config.Config) (llm.Completer, error) {
	var c llm.Completer
	switch cfg.LLM.Provider {
	case "gemini":
		g, err := llm.NewGemini(ctx, cfg.LLM.Key, cfg.LLM.Model, cfg.LLM.VisionModel)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		client := llm.New(cfg.LLM.URL, cfg.LLM.Key, cfg.LLM.Model, cfg.LLM.VisionModel)
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		c = client
	}
	slog.Info("LLM endpoint OK", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	return llm.Wrap(c, llm.Options{
		Provider: cfg.LLM.Provider,
		Timeout:  cfg.LLM.Timeout,
		RPS:      cfg.LLM.RPS,
		Burst:    1,
	}), nil
}

// app holds the components shared by serve and worker.
type app struct {
	store     store.Store
	blobs     blob.Store
	llm       llm.Completer
	clock     clock.Clock
	processor *pipeline.Processor
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open document storage: %w", err)
	}
	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	clk := clock.New(cfg.Timezone)
	temperature := float32(cfg.LLM.Temperature)
	processor := pipeline.New(st, blobs,
		extract.New(completer, cfg.OCRConcurrency),
		segment.New(completer, temperature),
		grading.New(completer, temperature),
		clk, cfg.DocMaxScore)
	return &app{store: st, blobs: blobs, llm: completer, clock: clk, processor: processor}, nil
}

func redisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required: set --jwt-secret flag or CLASSQUIZ_JWT_SECRET env var")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()
	metrics.Init()

	var (
		dispatcher quiz.Dispatcher
		chatStore  chat.Store
	)
	if cfg.Redis.Addr != "" {
		queue := jobs.NewQueue(redisOpt(cfg))
		defer queue.Close()
		dispatcher = queue

		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		chatStore = chat.NewRedisStore(rdb, cfg.ChatTTL)

		if withWorker, _ := cmd.Flags().GetBool("worker"); withWorker {
			srv := jobs.NewServer(redisOpt(cfg), cfg.WorkerConcurrency)
			mux := asynq.NewServeMux()
			jobs.RegisterHandlers(mux, a.processor)
			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
			defer srv.Shutdown()
		}
	} else {
		inline := jobs.NewInline(a.processor, 0)
		defer inline.Wait()
		dispatcher = inline
		chatStore = chat.NewMemoryStore(a.clock, cfg.ChatTTL)
		slog.Warn("no redis configured, running jobs in process")
	}

	policy := quiz.Policy{Buffer: cfg.StatusBuffer, StartLeniency: cfg.StartLeniency}
	quizzes := quiz.NewService(a.store, a.blobs, dispatcher, a.clock, policy)
	assistant := chat.NewService(chatStore, a.llm, a.clock, chat.DefaultHistory)
	h := handler.New(quizzes, assistant, cfg.JWTSecret)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Addr,
			"store", cfg.Store,
			"blob", cfg.Blob,
			"llm_provider", cfg.LLM.Provider,
			"model", cfg.LLM.Model,
			"timezone", cfg.Timezone,
			"redis", cfg.Redis.Addr != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return errors.New("the worker needs --redis-addr")
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()
	metrics.Init()

	srv := jobs.NewServer(redisOpt(cfg), cfg.WorkerConcurrency)
	mux := asynq.NewServeMux()
	jobs.RegisterHandlers(mux, a.processor)
	slog.Info("starting worker", "redis", cfg.Redis.Addr, "concurrency", cfg.WorkerConcurrency)
	return srv.Run(mux)
}

func runImport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	path, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	classroom, _ := cmd.Flags().GetString("classroom")
	teacherID, _ := cmd.Flags().GetString("teacher")

	// Creating a structured quiz touches neither documents nor jobs.
	quizzes := quiz.NewService(st, nil, nil, clock.New(cfg.Timezone), quiz.DefaultPolicy)
	user := &model.User{ID: teacherID, Role: model.UserRoleTeacher}
	id, created, err := quizfile.Import(ctx, quizzes, st, user, classroom, clock.Location(cfg.Timezone), data)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if !created {
		slog.Info("quiz file already imported", "path", path, "quiz_id", id)
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	quizID, _ := cmd.Flags().GetString("quiz-id")
	export, err := store.ExportQuiz(ctx, st, quizID, clock.New(cfg.Timezone).Now())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath, _ := cmd.Flags().GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	f := cmd.Flags()
	id, _ := f.GetString("user")
	name, _ := f.GetString("name")
	role, _ := f.GetString("role")
	ttl, _ := f.GetDuration("ttl")
	switch model.UserRole(role) {
	case model.UserRoleTeacher, model.UserRoleStudent:
	default:
		return fmt.Errorf("role must be teacher or student, got %q", role)
	}
	tok, err := handler.IssueToken(cfg.JWTSecret, model.User{ID: id, Name: name, Role: model.UserRole(role)}, time.Now(), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
