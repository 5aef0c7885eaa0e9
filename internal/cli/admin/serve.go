package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/readstack/librarian/internal/api/handlers"
	"github.com/readstack/librarian/internal/chunker"
	"github.com/readstack/librarian/internal/config"
	"github.com/readstack/librarian/internal/database"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/index"
	"github.com/readstack/librarian/internal/jobs"
	"github.com/readstack/librarian/internal/openai"
	"github.com/readstack/librarian/internal/repository"
	"github.com/readstack/librarian/internal/server"
	"github.com/readstack/librarian/internal/service"
	"github.com/readstack/librarian/internal/storage"
	"github.com/readstack/librarian/internal/telemetry"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the librarian API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(accountRepo, uuidGen)

	if cfg.InitAccountName != "" {
		if err := bootstrapInitialAccount(ctx, cfg, authSvc); err != nil {
			return fmt.Errorf("failed to bootstrap initial account: %w", err)
		}
	}

	var storageClient service.StorageClient
	if cfg.HasS3() {
		s3Config := storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		}
		s3Client, err := storage.NewS3Client(ctx, s3Config)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		storageClient = s3Client
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("LIBRARIAN_OPENAI_API_KEY is required")
	}
	aiClient := openai.NewClient(cfg.OpenAIAPIKey)

	vectorIndex := index.NewMemory()
	retrievalSvc := service.NewRetrievalService(aiClient, vectorIndex, docRepo, chunkRepo, txRunner)
	retrievalSvc.SetChunkConfig(chunker.Config{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	retrievalSvc.SetEmbedTimeout(time.Duration(cfg.EmbedTimeoutSeconds) * time.Second)

	loaded, err := retrievalSvc.LoadIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm the vector index: %w", err)
	}
	log.Printf("vector index warmed with %d documents", loaded)

	var docSvc *service.DocumentService
	if storageClient != nil {
		docSvc = service.NewDocumentServiceWithStorage(docRepo, retrievalSvc, storageClient)
	} else {
		docSvc = service.NewDocumentService(docRepo, retrievalSvc)
	}

	qaSvc := service.NewQAService(retrievalSvc, aiClient, cfg.SearchTopK, cfg.ContextMaxChars)

	ingestProcessor := jobs.NewIngestWorker(docRepo, retrievalSvc)
	ingestWorker := jobs.NewWorker(ingestProcessor, time.Duration(cfg.WorkerPollSeconds)*time.Second)
	go ingestWorker.Start(ctx)
	log.Println("ingest worker started")

	routerCfg := server.RouterConfig{
		AuthValidator:   authSvc,
		DocumentHandler: handlers.NewDocumentHandler(docSvc, retrievalSvc),
		QAHandler:       handlers.NewQAHandler(qaSvc, qaSvc),
		AccountHandler:  handlers.NewAccountHandler(authSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ingestWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func bootstrapInitialAccount(ctx context.Context, cfg *config.Config, authSvc *service.AuthService) error {
	account, err := authSvc.GetAccountByName(ctx, cfg.InitAccountName)
	if err != nil && err != domain.ErrAccountNotFound {
		return fmt.Errorf("failed to check existing account: %w", err)
	}

	if account != nil {
		log.Printf("bootstrap: account '%s' already exists (id: %s)", account.Name, account.ID)
		return nil
	}

	if cfg.InitAPIKey != "" {
		if !service.IsValidAPIToken(cfg.InitAPIKey) {
			return fmt.Errorf("invalid LIBRARIAN_INIT_API_KEY format (expected 'lib_<64 hex chars>')")
		}
		account, err = authSvc.CreateAccountWithToken(ctx, cfg.InitAccountName, cfg.InitAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		log.Printf("bootstrap: created account '%s' (id: %s) with provided API key", account.Name, account.ID)
		return nil
	}

	account, token, err := authSvc.CreateAccount(ctx, cfg.InitAccountName)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	log.Printf("bootstrap: created account '%s' (id: %s)", account.Name, account.ID)
	log.Printf("bootstrap: API key (shown once): %s", token)

	return nil
}

func runMigrations(databaseURL string) error {
	return applyMigrations(databaseURL, "file://migrations")
}

func applyMigrations(databaseURL, sourceURL string) error {
	// golang-migrate needs a database/sql connection
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", versionErr)
	}

	switch {
	case versionErr == migrate.ErrNilVersion:
		log.Println("migrations: database is up to date (no migrations applied)")
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	case upErr == migrate.ErrNoChange:
		log.Printf("migrations: database is up to date (version %d)", version)
	default:
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
