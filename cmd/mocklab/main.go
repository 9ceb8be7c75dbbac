package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/a2v-stg/api-mock-lab/internal/api"
	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/callback"
	"github.com/a2v-stg/api-mock-lab/internal/config"
	"github.com/a2v-stg/api-mock-lab/internal/janitor"
	"github.com/a2v-stg/api-mock-lab/internal/live"
	"github.com/a2v-stg/api-mock-lab/internal/mock"
	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/placeholder"
	"github.com/a2v-stg/api-mock-lab/internal/reqlog"
	"github.com/a2v-stg/api-mock-lab/internal/resolver"
	"github.com/a2v-stg/api-mock-lab/internal/responder"
	"github.com/a2v-stg/api-mock-lab/internal/schema"
	"github.com/a2v-stg/api-mock-lab/internal/signing"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mocklab",
		Short: "MockLab: virtual API entities with mock endpoints, callbacks and live request logs",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(userCmd(&configPath))
	rootCmd.AddCommand(entityCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MockLab server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)
			cfg.Watch(func(next *config.Config) {
				level, err := zerolog.ParseLevel(next.Logging.Level)
				if err != nil {
					return
				}
				zerolog.SetGlobalLevel(level)
				log.Info().Str("level", level.String()).Msg("log level reloaded")
			}, func(err error) {
				log.Warn().Err(err).Msg("ignoring invalid config change")
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := setupStorage(ctx, cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			sessions, err := setupSessions(ctx, cfg.Sessions, log)
			if err != nil {
				return fmt.Errorf("failed to setup sessions: %w", err)
			}
			defer sessions.Close()
			authSvc := auth.NewService(store, sessions, cfg.Sessions.TTL)

			engine := placeholder.New()
			schemas := schema.NewValidator()
			hub := live.NewHub(cfg.Live.Fanout, log)

			sender := callback.NewSender(cfg.Callbacks.Timeout, signing.NewSigner(cfg.Callbacks.SigningSecret), cfg.Callbacks.UserAgent)
			dispatcher := callback.NewDispatcher(sender, cfg.Callbacks.Workers, cfg.Callbacks.QueueSize, log)
			dispatcher.Start(ctx)

			tasks := []janitor.Task{janitor.SessionExpiry(authSvc, cfg.Sessions.CleanupInterval)}
			if cfg.Retention.LogTTL > 0 {
				tasks = append(tasks, janitor.LogRetention(store, cfg.Retention.LogTTL, cfg.Retention.Interval))
			}
			housekeeping := janitor.New(log, tasks...)
			housekeeping.Start(ctx)

			mockHandler := mock.NewHandler(mock.Deps{
				Resolver:     resolver.New(store),
				Validator:    schemas,
				Synthesizer:  responder.New(engine),
				Recorder:     reqlog.NewRecorder(store, hub, log),
				Callbacks:    dispatcher,
				Placeholders: engine,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
			}, log)

			server := api.NewServer(cfg.Server, api.Deps{
				Store:   store,
				Auth:    authSvc,
				Schemas: schemas,
				Mock:    mockHandler,
				Live:    live.NewHandler(hub, api.LiveAuthorizer(store, authSvc), cfg.Live.WriteTimeout, log),
			}, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("mock_prefix", cfg.Server.MockPrefix).
				Int("callback_workers", cfg.Callbacks.Workers).
				Str("storage", cfg.Storage.Driver).
				Str("sessions", cfg.Sessions.Driver).
				Bool("callback_signing", cfg.Callbacks.SigningSecret != "").
				Msg("MockLab is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			housekeeping.Stop()
			dispatcher.Stop()
			hub.Wait(5 * time.Second)

			log.Info().Msg("MockLab stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)
			ctx := context.Background()

			store, err := setupStorage(ctx, cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func userCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (use --admin for an administrator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			admin, _ := cmd.Flags().GetBool("admin")
			if email == "" || username == "" || password == "" {
				return fmt.Errorf("--email, --username and --password are required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := auth.NewService(store, auth.NewMemoryStore(), time.Minute)
			u, err := svc.Register(context.Background(), email, username, password, admin)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			return printJSON(u)
		},
	}
	createCmd.Flags().String("email", "", "email address")
	createCmd.Flags().String("username", "", "login name")
	createCmd.Flags().String("password", "", "password")
	createCmd.Flags().Bool("admin", false, "grant access to every entity")

	cmd.AddCommand(createCmd)
	return cmd
}

func entityCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Manage entities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			owner, _ := cmd.Flags().GetString("owner")
			public, _ := cmd.Flags().GetBool("public")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if models.Slug(name) == "" {
				return fmt.Errorf("--name must contain at least one letter or digit")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			e := &models.Entity{
				ID:         models.NewID("ent"),
				Name:       name,
				APIKey:     models.NewAPIKey(),
				BasePath:   models.BasePathFor(cfg.Server.MockPrefix, name),
				OwnerID:    owner,
				IsPublic:   public,
				SharedWith: []string{},
				CreatedAt:  time.Now().UTC(),
			}
			if err := store.CreateEntity(context.Background(), e); err != nil {
				return fmt.Errorf("failed to create entity: %w", err)
			}
			return printJSON(e)
		},
	}
	createCmd.Flags().String("name", "", "entity name")
	createCmd.Flags().String("owner", "", "owner user id")
	createCmd.Flags().Bool("public", false, "readable by everyone")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entities, err := store.ListEntities(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list entities: %w", err)
			}

			if len(entities) == 0 {
				fmt.Println("No entities found.")
				return nil
			}

			for _, e := range entities {
				fmt.Printf("  %s  %s  %s  (created %s)\n", e.ID, e.Name, e.BasePath, e.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <entity_id>",
		Short: "Show request stats for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return printJSON(stats)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("MockLab v%s\n", version)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		log.Info().Msg("using PostgreSQL storage")
		return storage.NewPostgres(ctx, cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupSessions(ctx context.Context, cfg config.SessionConfig, log zerolog.Logger) (auth.SessionStore, error) {
	switch cfg.Driver {
	case "memory":
		return auth.NewMemoryStore(), nil
	case "redis":
		log.Info().Msg("using Redis session store")
		return auth.NewRedisStore(ctx, cfg.Redis.URL)
	default:
		return nil, fmt.Errorf("unsupported session driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	log := setupLogger(cfg.Logging)
	store, err := setupStorage(ctx, cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
