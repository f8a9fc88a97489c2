package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/tetherhq/tether/internal/adapter"
	"github.com/tetherhq/tether/internal/config"
	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/httpapi"
	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/internal/projectscan"
	"github.com/tetherhq/tether/internal/relay"
	"github.com/tetherhq/tether/internal/sessionindex"
	"github.com/tetherhq/tether/internal/srp"
	"github.com/tetherhq/tether/internal/storage"
	"github.com/tetherhq/tether/internal/supervisor"
	"github.com/tetherhq/tether/internal/transcript"
	"github.com/tetherhq/tether/internal/transport"
)

var serveDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tether supervisor and listen for direct and relayed connections",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory (defaults to cwd)")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting tetherd")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	store := storage.New(paths.StoragePath())
	bus := eventbus.New()
	defer bus.Close()

	home, _ := os.UserHomeDir()
	scanner := projectscan.New(projectscan.DefaultLayouts(home)).WithExcludeGlobs(cfg.ExcludeProjectGlobs)
	projects := projectscan.NewService(workDir)
	txReader := transcript.New(transcript.DefaultLayouts(home))

	sessions := sessionindex.New(txReader, logging.Logger)
	defer sessions.Close()
	if err := sessions.Watch(home); err != nil {
		logging.Warn().Err(err).Msg("session index fsnotify watch failed, falling back to on-demand scans only")
	}

	adapters := adapter.NewRegistry(cfg.AgentCommands)
	sup := supervisor.New(adapters, bus)
	sup.SetAutoApproveEditGlobs(cfg.AutoApproveEditGlobs)
	sup.SetBashPatterns(cfg.BashPatterns)

	api := httpapi.New(httpapi.Options{
		Supervisor: sup,
		Scanner:    scanner,
		Projects:   projects,
		Sessions:   sessions,
		KnownPaths: func() []string { return []string{workDir} },
		Bus:        bus,
		Log:        logging.Logger,
	})

	accounts := srp.NewFileAccountStore(store)
	sessionStore := srp.NewSessionStore(store)
	auth := srp.New(accounts, sessionStore)

	hub := transport.New(transport.Options{
		Auth:           auth,
		Bus:            bus,
		Processes:      sup,
		RequestHandler: api,
		Log:            logging.Logger,
	})

	root := chi.NewRouter()
	root.Mount("/api", api)
	root.Handle("/ws", hub)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: root,
	}

	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	var relayClient *relay.Client
	if cfg.RelayEnabled && cfg.RelayURL != "" {
		relayClient = relay.New(hub, logging.Logger)
		relayClient.Start(relay.Config{RelayURL: cfg.RelayURL, Username: os.Getenv("USER"), InstallID: installID(paths)})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	if relayClient != nil {
		relayClient.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}
	logging.Info().Msg("stopped")
	return nil
}

// installID is a stable per-install identifier the Relay Client registers
// under, persisted alongside other tether state.
func installID(paths *config.Paths) string {
	idPath := paths.State + "/install-id"
	if data, err := os.ReadFile(idPath); err == nil && len(data) > 0 {
		return string(data)
	}
	id := generateInstallID()
	_ = os.WriteFile(idPath, []byte(id), 0600)
	return id
}
