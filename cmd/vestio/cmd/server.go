package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/vestio/vestio/api"
	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/config"
	"github.com/vestio/vestio/internal/logging"
	"github.com/vestio/vestio/internal/util"
	bboltstorage "github.com/vestio/vestio/storage/bbolt"
)

const (
	accountsDBFile = "accounts.db"
	serverKeyFile  = "server.key"

	seedEmail    = "demo@vestio.local"
	seedPassword = "Vestio-demo-1"
)

var (
	serverListen  string
	serverDataDir string
	serverSeed    bool
	tlsCert       string
	tlsKey        string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Vestio authority",
	Long: `Run the authority the client signs in against. Accounts are sealed in a
bbolt file under the data directory; one-time codes and links are written to
the log instead of being emailed.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&serverListen, "listen", "", "address to listen on (overrides VESTIO_LISTEN)")
	serverCmd.Flags().StringVar(&serverDataDir, "server-data-dir", "", "directory for account data (overrides VESTIO_SERVER_DATA_DIR)")
	serverCmd.Flags().BoolVar(&serverSeed, "seed", false, "create a demo account if it does not exist")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to TLS key file")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	if serverListen != "" {
		cfg.Listen = serverListen
	}
	if serverDataDir != "" {
		cfg.DataDir = serverDataDir
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup("vestio-server", Version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), nil)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		if secret, err = loadOrCreateKey(filepath.Join(cfg.DataDir, serverKeyFile)); err != nil {
			return err
		}
	}
	defer util.WipeBytes(secret)

	proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, accountsDBFile), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open account storage: %w", err)
	}
	defer repo.Close()

	a, err := api.New(
		api.WithLogger(logger),
		api.WithRepository(repo),
		api.WithSecret(secret),
		api.WithTrustedProxies(proxies),
		api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookKey),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	if serverSeed {
		seedDemoAccount(cmd, a)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount(api.DefaultBasePath, a.Router())

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsCert != "" || tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go a.Run(ctx)

	done := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner(cmd.OutOrStdout())
	logger.Info("authority listening", "addr", cfg.Listen, "data_dir", cfg.DataDir, "tls", server.TLSConfig != nil)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer scancel()
		if err := server.Shutdown(sctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func seedDemoAccount(cmd *cobra.Command, a *api.API) {
	_, err := a.CreateAccount(api.AccountSeed{
		RegisterRequest: authapi.RegisterRequest{
			Email:        seedEmail,
			Password:     seedPassword,
			FirstName:    "Demo",
			LastName:     "Lender",
			Phone:        "+2348000000000",
			Role:         authapi.RoleLender,
			BusinessType: "individual",
		},
		EmailVerified: true,
	})
	switch {
	case err == nil:
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s with password %s\n", seedEmail, seedPassword)
	case errors.Is(err, api.ErrEmailTaken):
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "Could not seed demo account: %v\n", err)
	}
}
