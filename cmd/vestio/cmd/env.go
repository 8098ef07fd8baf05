package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/flow"
	"github.com/vestio/vestio/internal/config"
	"github.com/vestio/vestio/internal/logging"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
	bboltstorage "github.com/vestio/vestio/storage/bbolt"
)

const (
	sessionDBFile  = "session.db"
	sessionKeyFile = "session.key"
)

// clientEnv is what every client command needs: configuration, a logger,
// the authority client and the session store backed by the data directory.
type clientEnv struct {
	cfg    config.Config
	logger *slog.Logger
	client *authapi.Client
	store  *session.Store
	nav    *cliNavigator
	repo   *bboltstorage.Store
	tier   *session.SealedTier
}

// openClient loads configuration, applies global flags and opens the
// session store. Callers must Close the result.
func openClient() (*clientEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dataDir != "" {
		if cfg.DataDir, err = config.ExpandHome(dataDir); err != nil {
			return nil, err
		}
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.Setup("vestio", Version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel), nil)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	secret, err := sessionSecret(cfg)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(secret)

	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, sessionDBFile), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}
	tier, err := session.NewSealedTier(repo, session.DurableNamespace, secret)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open session tier: %w", err)
	}

	return &clientEnv{
		cfg:    cfg,
		logger: logger,
		client: authapi.NewClient(cfg.APIURL, authapi.WithTimeout(cfg.HTTPTimeout), authapi.WithLogger(logger)),
		store:  session.New(session.NewMemoryTier(), tier, session.WithLogger(logger)),
		nav:    &cliNavigator{logger: logger},
		repo:   repo,
		tier:   tier,
	}, nil
}

// Close releases the session store.
func (e *clientEnv) Close() {
	e.tier.Close()
	if err := e.repo.Close(); err != nil {
		e.logger.Warn("failed to close session storage", "error", err)
	}
}

func (e *clientEnv) flowOptions() []flow.Option {
	return []flow.Option{
		flow.WithLogger(e.logger),
		flow.WithProfileStaleness(e.cfg.ProfileStale),
		flow.WithLogoutTimeout(e.cfg.LogoutTimeout),
	}
}

func (e *clientEnv) profiles() *flow.ProfileSession {
	return flow.NewProfileSession(e.client, e.store, e.nav, e.flowOptions()...)
}

func (e *clientEnv) account() *flow.Account {
	return flow.NewAccount(e.client, e.store, e.nav, e.profiles(), e.flowOptions()...)
}

// sessionSecret returns the secret the durable tier key is wrapped with:
// the hex VESTIO_SESSION_KEY when set, otherwise a random key kept next to
// the session database.
func sessionSecret(cfg config.Config) ([]byte, error) {
	if cfg.SessionKey != "" {
		return cfg.SessionKeyBytes()
	}
	return loadOrCreateKey(filepath.Join(cfg.DataDir, sessionKeyFile))
}

// loadOrCreateKey reads a hex encoded key from path, creating the file with
// a fresh random key when it does not exist.
func loadOrCreateKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	key, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return key, nil
}

// cliNavigator remembers where the flow last asked to go. A terminal has
// no pages, so commands read the route to decide what to print.
type cliNavigator struct {
	logger *slog.Logger

	mu   sync.Mutex
	last flow.Route
}

func (n *cliNavigator) Navigate(to flow.Route) {
	n.mu.Lock()
	n.last = to
	n.mu.Unlock()
	n.logger.Debug("navigate", "route", string(to))
}

// Last returns the most recent route, or "" if none.
func (n *cliNavigator) Last() flow.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// withClient opens the client environment around a command body.
func withClient(run func(cmd *cobra.Command, args []string, env *clientEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		env, err := openClient()
		if err != nil {
			return err
		}
		defer env.Close()
		return run(cmd, args, env)
	}
}
