// Package cli implements the skitrip command line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"backend-skitrip/internal/auth"
	"backend-skitrip/internal/client"
	"backend-skitrip/internal/config"
	"backend-skitrip/internal/docstore"
	"backend-skitrip/internal/localstore"
	"backend-skitrip/internal/logging"
	"backend-skitrip/internal/trip"

	"github.com/spf13/cobra"
)

// Options replace the process defaults in tests.
type Options struct {
	LoadConfig func() config.Config
	OpenKV     func(path string) (localstore.KV, io.Closer, error)
	HTTPClient *http.Client
}

func openSQLite(path string) (localstore.KV, io.Closer, error) {
	s, err := localstore.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

// flags shared by every command.
type globals struct {
	storeURL string
	localDB  string
	logLevel string
	wait     time.Duration
}

// New builds the root command.
func New(opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	if opts.OpenKV == nil {
		opts.OpenKV = openSQLite
	}
	g := &globals{}

	root := &cobra.Command{
		Use:           "skitrip",
		Short:         "Share a ski trip: config, who is where, SOS and ride tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.storeURL, "store-url", "", "Document server URL (default $STORE_URL)")
	pf.StringVar(&g.localDB, "local-db", "", "Local state database (default $LOCAL_DB_PATH)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (default $LOG_LEVEL)")
	pf.DurationVar(&g.wait, "wait", 5*time.Second, "How long to wait for the server to deliver a trip")

	var open opener = func(cmd *cobra.Command) (*env, error) {
		return openEnv(cmd.Context(), opts, g)
	}

	root.AddCommand(
		registerCmd(open),
		loginCmd(open),
		logoutCmd(open),
		createCmd(open),
		joinCmd(open),
		leaveCmd(open),
		deleteCmd(open),
		updateCmd(open),
		shareCmd(open),
		statusCmd(open),
		watchCmd(open),
		sosCmd(open),
		rideCmd(open),
		historyCmd(open),
	)
	return root
}

// env is what a command runs against: local state, the signed-in session
// and, on demand, the trip engine.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	kv      localstore.KV
	closer  io.Closer
	session *auth.Session
	http    *http.Client
	wait    time.Duration
	engine  *client.Engine
}

func openEnv(ctx context.Context, opts Options, g *globals) (*env, error) {
	cfg := opts.LoadConfig()
	if g.storeURL != "" {
		cfg.StoreURL = g.storeURL
	}
	if g.localDB != "" {
		cfg.LocalDBPath = g.localDB
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	logger := logging.Setup(cfg.LogLevel)

	kv, closer, err := opts.OpenKV(cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	session, err := auth.NewSession(ctx, kv, logger)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		kv:      kv,
		closer:  closer,
		session: session,
		http:    opts.HTTPClient,
		wait:    g.wait,
	}, nil
}

func (e *env) Close() {
	if e.engine != nil {
		e.engine.Close()
	}
	closeQuietly(e.closer)
}

func (e *env) authClient() *auth.Client {
	return auth.NewClient(e.cfg.StoreURL, e.http)
}

// Engine connects to the document server as the signed-in user.
func (e *env) Engine(ctx context.Context) (*client.Engine, error) {
	if e.engine != nil {
		return e.engine, nil
	}
	if e.session.CurrentUser() == nil {
		return nil, errors.New("not signed in; run `skitrip login` first")
	}
	store, err := docstore.NewRemote(e.cfg.StoreURL, docstore.TokenFunc(e.session.Token), e.http, e.logger)
	if err != nil {
		return nil, err
	}
	e.engine = client.New(ctx, client.Deps{
		Store:             store,
		KV:                e.kv,
		Identity:          e.session,
		Logger:            e.logger,
		GPSInterval:       e.cfg.GPSInterval(),
		RecordingInterval: e.cfg.RecordingInterval(),
	})
	return e.engine, nil
}

// awaitTrip waits for the first config or eviction of the active trip.
func (e *env) awaitTrip(ctx context.Context, eng *client.Engine) (trip.State, error) {
	got := make(chan trip.Event, 1)
	cancel := eng.Sync.Watch(func(ev trip.Event) {
		if ev.Kind == trip.EventConfig && ev.State.Cached {
			return
		}
		select {
		case got <- ev:
		default:
		}
	})
	defer cancel()

	if st := eng.Sync.State(); st.Config != nil && !st.Cached {
		return st, nil
	}

	timer := time.NewTimer(e.wait)
	defer timer.Stop()
	select {
	case ev := <-got:
		switch ev.Kind {
		case trip.EventConfig:
			return ev.State, nil
		case trip.EventEvicted:
			return trip.State{}, fmt.Errorf("trip %s no longer exists", ev.TripID)
		case trip.EventLeft:
			return trip.State{}, trip.ErrNoActiveTrip
		default:
			return eng.Sync.State(), ev.Err
		}
	case <-timer.C:
		st := eng.Sync.State()
		if st.Config != nil {
			return st, nil
		}
		return st, fmt.Errorf("no trip data from %s within %s", e.cfg.StoreURL, e.wait)
	case <-ctx.Done():
		return trip.State{}, ctx.Err()
	}
}

// withEngine opens the environment and the engine, restoring the cached
// active trip.
func withEngine(cmd *cobra.Command, open opener, fn func(*env, *client.Engine) error) error {
	e, err := open(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	eng, err := e.Engine(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := eng.Start(cmd.Context(), ""); err != nil {
		return err
	}
	return fn(e, eng)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
