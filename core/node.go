// Package core wires the coordination node together: store, verifier, chain
// adapter, session manager, websocket transport, expiry sweeper, and the
// query server, all driven from one config.
package core

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lazysuperheroes/hedera-multisig-sub001/api"
	"github.com/lazysuperheroes/hedera-multisig-sub001/chain/localnet"
	"github.com/lazysuperheroes/hedera-multisig-sub001/config"
	"github.com/lazysuperheroes/hedera-multisig-sub001/db"
	"github.com/lazysuperheroes/hedera-multisig-sub001/expirysweeper"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionmanager"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sigverify"
	"github.com/lazysuperheroes/hedera-multisig-sub001/transport"
	"github.com/lazysuperheroes/hedera-multisig-sub001/tunnel"
)

// Node is the assembled coordination server.
type Node struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *db.DB
	store  *sessionstore.Store
	mgr    *sessionmanager.Manager
	ws     *transport.Server
	sweep  *expirysweeper.Sweeper
	query  *api.Server
	tunnel tunnel.Tunnel
}

// NewNode builds a node from config. Nothing is listening yet; Start does
// that.
func NewNode(cfg config.Config, log zerolog.Logger) (*Node, error) {
	n := &Node{cfg: cfg, log: log}

	var archive *db.Archive
	if cfg.ArchiveEnabled {
		dir := cfg.ArchiveDir
		if dir == "" {
			dir = cfg.NodeHome + "/data"
		}
		database, err := db.OpenFileDB(dir, "sessions.db")
		if err != nil {
			return nil, errors.Wrap(err, "failed to open session archive")
		}
		n.db = database
		archive = db.NewArchive(database, log)
	}

	storeOpts := []sessionstore.Option{
		sessionstore.WithTimeout(time.Duration(cfg.SessionTimeoutSeconds) * time.Second),
		sessionstore.WithGracePeriod(time.Duration(cfg.GracePeriodSeconds) * time.Second),
		sessionstore.WithPinLength(cfg.PinLength),
	}
	if archive != nil {
		storeOpts = append(storeOpts, sessionstore.WithArchiver(archive))
	}
	n.store = sessionstore.New(log, storeOpts...)

	// Only localnet ships in-tree; testnet and mainnet adapters plug in here
	// once a real network client lands.
	if cfg.ChainNetwork != "localnet" {
		return nil, fmt.Errorf("chain network %q has no adapter yet", cfg.ChainNetwork)
	}
	adapter := localnet.New(log, localnet.WithMinSignatures(cfg.MinNodeAccounts))

	verifier := sigverify.New(adapter, log)

	serverURL, err := n.publicURL()
	if err != nil {
		return nil, err
	}

	n.mgr = sessionmanager.New(n.store, verifier, adapter, serverURL, log)
	n.ws = transport.NewServer(n.mgr, log)
	n.sweep = expirysweeper.New(n.store, log,
		expirysweeper.WithInterval(time.Duration(cfg.SweepIntervalSeconds)*time.Second))
	n.query = api.NewServer(log, cfg.QueryServerPort, n.store, archive)

	return n, nil
}

// publicURL resolves the websocket URL embedded into connection strings.
func (n *Node) publicURL() (string, error) {
	_, portStr, err := net.SplitHostPort(n.cfg.ListenAddress)
	if err != nil {
		return "", errors.Wrapf(err, "invalid listen address %q", n.cfg.ListenAddress)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid listen port %q", portStr)
	}

	n.tunnel = tunnel.NewStatic(n.cfg.PublicHost, n.log)
	url, err := n.tunnel.Start(port)
	if err != nil {
		// A dead tunnel never stops the server.
		n.log.Warn().Err(err).Msg("tunnel failed to start, falling back to local url")
		return fmt.Sprintf("ws://127.0.0.1:%d", port), nil
	}
	return url, nil
}

// Start runs the node until ctx is cancelled, then shuts everything down.
func (n *Node) Start(ctx context.Context) error {
	n.log.Info().
		Str("listen", n.cfg.ListenAddress).
		Int("query_port", n.cfg.QueryServerPort).
		Msg("starting coordination server")

	if err := n.query.Start(); err != nil {
		return errors.Wrap(err, "failed to start query server")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", n.ws)
	wsServer := &http.Server{Addr: n.cfg.ListenAddress, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "websocket server failed")
		}
		return nil
	})

	g.Go(func() error {
		n.sweep.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		n.log.Info().Msg("shutting down coordination server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsServer.Shutdown(shutdownCtx)

		n.query.Stop()
		n.store.Shutdown()
		if n.tunnel != nil {
			n.tunnel.Stop()
		}
		if n.db != nil {
			return n.db.Close()
		}
		return nil
	})

	return g.Wait()
}
