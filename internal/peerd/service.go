// Package peerd runs the serving peer: the stream accept loop, one session
// per stream, the tool manager, and the ops HTTP surface.
package peerd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/observability"
	"github.com/toolmesh/toolmesh/internal/protocol/frame"
	"github.com/toolmesh/toolmesh/internal/session"
	"github.com/toolmesh/toolmesh/internal/tools"
	"github.com/toolmesh/toolmesh/internal/transport"
)

// Service is the serving peer process lifecycle.
type Service struct {
	cfg      config.Config
	manager  *tools.Manager
	listener *transport.TCPListener
	started  time.Time
	log      zerolog.Logger
}

func New(cfg config.Config) *Service {
	observability.RegisterMetrics()
	return &Service{
		cfg:     cfg,
		manager: tools.NewManager(builtinDiscoverer{}),
		started: time.Now(),
		log:     log.Logger.With().Str("peer", cfg.PeerName).Logger(),
	}
}

// Manager exposes the registry so hosting code can register extra tools
// before Run.
func (s *Service) Manager() *tools.Manager {
	return s.manager
}

// Run serves until ctx is cancelled, then drains the manager within the
// configured shutdown deadline.
func (s *Service) Run(ctx context.Context) error {
	listener, err := transport.Listen(transport.Options{
		BindHost: s.cfg.BindHost,
		Port:     s.cfg.Port,
		Discovery: transport.DiscoveryOptions{
			MDNS:           s.cfg.Discovery.MDNS,
			DHT:            s.cfg.Discovery.DHT,
			Rendezvous:     s.cfg.Discovery.Rendezvous,
			AutoNAT:        s.cfg.Discovery.AutoNAT,
			Relay:          s.cfg.Discovery.Relay,
			HolePunch:      s.cfg.Discovery.HolePunch,
			BootstrapPeers: s.cfg.Discovery.BootstrapPeers,
			AnnounceFile:   s.cfg.Discovery.AnnounceFile,
		},
	}, s.log)
	if err != nil {
		return err
	}
	s.listener = listener

	ops := &http.Server{
		Addr:    s.cfg.OpsAddr,
		Handler: s.router(),
	}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("ops server failed")
		}
	}()

	acceptErr := make(chan error, 1)
	go s.acceptLoop(ctx, acceptErr)

	select {
	case <-ctx.Done():
	case err := <-acceptErr:
		if err != nil {
			s.log.Error().Err(err).Msg("accept loop failed")
		}
	}

	report := s.manager.GracefulShutdown(context.Background(), s.cfg.ShutdownDeadline())
	s.log.Info().
		Str("status", report.Status).
		Int("categories_cleared", report.CategoriesCleared).
		Msg("tool manager shut down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownDeadline())
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)
	return listener.Close()
}

func (s *Service) acceptLoop(ctx context.Context, errCh chan<- error) {
	for {
		stream, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				errCh <- nil
				return
			}
			errCh <- err
			return
		}
		go s.serveStream(ctx, stream)
	}
}

func (s *Service) serveStream(ctx context.Context, stream transport.Stream) {
	defer stream.Close()

	logger := s.log.With().Str("remote_peer", stream.RemotePeer()).Logger()
	sess := session.New(stream, s.manager, s.sessionConfig(), logger)
	if err := sess.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("session ended with error")
	}
}

func (s *Service) sessionConfig() session.Config {
	return session.Config{
		MaxFramesPerSession: s.cfg.MaxFramesPerSession,
		FrameLimits:         frame.Limits{MaxFrameBytes: s.cfg.MaxFrameBytes},
	}
}
