package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/service"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

type Server struct {
	svc    *service.Service
	cfg    Config
	signer *signing.EdSigner

	restListener net.Listener
}

func New(ctx context.Context, cfg Config) (_ *Server, err error) {
	// Resolve the REST listener
	addr, err := net.ResolveTCPAddr("tcp", cfg.RawRESTListener)
	if err != nil {
		return nil, err
	}
	restListener, err := net.Listen(addr.Network(), addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	defer func() {
		if err != nil {
			restListener.Close()
		}
	}()

	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
	}

	s, err := loadState(ctx, cfg.DataDir, os.Getenv(KeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if err := saveState(cfg.DataDir, s); err != nil {
		return nil, fmt.Errorf("saving state: %w", err)
	}
	signer, err := signing.NewEdSigner(s.PrivKey)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(ctx, cfg.DbDir, signer, service.WithConfig(cfg.Service))
	if err != nil {
		return nil, fmt.Errorf("failed to create Service: %w", err)
	}

	return &Server{
		svc:          svc,
		cfg:          cfg,
		signer:       signer,
		restListener: restListener,
	}, nil
}

func (s *Server) Close() error {
	return s.svc.Close()
}

// RestAddr returns the address that the HTTP API is listening on.
func (s *Server) RestAddr() net.Addr {
	return s.restListener.Addr()
}

func (s *Server) NodeID() shared.NodeID {
	return s.signer.NodeID()
}

// Start serves the HTTP API until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	serverGroup, ctx := errgroup.WithContext(ctx)

	logger := logging.FromContext(ctx)

	if s.cfg.SweepInterval > 0 {
		logger.Info("starting timeout sweeper", zap.Duration("interval", s.cfg.SweepInterval))
		serverGroup.Go(func() error {
			s.sweepLoop(ctx, s.cfg.SweepInterval)
			return nil
		})
	}

	server := &http.Server{
		Handler:           newRouter(s.svc, logger),
		ReadHeaderTimeout: time.Second * 5,
	}
	serverGroup.Go(func() error {
		logger.Sugar().Infof("REST server starts listening on %s", s.restListener.Addr())
		err := server.Serve(s.restListener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Wait for the server to shut down gracefully
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Errorf("failed to shutdown server: %s", err)
	}
	if err := serverGroup.Wait(); err != nil {
		logger.Sugar().Errorf("error when waiting to shutdown servers: %s", err)
		return err
	}
	return nil
}

func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.svc.SweepTimeouts(ctx, uint64(now.UnixMilli())); err != nil {
				logging.FromContext(ctx).Error("sweeping timeouts failed", zap.Error(err))
			}
		}
	}
}
