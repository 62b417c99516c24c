package command

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/offcache/internal/proxy"
)

const shutdownTimeout = 10 * time.Second

func ServeCommandBuilder() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "install the manifest and proxy the upstream with offline fallback",
		UsageText: "offcached serve [--listen addr]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address; overrides the config",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.close(sctx); err != nil {
			rt.log.Warn("shutdown", zap.Error(err))
		}
	}()
	if l := cmd.String("listen"); l != "" {
		rt.cfg.Listen = l
	}

	ln, err := net.Listen("tcp", rt.cfg.Listen)
	if err != nil {
		return err
	}
	return serve(ctx, rt, ln)
}

// serve registers the configured manifest and serves on ln until ctx ends.
// A failed install is fatal only when there is no restored version to fall
// back on.
func serve(ctx context.Context, rt *runtime, ln net.Listener) error {
	m, err := rt.cfg.ManifestValue()
	if err != nil {
		return err
	}
	if _, err := rt.reg.Register(ctx, m); err != nil {
		active := rt.reg.Active()
		if active == nil {
			return err
		}
		rt.log.Warn("install failed; serving previous version",
			zap.String("version", active.Version()),
			zap.Error(err))
	}

	h, err := proxy.New(rt.reg, rt.log, rt.cfg.MaxBody)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	rt.log.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.String("upstream", rt.reg.Scope()))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := rt.reg.Flush(sctx); err != nil {
		rt.log.Warn("pending cache writes not flushed", zap.Error(err))
	}
	rt.log.Info("stopped")
	return nil
}
