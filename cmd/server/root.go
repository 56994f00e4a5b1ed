package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/omochice/framechat/internal/config"
	"github.com/omochice/framechat/internal/server"
	"github.com/spf13/cobra"
)

type options struct {
	cfgFile   string
	listen    string
	queueSize int
	logLevel  string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "framechat-server",
		Short: "Relay framechat frames between TCP and WebSocket peers",
		Long: `framechat-server accepts raw TCP framechat clients and WebSocket clients
(path /ws) on a single port and forwards every frame it receives to all
other connected peers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.ErrOrStderr(), nil)
		},
	}

	cmd.Flags().StringVar(&opts.cfgFile, "config", "", "config file (default is ~/.framechat/config.yaml)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "address to listen on (default \":<port>\" from config, :12347)")
	cmd.Flags().IntVar(&opts.queueSize, "queue", 16, "frames buffered per peer before frames are dropped for it")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default \"info\")")

	return cmd
}

// run serves the relay until ctx is done. ready, if set, receives the bound
// address once the listener is up.
func run(ctx context.Context, opts options, logOut io.Writer, ready func(addr string)) error {
	path := opts.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	listen := opts.listen
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Port)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	srv := server.New(listen,
		server.WithLogger(logger),
		server.WithMaxPayload(cfg.MaxPayloadBytes),
		server.WithQueueSize(opts.queueSize),
	)
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("Relay server listening", "addr", srv.Addr())
	if ready != nil {
		ready(srv.Addr())
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		srv.Stop()
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		srv.Stop()
		if err := <-errChan; err != nil && !errors.Is(err, server.ErrServerStopped) {
			return err
		}
	}
	logger.Info("Relay server stopped")
	return nil
}
