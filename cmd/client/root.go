package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omochice/framechat/internal/client"
	"github.com/omochice/framechat/internal/config"
	"github.com/omochice/framechat/internal/sink"
	"github.com/omochice/framechat/internal/transcript"
	"github.com/spf13/cobra"
)

// app holds global flags and the state set during PersistentPreRun.
type app struct {
	cfgFile   string
	server    string
	port      int
	transport string
	nickname  string
	sinkKind  string
	logLevel  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "framechat",
		Short: "framechat client: text, files, images and voice clips over one TCP stream",
		Long: `framechat connects to a chat peer (default port 12347) over raw TCP or
WebSocket, sends text messages and typed binary payloads, and prints the
conversation as it happens. Received payloads are kept in a download
directory or a SQLite database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ~/.framechat/config.yaml)")
	flags.StringVar(&a.server, "server", "", "peer IPv4 address or host name")
	flags.IntVar(&a.port, "port", config.DefaultPort, "peer port")
	flags.StringVar(&a.transport, "transport", "", "tcp or ws (default \"tcp\")")
	flags.StringVar(&a.nickname, "nickname", "", "prefix outgoing text with \"<nickname>: \"")
	flags.StringVar(&a.sinkKind, "sink", "", "where received payloads go: dir, sqlite, discard (default \"dir\")")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (default \"info\")")

	root.AddCommand(
		newChatCmd(a),
		newSendCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	flags := cmd.Flags()
	if a.server != "" {
		cfg.Server = a.server
	}
	if flags.Changed("port") {
		cfg.Port = a.port
	}
	if a.transport != "" {
		cfg.Transport = a.transport
	}
	if a.nickname != "" {
		cfg.Nickname = a.nickname
	}
	if a.sinkKind != "" {
		cfg.Sink = a.sinkKind
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// openSink returns the configured persistence sink and its closer.
func (a *app) openSink() (client.Sink, func() error, error) {
	noop := func() error { return nil }
	switch a.cfg.Sink {
	case "sqlite":
		s, err := sink.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "discard":
		return sink.Discard{Logger: a.logger}, noop, nil
	default:
		d, err := sink.NewDir(a.cfg.DownloadDir)
		if err != nil {
			return nil, nil, err
		}
		return d, noop, nil
	}
}

// session is a connected client together with everything that must be
// released after it.
type session struct {
	*client.Client
	store     *transcript.Store
	closeSink func() error
	logger    *slog.Logger
}

// connect validates the server address and opens a session. A connect
// failure is returned after it has been written to the transcript.
func (a *app) connect(ctx context.Context) (*session, error) {
	if err := a.cfg.ValidateServer(); err != nil {
		return nil, err
	}
	s, closeSink, err := a.openSink()
	if err != nil {
		return nil, fmt.Errorf("failed to open sink: %w", err)
	}

	store := transcript.New()
	c := client.New(store,
		client.WithSink(s),
		client.WithLogger(a.logger),
		client.WithMaxPayload(a.cfg.MaxPayloadBytes),
		client.WithDialTimeout(a.cfg.DialTimeout),
	)
	sess := &session{Client: c, store: store, closeSink: closeSink, logger: a.logger}
	if err := c.Connect(ctx, a.cfg.Address()); err != nil {
		sess.close()
		return sess, err
	}
	return sess, nil
}

// close waits for in-flight sends, disconnects, and releases the sink.
func (s *session) close() {
	s.Wait()
	s.Disconnect()
	if err := s.closeSink(); err != nil {
		s.logger.Warn("Failed to close sink", "error", err)
	}
}

// outgoing applies the nickname prefix the peer displays.
func (a *app) outgoing(text string) string {
	if a.cfg.Nickname == "" {
		return text
	}
	return a.cfg.Nickname + ": " + text
}
