package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/omochice/framechat/internal/client"
	"github.com/omochice/framechat/internal/source"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively",
		Long: `Connect and read lines from standard input. Each line is sent as a text
message. Lines starting with /file, /image or /voice followed by a path
send that file as a payload of that kind. /quit ends the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := newRenderer(cmd.OutOrStdout())

			sess, err := a.connect(ctx)
			if err != nil {
				if sess != nil {
					r.write(sess.store.Snapshot())
				}
				return err
			}

			renderCtx, stopRender := context.WithCancel(context.Background())
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				r.follow(renderCtx, sess.store)
			}()

			a.chat(ctx, cmd.InOrStdin(), sess)

			sess.close()
			stopRender()
			<-rendered
			return nil
		},
	}
}

// chat sends input lines until /quit, end of input, ctx cancellation, or
// the session ending.
func (a *app) chat(ctx context.Context, in io.Reader, sess *session) {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			a.logger.Warn("Error reading input", "error", err)
		}
	}()

	ended := sessionDone(sess.Client)
	files := source.Files{MaxSize: a.cfg.MaxPayloadBytes}
	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case <-ended:
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if line == "/quit" || line == "quit" || line == "exit" {
			return
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch {
		case cmd == "/file" && arg != "":
			sess.Go(ctx, func(ctx context.Context) error {
				return sess.SendFile(ctx, files, arg, protocol.FrameTypeFile)
			})
		case cmd == "/image" && arg != "":
			sess.Go(ctx, func(ctx context.Context) error {
				return sess.SendFile(ctx, files, arg, protocol.FrameTypeImage)
			})
		case cmd == "/voice" && arg != "":
			sess.Go(ctx, func(ctx context.Context) error {
				return sess.SendVoice(ctx, source.Recording{Path: arg})
			})
		default:
			// Text goes out in the order it was typed.
			sess.SendText(ctx, a.outgoing(line))
		}
	}
}

// sessionDone returns a channel closed when c's current session ends.
func sessionDone(c *client.Client) <-chan struct{} {
	if s := c.Session(); s != nil {
		return s.Done()
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}
