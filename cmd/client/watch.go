package main

import (
	"context"
	"fmt"
	"time"

	"github.com/omochice/framechat/internal/source"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		outbox string
		settle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Send every file dropped into an outbox directory",
		Long: `Connect and watch the outbox directory. Each new file is sent once it has
stopped changing: images as IMAGE, audio as VOICE, anything else as FILE.
The command runs until interrupted or until the peer disconnects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.OutboxDir
			if outbox != "" {
				dir = outbox
			}
			if dir == "" {
				return fmt.Errorf("outbox directory is required (--outbox or outbox_dir)")
			}

			r := newRenderer(cmd.OutOrStdout())
			sess, err := a.connect(cmd.Context())
			if err != nil {
				if sess != nil {
					r.write(sess.store.Snapshot())
				}
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				select {
				case <-sessionDone(sess.Client):
					cancel()
				case <-ctx.Done():
				}
			}()

			renderCtx, stopRender := context.WithCancel(context.Background())
			rendered := make(chan struct{})
			go func() {
				defer close(rendered)
				r.follow(renderCtx, sess.store)
			}()

			files := source.Files{MaxSize: a.cfg.MaxPayloadBytes}
			w := source.NewWatcher(dir, settle, a.logger)
			err = w.Run(ctx, func(path string) {
				ft := source.Classify(path)
				sess.Go(ctx, func(ctx context.Context) error {
					if ft == protocol.FrameTypeVoice {
						return sess.SendVoice(ctx, source.Recording{Path: path})
					}
					return sess.SendFile(ctx, files, path, ft)
				})
			})

			sess.close()
			stopRender()
			<-rendered
			return err
		},
	}

	cmd.Flags().StringVar(&outbox, "outbox", "", "directory to watch (overrides outbox_dir)")
	cmd.Flags().DurationVar(&settle, "settle", source.DefaultSettle, "how long a file must stay unchanged before it is sent")
	return cmd
}
