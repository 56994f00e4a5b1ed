package main

import (
	"fmt"
	"strings"

	"github.com/omochice/framechat/internal/source"
	"github.com/omochice/framechat/pkg/protocol"
	"github.com/spf13/cobra"
)

func newSendCmd(a *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "send <text...> | send --kind file|image|voice <path>",
		Short: "Send one message or file and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft := protocol.FrameTypeText
			if kind != "" {
				var err error
				if ft, err = protocol.ParseFrameType(kind); err != nil {
					return err
				}
			}
			if ft.IsPayload() && len(args) != 1 {
				return fmt.Errorf("send --kind %s takes exactly one path, got %d arguments", kind, len(args))
			}

			ctx := cmd.Context()
			r := newRenderer(cmd.OutOrStdout())

			sess, err := a.connect(ctx)
			if err != nil {
				if sess != nil {
					r.write(sess.store.Snapshot())
				}
				return err
			}

			switch ft {
			case protocol.FrameTypeText:
				err = sess.SendText(ctx, a.outgoing(strings.Join(args, " ")))
			case protocol.FrameTypeVoice:
				err = sess.SendVoice(ctx, source.Recording{Path: args[0]})
			default:
				err = sess.SendFile(ctx, source.Files{MaxSize: a.cfg.MaxPayloadBytes}, args[0], ft)
			}

			sess.close()
			r.write(sess.store.Snapshot())
			if err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "payload kind: text, file, image or voice (default text)")
	return cmd
}
