package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"wayfarer/cmd/internal/ids"
	"wayfarer/cmd/internal/realtime"
	v1 "wayfarer/contracts/realtime/v1"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newChatCommand(c *cli) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "chat <conversation>",
		Short: "Join a conversation; stdin lines are sent, incoming messages printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID := strings.TrimSpace(args[0])
			cl, err := c.newClient(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			conn, err := realtime.Dial(cmd.Context(), cl, path, realtime.WithDialLogger(c.log), realtime.WithClientName("wayfarer-cli"))
			if err != nil {
				return describe(err)
			}
			defer conn.Close()
			if err := conn.Join(cmd.Context(), convID); err != nil {
				return err
			}
			self := conn.Session().UserID
			fmt.Fprintf(cmd.ErrOrStderr(), "joined %s as %s\n", convID, self)

			closing := make(chan struct{})
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				err := printIncoming(ctx, conn, cmd.OutOrStdout(), self)
				select {
				case <-closing:
					return nil
				default:
					return err
				}
			})
			g.Go(func() error {
				// End of input closes the connection, which stops the reader.
				defer func() {
					close(closing)
					_ = conn.Close()
				}()
				return sendLines(ctx, conn, convID, cmd.InOrStdin())
			})
			err = g.Wait()
			if errors.Is(err, realtime.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "/ws", "websocket endpoint path")
	return cmd
}

// sendLines sends each non-empty line of in. It returns at end of input or
// when ctx is done; the scanning goroutine may outlive it blocked on in.
func sendLines(ctx context.Context, conn *realtime.Conn, convID string, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			err := conn.Send(ctx, v1.TypeMessageSend, convID, v1.MessageSendPayload{
				ConversationID: convID,
				ClientMsgID:    ids.Make(),
				Text:           text,
			})
			if err != nil {
				return err
			}
		}
	}
}

func printIncoming(ctx context.Context, conn *realtime.Conn, w io.Writer, self string) error {
	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		switch env.Type {
		case v1.TypeMessageNew:
			var m v1.MessageNewPayload
			if err := env.Decode(&m); err != nil {
				continue
			}
			who := m.Sender
			if who == self {
				who = "you"
			}
			fmt.Fprintf(w, "[%s] %s: %s\n", humanize.Time(m.ServerTS), who, m.Text)
		case v1.TypeNotificationNew:
			var n v1.NotificationNewPayload
			if err := env.Decode(&n); err != nil {
				continue
			}
			fmt.Fprintf(w, "* %s: %s\n", n.Kind, n.Text)
		case v1.TypeError:
			var e v1.ErrorPayload
			_ = env.Decode(&e)
			fmt.Fprintf(w, "! %s: %s\n", e.Code, e.Message)
		case v1.TypeMessageAck:
			// Delivery shows up as message.new.
		default:
			fmt.Fprintf(w, "? %s at %s\n", env.Type, env.TS.Format(time.Kitchen))
		}
	}
}
