package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func watchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream job state transitions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(strings.TrimRight(opts.server, "/") + "/v1/events")
			if err != nil {
				return fmt.Errorf("invalid --server: %w", err)
			}
			switch u.Scheme {
			case "https":
				u.Scheme = "wss"
			default:
				u.Scheme = "ws"
			}

			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u.String(), nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", u, err)
			}
			defer conn.Close()

			go func() {
				<-cmd.Context().Done()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						return nil
					}
					var ce *websocket.CloseError
					if errors.As(err, &ce) {
						return fmt.Errorf("stream closed: %s", ce.Text)
					}
					return fmt.Errorf("read: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(msg))
			}
		},
	}
}
