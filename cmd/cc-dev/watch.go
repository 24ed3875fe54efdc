package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchAudit bool

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Watch a job's live stream (or its audit trail with --audit)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/ws/cc-stream"
		if watchAudit {
			path = "/ws/audit"
		}
		wsURL := strings.Replace(apiAddr, "http", "ws", 1) + path + "?job_id=" + url.QueryEscape(args[0])

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", wsURL, err)
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			fmt.Println(string(msg))
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchAudit, "audit", false, "watch the audit trail instead of the stream")
}
