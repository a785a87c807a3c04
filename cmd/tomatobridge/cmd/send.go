package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baiirun/tomatobridge/internal/daemon"
	"github.com/baiirun/tomatobridge/internal/term"
)

var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send a raw command to the bridge and print the reply",
	Long: `Send one request to the bridge and print its reply unchanged.

The bridge understands: status, output, start, stop, pause, resume, skip.
Exits non-zero when the bridge replies with an error.

Examples:
  tomatobridge send status
  tomatobridge send output | jq .text`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reply, err := newClient(cmd).Send(strings.Join(args, " "))
		if err != nil {
			Fatal("%v", err)
		}

		out := term.Reply(reply)
		if strings.HasPrefix(reply, daemon.ErrorPrefix) || strings.HasPrefix(reply, daemon.UnknownReply) {
			fmt.Fprintln(os.Stderr, out)
			os.Exit(1)
		}
		fmt.Println(out)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
