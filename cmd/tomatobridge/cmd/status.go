package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/baiirun/tomatobridge/internal/client"
	"github.com/baiirun/tomatobridge/internal/state"
	"github.com/baiirun/tomatobridge/internal/term"
	"github.com/baiirun/tomatobridge/internal/waybar"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer as the status bar sees it",
	Long: `Show the current timer state and the rendered status bar payload.

With --json, prints the payload JSON for a bar module that runs a command
instead of reading a file. It always prints a payload and exits 0: when
the bridge cannot be reached the payload is an error widget.

Starts the bridge if its socket is missing, unless --auto-start=false.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		c := newClient(cmd)

		if asJSON {
			if err := writeWidget(cmd.OutOrStdout(), c); err != nil {
				Fatal("%v", err)
			}
			return
		}

		payload, err := c.Output()
		if err != nil {
			Fatal("%v", err)
		}
		st, err := c.Status()
		if err != nil {
			Fatal("%v", err)
		}
		printStatus(st, payload)
	},
}

// writeWidget prints the bar payload as one JSON line.
func writeWidget(w io.Writer, c *client.Client) error {
	data, err := json.Marshal(c.Widget())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printStatus(st state.TimerState, p waybar.Payload) {
	fmt.Println(term.Accent(p.Text, p.Accent))
	fmt.Println()

	row := func(label, value string) {
		fmt.Printf("  %s %s\n", term.Label(label, 10), value)
	}
	row("state", term.State(string(st.TimerState)))
	if st.WorkflowName != "" {
		row("workflow", st.WorkflowName)
	}
	if st.CurrentStatus != "" {
		row("phase", st.CurrentStatus)
	}
	if st.Active() {
		row("elapsed", formatDuration(time.Duration(st.ElapsedSeconds)*time.Second))
	}
	row("progress", fmt.Sprintf("%d%%", p.Percentage))
	if st.Error != "" {
		row("error", term.Red(st.Error))
	}

	if p.Tooltip != "" {
		fmt.Println()
		for _, line := range strings.Split(p.Tooltip, "\n") {
			fmt.Println("  " + term.Dim(line))
		}
	}
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the payload JSON, or an error widget when the bridge is unreachable")
	rootCmd.AddCommand(statusCmd)
}
