package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baiirun/tomatobridge/internal/term"
	"github.com/baiirun/tomatobridge/internal/timer"
)

var verbHelp = map[timer.Verb]string{
	timer.Start:  "Start the timer",
	timer.Stop:   "Stop the timer",
	timer.Pause:  "Pause the running phase",
	timer.Resume: "Resume a paused phase",
	timer.Skip:   "Skip to the next phase",
}

// controlCmd forwards one verb to the timer through the bridge.
func controlCmd(verb timer.Verb) *cobra.Command {
	return &cobra.Command{
		Use:   string(verb),
		Short: verbHelp[verb],
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := newClient(cmd).Control(verb); err != nil {
				Fatal("%s: %v", verb, err)
			}
			fmt.Println(term.Green(string(verb)), term.Dim("ok"))
		},
	}
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start, pause or resume depending on the timer state",
	Long: `Toggle the timer: a stopped timer is started, a running one is paused
and a paused one is resumed. Handy as a status bar click action.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		verb, err := newClient(cmd).Toggle()
		if err != nil {
			if verb != "" {
				Fatal("%s: %v", verb, err)
			}
			Fatal("%v", err)
		}
		fmt.Println(term.Green(string(verb)), term.Dim("ok"))
	},
}

func init() {
	for _, verb := range timer.Verbs {
		rootCmd.AddCommand(controlCmd(verb))
	}
	rootCmd.AddCommand(toggleCmd)
}
