package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "consult",
	Short: "Join a live audio/video consultation with the next available participant",
	Long: `consult is the participant-side client of the consultation service. It
acquires the local camera and microphone, queues in the shared waiting room
until a partner is available, and then establishes a direct (or relayed)
media session with them.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
