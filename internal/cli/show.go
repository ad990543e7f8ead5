package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"yieldvault/internal/app"
)

var (
	showSampleLimit int
	showEventLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent yield samples and ledger events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showSampleLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			SampleLimit: showSampleLimit,
			EventLimit:  showEventLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showSampleLimit, "limit", 20, "Number of samples to display")
	showCmd.Flags().IntVar(&showEventLimit, "events", 20, "Number of ledger events to display (0 disables)")
}
