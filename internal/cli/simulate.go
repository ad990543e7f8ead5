package cli

import (
	"github.com/spf13/cobra"

	"yieldvault/internal/app"
)

var (
	simulatePrincipal int64
	simulateGrowth    int64
	simulateInterest  int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "在内存账本上模拟一次完整的补贴周期",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Principal: simulatePrincipal,
			Growth:    simulateGrowth,
			Interest:  simulateInterest,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulatePrincipal, "principal", 1000, "存入的本金数量")
	simulateCmd.Flags().Int64Var(&simulateGrowth, "growth", 10, "模拟的外部收益")
	simulateCmd.Flags().Int64Var(&simulateInterest, "interest", 5, "模拟的债务利息")
}
