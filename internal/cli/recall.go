package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memory across all layers",
		Long:  "Search the recent-context buffer, the semantic index, and full text, merged into one ranked list.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	results, degraded, err := a.coordinator.Recall(cmd.Context(), query, limit)
	if err != nil {
		exitErr("recall", err)
	}
	if degraded {
		a.log.Warn("semantic layer unavailable, results are lexical only")
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printResult(results, func() {
		for _, r := range results {
			fmt.Printf("%.3f  [%s] %s\n", r.Score, r.Layer, r.Text)
		}
	})
}
