package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	stats, err := a.coordinator.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printResult(stats, func() {
		fmt.Printf("session:    %s\n", stats.SessionID)
		fmt.Printf("buffer:     %d turns\n", stats.BufferLen)
		fmt.Printf("turns:      %d\n", stats.Turns)
		fmt.Printf("facts:      %d\n", stats.Facts)
		fmt.Printf("documents:  %d\n", stats.Documents)
		fmt.Printf("chunks:     %d (%d unindexed)\n", stats.Chunks, stats.UnindexedChunks)
		fmt.Printf("indexed:    %d vectors\n", stats.IndexCount)
		fmt.Printf("database:   %d bytes\n", stats.DatabaseBytes)
	})
}
