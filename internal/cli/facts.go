package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	factsCmd := &cobra.Command{
		Use:   "facts [category]",
		Short: "List stored facts",
		Long:  "List facts, optionally filtered by category and minimum confidence.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runFactsList,
	}
	factsCmd.Flags().Float64("min-confidence", -1, "Confidence floor (default from config)")

	addCmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Save a fact directly",
		Args:  cobra.MinimumNArgs(1),
		Run:   runFactsAdd,
	}
	addCmd.Flags().String("category", "general", "Fact category")
	addCmd.Flags().Float64("confidence", 1.0, "Confidence 0.0-1.0")
	addCmd.Flags().String("source", "", "Source label")

	factsCmd.AddCommand(addCmd)
	RootCmd.AddCommand(factsCmd)
}

func runFactsList(cmd *cobra.Command, args []string) {
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	category := ""
	if len(args) > 0 {
		category = args[0]
	}

	floor := a.cfg.Facts.MinConfidence
	if minConf >= 0 {
		floor = minConf
	}

	facts, err := a.store.Facts(cmd.Context(), category, floor)
	if err != nil {
		exitErr("facts", err)
	}
	if len(facts) == 0 {
		fmt.Println("[]")
		return
	}
	printResult(facts, func() {
		for _, f := range facts {
			fmt.Printf("[%s] %s (%.0f%%)\n", f.Category, f.Content, f.Confidence*100)
		}
	})
}

func runFactsAdd(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")

	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	fact, err := a.coordinator.AddFact(cmd.Context(), category, strings.Join(args, " "), confidence, source)
	if err != nil {
		exitErr("facts add", err)
	}
	printResult(fact, func() {
		fmt.Printf("[%s] %s (%.0f%%)\n", fact.Category, fact.Content, fact.Confidence*100)
	})
}
