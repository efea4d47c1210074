package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the user profile",
		Run:   runProfileShow,
	}

	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print one profile value",
		Args:  cobra.ExactArgs(1),
		Run:   runProfileGet,
	}

	setCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a profile key",
		Args:  cobra.ExactArgs(2),
		Run:   runProfileSet,
	}

	profileCmd.AddCommand(getCmd, setCmd)
	RootCmd.AddCommand(profileCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	entries, err := a.store.ProfileEntries(cmd.Context())
	if err != nil {
		exitErr("profile", err)
	}
	if len(entries) == 0 {
		fmt.Println("{}")
		return
	}
	printResult(entries, func() {
		for _, e := range entries {
			fmt.Printf("%s = %s\n", e.Key, e.Value)
		}
	})
}

func runProfileGet(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	snap, err := a.coordinator.Profile(cmd.Context())
	if err != nil {
		exitErr("profile", err)
	}
	value, ok := snap[args[0]]
	if !ok {
		exitErr("profile", fmt.Errorf("key %q not set", args[0]))
	}
	fmt.Println(value)
}

func runProfileSet(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	if err := a.coordinator.SetProfile(cmd.Context(), args[0], args[1]); err != nil {
		exitErr("profile set", err)
	}
	fmt.Printf(`{"ok":true,"key":%q}`+"\n", args[0])
}
