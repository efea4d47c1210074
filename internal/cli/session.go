package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
		Run:   runSessionShow,
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Close the current session and start a fresh one",
		Long:  "Start a new session. The recent-context buffer is cleared; durable memory keeps everything.",
		Run:   runSessionNew,
	}

	sessionCmd.AddCommand(newCmd)
	RootCmd.AddCommand(sessionCmd)
}

func runSessionShow(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	sess := a.coordinator.Session()
	printResult(sess, func() {
		fmt.Printf("%s (started %s)\n", sess.ID, sess.CreatedAt.Format("2006-01-02 15:04:05"))
	})
}

func runSessionNew(cmd *cobra.Command, args []string) {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		exitErr("open", err)
	}
	defer a.close(cmd.Context())

	sess, err := a.coordinator.NewSession(cmd.Context())
	if err != nil {
		exitErr("session new", err)
	}
	printResult(sess, func() {
		fmt.Println(sess.ID)
	})
}
