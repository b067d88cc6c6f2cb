package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/studio-relay/internal/domain"
)

func newHistoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List generated images, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			printHistory(cmd.OutOrStdout(), sess.history.Entries())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an entry from the image history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if !sess.history.Remove(cmd.Context(), args[0]) {
				return fmt.Errorf("no history entry %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func printHistory(out io.Writer, entries []domain.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No images yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tSTEPS\tSIZE\tPROMPT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04"),
			e.Steps,
			formatBytes(len(e.ImageURI)),
			truncate(e.Prompt, 60),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
