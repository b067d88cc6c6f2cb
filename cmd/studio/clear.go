package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(opts *options) *cobra.Command {
	var images bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			sess.messages.Clear(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation cleared.")
			if images {
				sess.history.Clear(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "Image history cleared.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&images, "images", false, "also clear the image history")
	return cmd
}
