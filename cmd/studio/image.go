package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/studio-relay/internal/coordinator"
)

func newImageCmd(opts *options) *cobra.Command {
	var (
		steps   int
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate an image and record it in history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return fmt.Errorf("prompt cannot be empty")
			}

			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.coordinator.GenerateImage(cmd.Context(), prompt, steps)
			if errors.Is(err, coordinator.ErrSuperseded) {
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Recorded {
				fmt.Fprintf(out, "Recorded %s (%d steps, %s stored)\n", res.Entry.ID, res.Entry.Steps, formatBytes(len(res.Entry.ImageURI)))
			} else {
				fmt.Fprintln(out, "Same image as the last generation; history unchanged.")
			}

			if outPath != "" {
				if err := writeDataURI(outPath, res.DataURI); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote %s\n", outPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 0, "diffusion steps (relay default when unset)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the full-size image to this file")
	return cmd
}

func writeDataURI(path, dataURI string) error {
	_, payload, ok := strings.Cut(dataURI, ",")
	if !ok {
		return fmt.Errorf("malformed data URI")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
