package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/capture"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

func newCaptureCmd() *cobra.Command {
	var (
		width    int
		height   int
		fullPage bool
		quality  int
	)
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Capture a single page and print the stored asset as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var in capture.OptionsInput
			flags := cmd.Flags()
			if flags.Changed("width") {
				in.Width = &width
			}
			if flags.Changed("height") {
				in.Height = &height
			}
			if flags.Changed("full-page") {
				in.FullPage = &fullPage
			}
			if flags.Changed("quality") {
				in.Quality = &quality
			}

			asset, err := appInstance.Service().Capture(cmd.Context(), args[0], in)
			if err != nil {
				appInstance.Logger().Error("capture failed", zap.String("url", args[0]), zap.Error(err))
				return fmt.Errorf("capture %s: %w", args[0], err)
			}
			return printJSON(cmd, asset)
		},
	}
	// Unset flags fall back to the capture.* config values.
	cmd.Flags().IntVar(&width, "width", 0, "viewport width in CSS pixels (overrides capture.width)")
	cmd.Flags().IntVar(&height, "height", 0, "viewport height in CSS pixels (overrides capture.height)")
	cmd.Flags().BoolVar(&fullPage, "full-page", false, "capture the full scrollable page (overrides capture.full_page)")
	cmd.Flags().IntVar(&quality, "quality", 0, "quality hint, 0-100 (overrides capture.quality)")
	return cmd
}

func newListCmd() *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for asset, err := range appInstance.Service().List(cmd.Context(), folder) {
				if err != nil {
					return fmt.Errorf("list: %w", err)
				}
				if err := printJSON(cmd, asset); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "asset folder (default: configured folder)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored screenshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Service().Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
