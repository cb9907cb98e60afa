package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/matjam/waypaper/internal/config"
	"github.com/spf13/cobra"
)

func NewSetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "set <wallpaper-dir>",
		Short: "Play a wallpaper",
		Long: `Loads the wallpaper directory (containing project.json) and plays it
on the given output, or on every output when --output is not set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the daemon does not share our working directory
			dir, err := filepath.Abs(config.CanonicalPath(args[0]))
			if err != nil {
				return fmt.Errorf("resolving %s: %w", args[0], err)
			}

			client, err := utils.Client()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Set(cmd.Context(), dir, output)
			if err != nil {
				return err
			}

			title := res.Descriptor.Title
			if title == "" {
				title = filepath.Base(res.Descriptor.Dir)
			}
			log.Infof("Playing %q on %v", title, res.Outputs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output name, e.g. DP-1 (default: every output)")
	return cmd
}
