package cmd

import (
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/spf13/cobra"
)

func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show what is playing on each output",
		Long: `Prints every output with its state, the wallpaper it is playing,
playback statistics and the last error, if any.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := utils.Client()
			if err != nil {
				return err
			}
			defer client.Close()

			outputs, err := client.Get(cmd.Context())
			if err != nil {
				return err
			}

			utils.PrintJSONColored(outputs)
			return nil
		},
	}
}
