package cmd

import (
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get waypaper status",
		Long:  `Returns the daemon status and a one line summary per output.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := utils.Client()
			if err != nil {
				return err
			}
			defer client.Close()

			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			utils.PrintJSONColored(status)
			return nil
		},
	}
}
