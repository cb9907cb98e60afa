package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/spf13/cobra"
)

func NewShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "shutdown",
		Aliases: []string{"stop"},
		Short:   "Stop the waypaper daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := utils.Client()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Shutdown(cmd.Context()); err != nil {
				return err
			}
			log.Info("waypaper daemon stopped")
			return nil
		},
	}
}
