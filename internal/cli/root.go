package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/matjam/waypaper"
	"github.com/matjam/waypaper/internal/cli/cmd"
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "waypaper",
	Short: "A looping video wallpaper daemon for Wayland",
	Long: `Waypaper plays looping video wallpapers on every output of a Wayland
compositor that supports the wlr layer shell, using VAAPI decoding when
available.

Run without a subcommand to start the daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, args []string) error {
		if v, err := c.Flags().GetBool("show-config"); err == nil && v {
			log.Infof("Using config file: %v", viper.ConfigFileUsed())
			log.Infof("All settings:")
			utils.PrintJSONColored(viper.AllSettings())
			return nil
		}

		if v, err := c.Flags().GetBool("version"); err == nil && v {
			babyBlue := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
			green := lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
			yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
			log.Infof("%v version %v © 2025 %v",
				babyBlue.Render("waypaper"),
				green.Render(strings.Trim(waypaper.Version, "\n\r ")),
				yellow.Render("Nathan Ollerenshaw"))
			return nil
		}

		if v, err := c.Flags().GetBool("installconfig"); err == nil && v {
			return utils.InstallDefaultConfig()
		}

		return cmd.StartDaemon(c)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)
	RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		cmd.NewStartCmd(),
		cmd.NewSetCmd(),
		cmd.NewGetCmd(),
		cmd.NewStatusCmd(),
		cmd.NewShutdownCmd(),
		cmd.NewGenManCmd(rootCmd),
	)
}
