package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/matjam/waypaper/internal/cli/cmd/utils"
	"github.com/matjam/waypaper/internal/config"
	"github.com/matjam/waypaper/internal/daemon"
	"github.com/matjam/waypaper/internal/ipc"
	"github.com/matjam/waypaper/internal/wlsurface"
	daemonize "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the waypaper daemon",
		Long: `Starts the daemon in the foreground, or detached with --background.
Running waypaper without a subcommand does the same.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return StartDaemon(cmd)
		},
	}
}

// StartDaemon runs the daemon until it is shut down.
func StartDaemon(cmd *cobra.Command) error {
	cfg, err := utils.LoadConfig()
	if err != nil {
		return err
	}

	// the re-executed child carries --background too and finishes the
	// handshake inside detach
	if background, _ := cmd.Flags().GetBool("background"); background {
		return detach(cfg)
	}

	if os.Getenv("BACKGROUND_PROCESS") == "1" {
		setupRotatingLogger(cfg.Debug)
	}

	log.Infof("StartDaemon() started in PID: %d", os.Getpid())

	if running(cmd.Context(), cfg) {
		log.Infof("waypaper is already running, exiting")
		return nil
	}

	return run(cmd.Context(), cfg)
}

func run(ctx context.Context, cfg config.Config) error {
	display, err := wlsurface.Connect()
	if err != nil {
		return err
	}

	d := daemon.New(cfg, display, daemon.Options{ConfigFile: viper.ConfigFileUsed()})
	return d.Run(ctx)
}

func running(ctx context.Context, cfg config.Config) bool {
	client := ipc.NewClient(cfg.Socket, time.Second)
	defer client.Close()

	_, err := client.Status(ctx)
	return err == nil
}

// detach re-executes waypaper in the background and returns in the parent.
func detach(cfg config.Config) error {
	if !daemonize.WasReborn() && running(context.Background(), cfg) {
		log.Infof("waypaper is already running, exiting")
		return nil
	}

	dctx := &daemonize.Context{
		PidFileName: filepath.Join(config.RuntimeDir(), "waypaper.pid"),
		PidFilePerm: 0o644,
		Umask:       0o27,
		Env:         append(os.Environ(), "BACKGROUND_PROCESS=1"),
	}

	child, err := dctx.Reborn()
	if err != nil {
		return err
	}
	if child != nil {
		log.Infof("waypaper started in the background (PID %d, socket %s)", child.Pid, cfg.Socket)
		return nil
	}
	defer dctx.Release()

	setupRotatingLogger(cfg.Debug)
	log.Infof("background process started in PID: %d", os.Getpid())

	if err := run(context.Background(), cfg); err != nil {
		log.Errorf("daemon: %v", err)
		return err
	}
	return nil
}

func setupRotatingLogger(debug bool) {
	home := os.Getenv("HOME")
	logDir := filepath.Join(home, ".local", "share", "waypaper")
	logPath := filepath.Join(logDir, "waypaper.log")

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatalf("failed to create log directory: %v", err)
	}

	writer, err := rotatelogs.New(
		logPath+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationSize(10*1024*1024),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		log.Fatalf("failed to configure log rotation: %v", err)
	}

	log.SetOutput(writer)
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
