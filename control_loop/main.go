package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drivetrain-core/robot"
	"drivetrain-core/station"
	"drivetrain-core/utils"
)

const defaultConfigPath = "drivecore.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgPath string

	root := &cobra.Command{
		Use:   "control_loop",
		Short: "Drivetrain control loop",
		Long: `control_loop runs the drivetrain's task scheduler at a fixed period,
talking to the motor controllers over SocketCAN (or to a simulated drivetrain)
and to the operator console over a websocket.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "config file")
	root.PersistentFlags().String("log", "", "trace|debug|info|warn|error|critical")
	root.PersistentFlags().Bool("log-json", false, "write log records as JSON")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log"))
	_ = v.BindPFlag("log.json", root.PersistentFlags().Lookup("log-json"))

	load := func(cmd *cobra.Command) (Config, error) {
		return loadConfig(v, cfgPath, cmd.Flags().Changed("config"))
	}

	root.AddCommand(newRunCmd(v, load), newConfigCmd(load), newAutosCmd(load))
	return root
}

func newRunCmd(v *viper.Viper, load func(*cobra.Command) (Config, error)) *cobra.Command {
	var (
		useSim bool
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			startMode, err := station.ParseMode(mode)
			if err != nil {
				return err
			}

			log, err := utils.NewFileLogger(cfg.Log.File, utils.ParseLevel(cfg.Log.Level), cfg.Log.Stdout, cfg.Log.JSON)
			if err != nil {
				return fmt.Errorf("open log %s: %w", cfg.Log.File, err)
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner, err := NewRunner(ctx, RunnerConfig{Config: cfg, Sim: useSim, Mode: startMode}, log)
			if err != nil {
				log.Critical("Startup failed: %v", err)
				return err
			}
			defer runner.Close()

			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Critical("Run failed: %v", err)
				return err
			}
			log.Info("Stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSim, "sim", false, "drive a simulated drivetrain instead of CAN hardware")
	cmd.Flags().StringVar(&mode, "mode", string(station.ModeDisabled), "mode to start in before a console connects: disabled|teleop|autonomous")
	cmd.Flags().String("iface", "", "SocketCAN interface (overrides can.iface)")
	cmd.Flags().String("auto", "", "autonomous routine to select")
	_ = v.BindPFlag("can.iface", cmd.Flags().Lookup("iface"))
	_ = v.BindPFlag("auto.selection", cmd.Flags().Lookup("auto"))
	return cmd
}

func newConfigCmd(load func(*cobra.Command) (Config, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return dumpConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return configCmd
}

func newAutosCmd(load func(*cobra.Command) (Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "autos",
		Short: "List the autonomous routines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			printAutos(cmd, cfg.Robot.Autos, cfg.Auto.Selection)
			return nil
		},
	}
}

func printAutos(cmd *cobra.Command, autos []robot.AutoDef, selected string) {
	out := cmd.OutOrStdout()
	for i, a := range autos {
		marker := " "
		if a.Name == selected || (selected == "" && i == 0) {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s (%d steps)\n", marker, a.Name, len(a.Steps))
		for _, st := range a.Steps {
			fmt.Fprintf(out, "    %-5s %g\n", st.Kind, st.Value)
		}
	}
}
