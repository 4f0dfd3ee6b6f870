// dmp40 brings up a Thorlabs DMP40 deformable mirror and optionally serves it over HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nasa-jpl/golab-dmp40/dmp40"
	"github.com/nasa-jpl/golab-dmp40/thorlabs/dfm"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is the default config file
	ConfigFileName = "dmp40.yml"

	configPath string
	cfg        Config
)

func setupLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func openDriver(c Config) (dfm.Driver, error) {
	if c.Mock {
		logrus.Info("using the mock DMP40")
		return dfm.NewMockDMP40(), nil
	}
	drv, err := dfm.OpenNative(c.Driver.Base, c.Driver.Extended)
	if err != nil {
		return nil, err
	}
	return drv, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, dfm.ErrUnsupportedPlatform) {
			fmt.Fprintln(os.Stderr, "The vendor drivers only exist for 64-bit Windows; try --mock")
		}
		os.Exit(1)
	}
}

// NewCommand returns the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dmp40",
		Short: "dmp40 relaxes a Thorlabs DMP40 deformable mirror and applies a Zernike pattern",
		Long: `dmp40 relaxes a Thorlabs DMP40 deformable mirror and applies a Zernike pattern.

It finds the first attached mirror, connects to it, runs the driver's relax
procedure until no steps remain, then applies a single Zernike pattern.  serve
keeps the session open and exposes it over HTTP instead.

Settings are read from dmp40.yml, then DMP40_ environment variables, then
flags.  mkconf writes the current settings to the file as a starting point.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_, c, err := loadConfig(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			cfg = c
			return setupLogger(cfg.LogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", ConfigFileName, "config file")
	cmd.PersistentFlags().Bool("mock", false, "use an in-memory DMP40 instead of the vendor drivers")
	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		NewRunCommand(),
		NewServeCommand(),
		NewMkconfCommand(),
		NewConfCommand(),
		NewVersionCommand(),
	)
	return cmd
}

// NewRunCommand returns the command that performs the bring-up sequence
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Relax the mirror and apply the example pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			drv, err := openDriver(cfg)
			if err != nil {
				return err
			}
			var rep dmp40.Reporter = dmp40.NewTextReporter(cmd.OutOrStdout())
			if cfg.Spinner && term.IsTerminal(int(os.Stdout.Fd())) {
				sr, err := dmp40.NewSpinnerReporter(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				rep = sr
			}
			ctx, cancel := signalContext()
			defer cancel()
			err = dmp40.Run(ctx, drv, cfg.Sequence, rep)
			if err != nil {
				logrus.WithError(err).Error("sequence failed")
			}
			return err
		},
	}
	cmd.Flags().Float64("amplitude", 0, "zernike amplitude, -1 to 1; 0.99 gives a clearly visible pattern")
	cmd.Flags().Uint32("zernike", uint32(dfm.Defocus), "zernike mode flag, bit 0 (1) through bit 11 (2048)")
	cmd.Flags().String("part", dfm.PartBoth.String(), "actuators to relax: mirror, arms, both")
	cmd.Flags().Int("max-steps", 1000, "give up relaxing after this many steps, 0 for no limit")
	cmd.Flags().Bool("spinner", false, "show relaxation as a spinner")
	cmd.Flags().String("fits", "", "write the final voltages to this FITS file")
	return cmd
}

// NewVersionCommand returns the command that prints the version
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("dmp40 version %s\n", Version)
		},
	}
}
