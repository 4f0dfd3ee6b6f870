package main

import (
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	yml "gopkg.in/yaml.v2"
)

func writeConf(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}

// NewMkconfCommand returns the command that writes the config file
func NewMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the current configuration to the config file",
		Long: `Write the current configuration to the config file.

The default amplitude of 0 leaves the mirror flat after relaxing; set
sequence.zernike_amplitude to 0.99 for a clearly visible pattern.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := os.Create(configPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err = writeConf(f, cfg); err != nil {
				return pkgerrors.Wrapf(err, "writing %s", configPath)
			}
			return f.Close()
		},
	}
}

// NewConfCommand returns the command that prints the configuration
func NewConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the configuration in effect",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeConf(cmd.OutOrStdout(), cfg)
		},
	}
}
