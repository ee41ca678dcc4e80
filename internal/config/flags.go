package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "multimech <project>",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.IntP("port", "p", 0, "Serve the RPC control API on this port instead of running")
	flags.StringP("results", "r", "", "Re-process an existing results directory of the project")
	flags.StringP("bind-addr", "b", "localhost", "Address the RPC server binds to")
	flags.StringP("directory", "d", ".", "Directory containing the projects")
	flags.StringP("output", "o", "", "Directory to write results into")
	flags.StringP("configfile", "c", DefaultConfigFile, "Project configuration file name")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s [flags]\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("port") {
		val, err := fs.GetInt("port")
		if err != nil {
			return err
		}
		cfg.Port = val
	}
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"results", &cfg.ResultsDir},
		{"bind-addr", &cfg.BindAddr},
		{"directory", &cfg.ProjectsDir},
		{"output", &cfg.OutputDir},
		{"configfile", &cfg.ConfigFile},
		{"log-level", &cfg.LogLevel},
	}
	for _, sf := range stringFlags {
		if !fs.Changed(sf.name) {
			continue
		}
		val, err := fs.GetString(sf.name)
		if err != nil {
			return err
		}
		*sf.dst = strings.TrimSpace(val)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return nil
}
