package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kmscap/internal/config"
	"kmscap/internal/logging"
	"kmscap/internal/monitor"
	"kmscap/internal/xwin"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
	display   string
)

var rootCmd = &cobra.Command{
	Use:           "kmscap",
	Short:         "Zero-copy KMS screen capture into VAAPI encoder surfaces",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List active outputs",
	RunE:  runMonitors,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kmscap v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/kmscap/kmscap.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().StringVar(&display, "display", "", "X display (default $DISPLAY)")

	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges file, env and the flags set on cmd, validates the result
// and configures logging from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func runMonitors(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conn, err := xwin.Open(cfg.Display)
	if err != nil {
		return err
	}
	defer conn.Close()

	outputs, err := conn.Outputs()
	if err != nil {
		return err
	}

	size := conn.ScreenSize()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tGEOMETRY\tROTATION\tCONNECTORS\n")
	fmt.Fprintf(w, "%s\t%dx%d+0+0\t-\t-\n", monitor.ScreenName, size.X, size.Y)
	for _, o := range outputs {
		ids := make([]string, len(o.ConnectorIDs))
		for i, id := range o.ConnectorIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(w, "%s\t%dx%d+%d+%d\t%s\t%s\n",
			o.Name, o.Size.X, o.Size.Y, o.Pos.X, o.Pos.Y, o.Rotation, strings.Join(ids, ","))
	}
	return w.Flush()
}
