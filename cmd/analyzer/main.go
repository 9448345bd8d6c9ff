// Command apidocs-analyzer prints the REST endpoints of a Django project as
// a JSON array of endpoint descriptors. It is the default analyzer the
// server runs against each working copy.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dpolishuk/apidocs/internal/django"
)

var (
	exclude  []string
	pretty   bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "apidocs-analyzer <path>",
	Short:         "Print the REST endpoints of a Django project as JSON",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringSliceVar(&exclude, "exclude", django.DefaultExclude, "glob patterns of files to skip, relative to <path>")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level for diagnostics on stderr")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, root string, out io.Writer) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	descs, err := django.NewScanner(exclude, logger).Scan(ctx, root)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(descs)
}

// newLogger writes to stderr; stdout carries only the descriptor array.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).With(zap.String("service", "apidocs-analyzer")), nil
}
