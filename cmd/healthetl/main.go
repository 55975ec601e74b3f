// Command healthetl converts an Apple Health export into one delimited-text
// table per record type, packed into a single archive.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/logger"

	_ "github.com/ajitpratap0/healthetl/pkg/connector/destinations"
	_ "github.com/ajitpratap0/healthetl/pkg/connector/sources"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	_ = logger.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "healthetl: %v\n", err)
	}
	os.Exit(etlerrors.ExitCode(err))
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "healthetl",
		Short: "healthetl - streaming Apple Health export converter",
		Long: `healthetl extracts every element of an Apple Health export.xml, groups the
records by HealthKit type, orders each group by date and writes one CSV table per
type into a zip, tar.zst or tar.lz4 archive.

The input may be the bare export.xml, the export.zip produced by the Health app,
or a gzip, zstd or lz4 compressed export.xml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid flags")
	})
	root.PersistentFlags().String("config", "", "YAML configuration file")

	root.AddCommand(
		newConvertCommand(),
		newConfigCommand(),
		newListCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "healthetl v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

// exactArgs is cobra.ExactArgs with a configuration error, so a usage
// mistake exits with the configuration status.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "usage: "+cmd.UseLine())
		}
		return nil
	}
}
