package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/healthetl/pkg/config"
	"github.com/ajitpratap0/healthetl/pkg/connector/registry"
)

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration that convert would use, after merging the defaults,
the --config file and HEALTHETL_ environment variables.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(viper.New(), path)
			if err != nil {
				return err
			}
			data, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available extractors, encoders and output formats",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tNAME\tEXTENSIONS\tDESCRIPTION")
			for _, info := range registry.GetRegistry().List() {
				exts := strings.Join(info.Extensions, ",")
				if exts == "" {
					exts = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Type, info.Name, exts, info.Description)
			}
			return tw.Flush()
		},
	}
}
