package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	wearables "github.com/goliatone/go-wearables"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/terra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the fitness providers this build supports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		cache := terra.NewMemoryCache(terra.CacheConfigFrom(cfg.WebhookCache))
		registry, err := wearables.NewBuiltinRegistry(cfg, providers.NewShared(cfg), cache)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "NAME\tDISPLAY NAME\tPKCE\tPUSH\tCAPABILITIES")
		for _, name := range registry.SupportedProviders() {
			descriptor, ok := registry.Descriptor(name)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
				descriptor.Name,
				descriptor.DisplayName,
				descriptor.UsePKCE,
				descriptor.Push,
				strings.Join(descriptor.Capabilities.Names(), ","),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
