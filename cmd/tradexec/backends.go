package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBackendsCmd(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List execution backends and the one that would be selected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry(state.cfg, state.logger)
			if err != nil {
				return err
			}
			defer closeWithLog(state.logger, "backends", registry)

			selected := "none"
			if backend, err := registry.Select(state.cfg.Backend.Preference); err == nil {
				selected = backend.Name()
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tAVAILABLE\tPRIORITY\tPREEMPTIVE\tISOLATED\tSELECTED")
			for _, info := range registry.Backends() {
				fmt.Fprintf(w, "%s\t%t\t%d\t%t\t%t\t%t\n",
					info.Name,
					info.Available,
					info.Capabilities.Priority,
					info.Capabilities.PreemptiveCancel,
					info.Capabilities.ProcessIsolation,
					info.Name == selected,
				)
			}
			return w.Flush()
		},
	}
}
