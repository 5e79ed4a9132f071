package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suraboy/weather-insight/internal/tools"
)

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().Bool("json", false, "print the manifest as sent to the model")
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Show the capabilities offered to the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := tools.NewRegistry(tools.Builtin()...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(registry.AsLLMTools())
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tPARAMETERS\tDESCRIPTION")
		for _, s := range registry.Describe() {
			params := make([]string, len(s.Params))
			for i, p := range s.Params {
				params[i] = p.Name
				if len(p.Enum) > 0 {
					params[i] += "=" + strings.Join(p.Enum, "|")
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, strings.Join(params, ", "), s.Description)
		}
		return w.Flush()
	},
}
