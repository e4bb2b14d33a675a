package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spamsch/son-of-simon-sub001/protocol"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [type]",
	Short: "Print the JSON schema of the agent wire protocol",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemas, err := protocol.Schemas()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			s, ok := schemas[args[0]]
			if !ok {
				return fmt.Errorf("unknown event type %q (known: %v)", args[0], sortedKeys(schemas))
			}
			_, err := fmt.Fprintln(out, string(s))
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
