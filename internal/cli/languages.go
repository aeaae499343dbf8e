package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the registered languages and their availability",
	Args:  cobra.NoArgs,
	RunE:  runLanguages,
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func runLanguages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := buildRegistry(cfg, newLogger())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tSTRATEGY\tAVAILABLE")
	for _, name := range reg.Languages() {
		fmt.Fprintf(w, "%s\t%s\t%v\n", name, reg.Strategy(name), reg.Available(name))
	}
	return w.Flush()
}
