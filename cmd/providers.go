package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Probe configured generative-text providers",
	Long: `Sends a minimal generation request to each configured provider and
reports which ones answered. The pipeline consults the same
availability when picking a provider at run time.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Gateway.Probe(ctx, probeTimeout())

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PROVIDER\tPRIMARY\tFALLBACK\tAVAILABLE")
		for _, d := range env.Gateway.Descriptors() {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
				d.ProviderID, d.PrimaryModel, d.FallbackModel, d.Available)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
