package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/peakml/gradient/cli"
	"github.com/peakml/gradient/gradientd"
	"github.com/peakml/gradient/pkg/sdk"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gradient-cli",
		Short: "Gradient CLI",
		Long:  `Gradient CLI is a command line interface for interacting with Gradient components.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				ManagerURL:      gradientd.DefManagerURL,
				TLSVerification: gradientd.DefTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			cli.SetGradientSDK(s)
		},
	}

	experimentsCmd := cli.NewExperimentsCmd()
	runnersCmd := cli.NewRunnersCmd()
	provisionCmd := cli.NewProvisionCmd()

	rootCmd.AddCommand(experimentsCmd)
	rootCmd.AddCommand(runnersCmd)
	rootCmd.AddCommand(provisionCmd)

	rootCmd.PersistentFlags().StringVarP(
		&gradientd.DefManagerURL,
		"manager-url",
		"m",
		gradientd.DefManagerURL,
		"Manager URL",
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
