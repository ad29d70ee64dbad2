package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/peakml/gradient/gradientd"
	"github.com/peakml/gradient/pkg/sdk"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gradientd",
		Short: "Gradient Daemon",
		Long:  `Gradient Daemon is a daemon that manages the lifecycle of Gradient components.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			sdkConf := sdk.Config{
				ManagerURL:      gradientd.DefManagerURL,
				TLSVerification: gradientd.DefTLSVerification,
			}
			s := sdk.NewSDK(sdkConf)
			gradientd.SetSDK(s)
		},
	}

	managerCmd := gradientd.NewManagerCmd()
	runnerCmd := gradientd.NewRunnerCmd()
	experimentsCmd := gradientd.NewExperimentsCmd()

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(runnerCmd)
	rootCmd.AddCommand(experimentsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
