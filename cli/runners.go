package cli

import (
	"github.com/spf13/cobra"
)

func NewRunnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runners [view|list|delete]",
		Short: "Runners manager",
		Long:  `View, list and delete registered runners.`,
	}

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View runner",
		Long:  `View runner.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := gsdk.GetRunner(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, r)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runners",
		Long:  `List registered runners.`,
		Run: func(cmd *cobra.Command, args []string) {
			page, err := gsdk.ListRunners(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete runner",
		Long:  `Remove a runner from the registry.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := gsdk.DeleteRunner(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(viewCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(deleteCmd)

	cmd.PersistentFlags().Uint64VarP(
		&defOffset,
		"offset",
		"o",
		defOffset,
		"Offset",
	)

	cmd.PersistentFlags().Uint64VarP(
		&defLimit,
		"limit",
		"l",
		defLimit,
		"Limit",
	)

	return cmd
}
