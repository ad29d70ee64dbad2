package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/pkg/sdk"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

var gsdk sdk.SDK

func SetGradientSDK(s sdk.SDK) {
	gsdk = s
}

var (
	submitProject    string
	submitImage      string
	submitPackageURL string
	submitModelDir   string
	submitCommand    string
	submitArgs       []string
	submitEnv        []string
	submitWorkers    int
	submitPSCount    int
	submitEvaluators int
	submitChief      bool
	submitWorkerType string
	submitPSType     string
	submitNoStart    bool
)

func NewExperimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiments [create|view|list|update|delete|start|stop|results|submit]",
		Short: "Experiments manager",
		Long:  `Create, view, list, update, delete, start and stop training experiments.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create experiment",
		Long: `Create an experiment from flags without starting it.

Examples:
  # Two data-parallel workers sharing one parameter server
  gradient-cli experiments create mnist --image=registry.local/trainer:v1 \
    --worker-count=2 --ps-count=1 --command=python --args=train.py`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := buildExperiment(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			exp, err = gsdk.CreateExperiment(exp)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, exp)
		},
	}
	addSubmitFlags(createCmd)

	submitCmd := &cobra.Command{
		Use:   "submit <name>",
		Short: "Submit experiment",
		Long: `Create an experiment and start it right away, the way a managed
training job is submitted.

Examples:
  gradient-cli experiments submit mnist --image=registry.local/trainer:v1 \
    --worker-count=8 --ps-count=3 --worker-machine-type=n1-standard-16 \
    --command=python --args=train.py --env=EPOCHS=10 \
    --model-dir=/srv/models/mnist`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := buildExperiment(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			exp, err = gsdk.CreateExperiment(exp)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if !submitNoStart {
				if err := gsdk.StartExperiment(exp.ID); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				exp, err = gsdk.GetExperiment(exp.ID)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
			}
			logJSONCmd(*cmd, exp)
		},
	}
	addSubmitFlags(submitCmd)
	submitCmd.Flags().BoolVar(
		&submitNoStart,
		"no-start",
		false,
		"Create the experiment without starting it",
	)

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View experiment",
		Long:  `View experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := gsdk.GetExperiment(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, exp)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Long:  `List experiments.`,
		Run: func(cmd *cobra.Command, _ []string) {
			page, err := gsdk.ListExperiments(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete experiment",
		Long:  `Delete experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := gsdk.DeleteExperiment(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start experiment",
		Long:  `Start experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := gsdk.StartExperiment(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop experiment",
		Long:  `Stop experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := gsdk.StopExperiment(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	resultsCmd := &cobra.Command{
		Use:   "results <id>",
		Short: "View experiment results",
		Long:  `View the per-task results of an experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			results, err := gsdk.GetResults(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, results)
		},
	}

	cmd.AddCommand(createCmd)
	cmd.AddCommand(submitCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(listCmd)
	cmd.AddCommand(deleteCmd)
	cmd.AddCommand(startCmd)
	cmd.AddCommand(stopCmd)
	cmd.AddCommand(resultsCmd)

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

func addSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&submitProject, "project", "", "Project the experiment belongs to")
	cmd.Flags().StringVar(&submitImage, "image", "", "Container image with the training program")
	cmd.Flags().StringVar(&submitPackageURL, "package-url", "", "OCI artifact holding the training program")
	cmd.Flags().StringVar(&submitModelDir, "model-dir", "", "Directory for checkpoints and the exported model")
	cmd.Flags().StringVar(&submitCommand, "command", "", "Command that starts the training process")
	cmd.Flags().StringSliceVar(&submitArgs, "args", nil, "Arguments for the training command (comma-separated)")
	cmd.Flags().StringSliceVar(&submitEnv, "env", nil, "Extra environment as KEY=VALUE pairs (comma-separated)")
	cmd.Flags().IntVar(&submitWorkers, "worker-count", 1, "Number of worker replicas")
	cmd.Flags().IntVar(&submitPSCount, "ps-count", 0, "Number of parameter server replicas")
	cmd.Flags().IntVar(&submitEvaluators, "evaluator-count", 0, "Number of evaluator replicas")
	cmd.Flags().BoolVar(&submitChief, "chief", false, "Dedicate one replica as the chief")
	cmd.Flags().StringVar(&submitWorkerType, "worker-machine-type", "", "Machine type for workers (and the chief)")
	cmd.Flags().StringVar(&submitPSType, "ps-machine-type", "", "Machine type for parameter servers")
}

func buildExperiment(name string) (experiment.Experiment, error) {
	env, err := parseEnv(submitEnv)
	if err != nil {
		return experiment.Experiment{}, err
	}

	replica := func(role cluster.Role, count int, machineType string) experiment.ReplicaSpec {
		return experiment.ReplicaSpec{
			Role:        role,
			Count:       count,
			Image:       submitImage,
			MachineType: machineType,
			Command:     submitCommand,
			Args:        submitArgs,
			Env:         env,
		}
	}

	replicas := make([]experiment.ReplicaSpec, 0, 4)
	if submitChief {
		replicas = append(replicas, replica(cluster.Chief, 1, submitWorkerType))
	}
	if submitWorkers > 0 {
		replicas = append(replicas, replica(cluster.Worker, submitWorkers, submitWorkerType))
	}
	if submitPSCount > 0 {
		replicas = append(replicas, replica(cluster.PS, submitPSCount, submitPSType))
	}
	if submitEvaluators > 0 {
		replicas = append(replicas, replica(cluster.Evaluator, submitEvaluators, submitWorkerType))
	}

	return experiment.Experiment{
		Name:       name,
		Project:    submitProject,
		Replicas:   replicas,
		PackageURL: submitPackageURL,
		ModelDir:   submitModelDir,
	}, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env pair %q, want KEY=VALUE", pair)
		}
		env[k] = v
	}

	return env, nil
}
