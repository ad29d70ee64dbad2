package gradientd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/pkg/sdk"
)

var (
	DefTLSVerification        = false
	DefManagerURL             = "http://localhost:7070"
	defOffset          uint64 = 0
	defLimit           uint64 = 10
)

var gsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	gsdk = s
}

var (
	createProject    string
	createImage      string
	createPackageURL string
	createModelDir   string
	createCommand    string
	createArgs       []string
	createEnv        []string
	createWorkers    int
	createPSCount    int
	createEvaluators int
	createChief      bool
	createWorkerType string
	createPSType     string
)

var experimentsCmd = []cobra.Command{
	{
		Use:   "create <name>",
		Short: "Create experiment",
		Long: `Create an experiment from flags without starting it.

Examples:
  gradientd experiments create mnist --image=registry.local/trainer:v1 \
    --worker-count=2 --ps-count=1 --command=python --args=train.py`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			exp, err := buildCreateExperiment(args[0])
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
	},
	{
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
	},
	{
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
	},
	{
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
	},
	{
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
	},
	{
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
	},
	{
		Use:   "results <id>",
		Short: "Experiment results",
		Long:  `Fetch per-task results of a finished experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			res, err := gsdk.GetResults(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, res)
		},
	},
}

func NewExperimentsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "experiments [create|view|list|delete|start|stop|results]",
		Short: "Experiments manager",
		Long:  `Create, view, list, delete, start and stop experiments.`,
	}

	for i := range experimentsCmd {
		cmd.AddCommand(&experimentsCmd[i])
	}

	create := &experimentsCmd[0]
	create.Flags().StringVar(&createProject, "project", "", "Project the experiment belongs to")
	create.Flags().StringVar(&createImage, "image", "", "Container image with the training program")
	create.Flags().StringVar(&createPackageURL, "package-url", "", "OCI artifact holding the training program")
	create.Flags().StringVar(&createModelDir, "model-dir", "", "Directory for checkpoints and the exported model")
	create.Flags().StringVar(&createCommand, "command", "", "Command that starts the training process")
	create.Flags().StringSliceVar(&createArgs, "args", nil, "Arguments for the training command (comma-separated)")
	create.Flags().StringSliceVar(&createEnv, "env", nil, "Extra environment as KEY=VALUE pairs (comma-separated)")
	create.Flags().IntVar(&createWorkers, "worker-count", 1, "Number of worker replicas")
	create.Flags().IntVar(&createPSCount, "ps-count", 0, "Number of parameter server replicas")
	create.Flags().IntVar(&createEvaluators, "evaluator-count", 0, "Number of evaluator replicas")
	create.Flags().BoolVar(&createChief, "chief", false, "Dedicate one replica as the chief")
	create.Flags().StringVar(&createWorkerType, "worker-machine-type", "", "Machine type for workers (and the chief)")
	create.Flags().StringVar(&createPSType, "ps-machine-type", "", "Machine type for parameter servers")

	cmd.PersistentFlags().StringVarP(
		&DefManagerURL,
		"manager-url",
		"m",
		DefManagerURL,
		"Manager URL",
	)

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

	cmd.PersistentFlags().BoolVarP(
		&DefTLSVerification,
		"tls-verification",
		"v",
		DefTLSVerification,
		"TLS Verification",
	)

	return &cmd
}

func buildCreateExperiment(name string) (experiment.Experiment, error) {
	env, err := parseCreateEnv(createEnv)
	if err != nil {
		return experiment.Experiment{}, err
	}

	replica := func(role cluster.Role, count int, machineType string) experiment.ReplicaSpec {
		return experiment.ReplicaSpec{
			Role:        role,
			Count:       count,
			Image:       createImage,
			MachineType: machineType,
			Command:     createCommand,
			Args:        createArgs,
			Env:         env,
		}
	}

	replicas := make([]experiment.ReplicaSpec, 0, 4)
	if createChief {
		replicas = append(replicas, replica(cluster.Chief, 1, createWorkerType))
	}
	if createWorkers > 0 {
		replicas = append(replicas, replica(cluster.Worker, createWorkers, createWorkerType))
	}
	if createPSCount > 0 {
		replicas = append(replicas, replica(cluster.PS, createPSCount, createPSType))
	}
	if createEvaluators > 0 {
		replicas = append(replicas, replica(cluster.Evaluator, createEvaluators, createWorkerType))
	}

	return experiment.Experiment{
		Name:       name,
		Project:    createProject,
		Replicas:   replicas,
		PackageURL: createPackageURL,
		ModelDir:   createModelDir,
	}, nil
}

func parseCreateEnv(pairs []string) (map[string]string, error) {
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
