// Package k8s launches experiments on a Kubernetes cluster instead of the
// MQTT runner fleet: one single-replica Deployment plus Service per cluster
// task, with peers addressed through service DNS names.
package k8s

import (
	"context"
	"fmt"
	"log/slog"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
)

type Launcher struct {
	clientset kubernetes.Interface
	namespace string
	logger    *slog.Logger
}

// NewLauncher connects to the cluster named by kubeconfigPath, or via the
// in-cluster service account when the path is empty.
func NewLauncher(kubeconfigPath, namespace string, logger *slog.Logger) (*Launcher, error) {
	var (
		config *rest.Config
		err    error
	)
	if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		config, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return NewLauncherWithClientset(clientset, namespace, logger), nil
}

func NewLauncherWithClientset(clientset kubernetes.Interface, namespace string, logger *slog.Logger) *Launcher {
	return &Launcher{
		clientset: clientset,
		namespace: namespace,
		logger:    logger,
	}
}

// ClusterSpec allocates the experiment's cluster addresses as service DNS
// names. Every task gets its own service, so every host gets the base port.
func (l *Launcher) ClusterSpec(exp experiment.Experiment) (cluster.Spec, error) {
	hosts := make(map[cluster.Role][]string)
	for _, replica := range exp.Replicas {
		for i := range replica.Count {
			t := cluster.Task{Role: replica.Role, Index: i}
			hosts[replica.Role] = append(hosts[replica.Role], deploymentName(exp.ID, t))
		}
	}

	return cluster.Build(hosts, exp.BasePort)
}

// Launch creates the Deployments and Services for every task of the
// experiment and returns the cluster spec they were wired with.
func (l *Launcher) Launch(ctx context.Context, exp experiment.Experiment) (cluster.Spec, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	spec, err := l.ClusterSpec(exp)
	if err != nil {
		return nil, err
	}

	for _, t := range spec.Tasks() {
		deployment, err := BuildTaskDeployment(exp, t, spec)
		if err != nil {
			return nil, err
		}
		service, err := BuildTaskService(exp, t, spec)
		if err != nil {
			return nil, err
		}

		if _, err := l.clientset.AppsV1().Deployments(l.namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create deployment %s: %w", deployment.Name, err)
		}
		if _, err := l.clientset.CoreV1().Services(l.namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create service %s: %w", service.Name, err)
		}

		l.logger.InfoContext(ctx, "launched task",
			slog.String("experiment_id", exp.ID),
			slog.String("deployment", deployment.Name))
	}

	return spec, nil
}

// Teardown removes everything Launch created for the experiment.
func (l *Launcher) Teardown(ctx context.Context, exp experiment.Experiment) error {
	selector := fmt.Sprintf("%s=%s", experimentLabel, shortID(exp.ID))

	deployments, err := l.clientset.AppsV1().Deployments(l.namespace).List(ctx,
		metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, d := range deployments.Items {
		if err := l.clientset.AppsV1().Deployments(l.namespace).Delete(ctx, d.Name, metav1.DeleteOptions{}); err != nil {
			return fmt.Errorf("failed to delete deployment %s: %w", d.Name, err)
		}
	}

	services, err := l.clientset.CoreV1().Services(l.namespace).List(ctx,
		metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}
	for _, svc := range services.Items {
		if err := l.clientset.CoreV1().Services(l.namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{}); err != nil {
			return fmt.Errorf("failed to delete service %s: %w", svc.Name, err)
		}
	}

	return nil
}
