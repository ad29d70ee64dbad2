package k8s

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/peakml/gradient/cluster"
	"github.com/peakml/gradient/experiment"
)

const (
	experimentLabel  = "gradient/experiment"
	roleLabel        = "gradient/role"
	indexLabel       = "gradient/index"
	machineTypeLabel = "gradient/machine-type"

	containerName = "trainer"
)

func deploymentName(expID string, t cluster.Task) string {
	return fmt.Sprintf("gradient-%s-%s-%d", shortID(expID), string(t.Role), t.Index)
}

func shortID(expID string) string {
	if len(expID) > 8 {
		return expID[:8]
	}

	return expID
}

func taskLabels(expID string, t cluster.Task) map[string]string {
	return map[string]string{
		experimentLabel: shortID(expID),
		roleLabel:       string(t.Role),
		indexLabel:      fmt.Sprintf("%d", t.Index),
	}
}

// BuildTaskDeployment renders one cluster task as a single-replica
// Deployment. The training process finds its peers through GRADIENT_CONFIG.
func BuildTaskDeployment(exp experiment.Experiment, t cluster.Task, spec cluster.Spec) (*appsv1.Deployment, error) {
	replica, ok := exp.Replica(t.Role)
	if !ok {
		return nil, fmt.Errorf("no replica spec for role %q", string(t.Role))
	}

	rc := cluster.RunConfig{
		Cluster:     spec,
		Task:        t,
		Environment: exp.Environment,
	}
	encoded, err := rc.Encode()
	if err != nil {
		return nil, err
	}

	env := []corev1.EnvVar{
		{Name: cluster.ConfigEnvVar, Value: encoded},
	}
	if exp.ModelDir != "" {
		env = append(env, corev1.EnvVar{Name: cluster.ModelDirEnvVar, Value: exp.ModelDir})
	}
	for _, k := range sortedKeys(replica.Env) {
		env = append(env, corev1.EnvVar{Name: k, Value: replica.Env[k]})
	}

	port, err := taskPort(t, spec)
	if err != nil {
		return nil, err
	}

	var command []string
	if replica.Command != "" {
		command = []string{replica.Command}
	}

	labels := taskLabels(exp.ID, t)
	one := int32(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   deploymentName(exp.ID, t),
			Labels: labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &one,
			Selector: &metav1.LabelSelector{
				MatchLabels: labels,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:    containerName,
							Image:   replica.Image,
							Command: command,
							Args:    replica.Args,
							Env:     env,
							Ports: []corev1.ContainerPort{
								{ContainerPort: port},
							},
						},
					},
					RestartPolicy: corev1.RestartPolicyAlways,
				},
			},
		},
	}

	if replica.MachineType != "" {
		deployment.Spec.Template.Spec.NodeSelector = map[string]string{
			machineTypeLabel: replica.MachineType,
		}
		if requests, ok := machineResources(replica.MachineType); ok {
			deployment.Spec.Template.Spec.Containers[0].Resources = corev1.ResourceRequirements{
				Requests: requests,
			}
		}
	}

	return deployment, nil
}

// machineResources maps a machine type name of the form
// <family>-<class>-<cpus> to cpu and memory requests. Unknown classes get
// a node selector only.
func machineResources(machineType string) (corev1.ResourceList, bool) {
	parts := strings.Split(machineType, "-")
	if len(parts) != 3 {
		return nil, false
	}

	cpus, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || cpus <= 0 {
		return nil, false
	}

	var gibPerCPU int64
	switch parts[1] {
	case "standard":
		gibPerCPU = 4
	case "highmem":
		gibPerCPU = 8
	case "highcpu":
		gibPerCPU = 1
	default:
		return nil, false
	}

	return corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewQuantity(cpus, resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(cpus*gibPerCPU<<30, resource.BinarySI),
	}, true
}

// BuildTaskService exposes one task under the stable DNS name its peers
// have in their cluster spec.
func BuildTaskService(exp experiment.Experiment, t cluster.Task, spec cluster.Spec) (*corev1.Service, error) {
	port, err := taskPort(t, spec)
	if err != nil {
		return nil, err
	}

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   deploymentName(exp.ID, t),
			Labels: taskLabels(exp.ID, t),
		},
		Spec: corev1.ServiceSpec{
			Selector: taskLabels(exp.ID, t),
			Ports: []corev1.ServicePort{
				{
					Port:       port,
					TargetPort: intstr.FromInt32(port),
				},
			},
		},
	}, nil
}

func taskPort(t cluster.Task, spec cluster.Spec) (int32, error) {
	addr, err := t.Address(spec)
	if err != nil {
		return 0, err
	}
	_, port, err := cluster.SplitAddress(addr)
	if err != nil {
		return 0, err
	}

	return int32(port), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
