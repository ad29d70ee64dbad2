// Package sdk is the HTTP client for the gradient manager API.
package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/runner"
)

const CTJSON string = "application/json"

type SDK interface {
	// CreateExperiment submits a new experiment.
	//
	// example:
	//  exp := experiment.Experiment{
	//    Name: "mnist-distributed",
	//    Replicas: []experiment.ReplicaSpec{
	//      {Role: cluster.Worker, Count: 2, Image: "registry.local/trainer:v1"},
	//    },
	//  }
	//  exp, _ := sdk.CreateExperiment(exp)
	//  fmt.Println(exp)
	CreateExperiment(exp experiment.Experiment) (experiment.Experiment, error)

	// GetExperiment gets an experiment by id.
	//
	// example:
	//  exp, _ := sdk.GetExperiment("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(exp)
	GetExperiment(id string) (experiment.Experiment, error)

	// ListExperiments lists experiments.
	//
	// example:
	//  page, _ := sdk.ListExperiments(0, 10)
	//  fmt.Println(page)
	ListExperiments(offset, limit uint64) (experiment.Page, error)

	// UpdateExperiment updates an experiment.
	UpdateExperiment(exp experiment.Experiment) (experiment.Experiment, error)

	// DeleteExperiment deletes an experiment.
	DeleteExperiment(id string) error

	// StartExperiment schedules and dispatches an experiment.
	//
	// example:
	//  _ = sdk.StartExperiment("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	StartExperiment(id string) error

	// StopExperiment cancels a running experiment.
	StopExperiment(id string) error

	// GetResults returns the per-task results of an experiment.
	GetResults(id string) (map[string]any, error)

	// GetRunner gets a runner by id.
	GetRunner(id string) (runner.Runner, error)

	// ListRunners lists registered runners.
	//
	// example:
	//  page, _ := sdk.ListRunners(0, 10)
	//  fmt.Println(page)
	ListRunners(offset, limit uint64) (runner.Page, error)

	// DeleteRunner removes a runner from the registry.
	DeleteRunner(id string) error
}

type gradSDK struct {
	managerURL string
	client     *http.Client
}

type Config struct {
	ManagerURL      string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &gradSDK{
		managerURL: cfg.ManagerURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *gradSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
