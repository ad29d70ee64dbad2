package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/peakml/gradient/experiment"
)

const experimentsEndpoint = "/experiments"

func (sdk *gradSDK) CreateExperiment(exp experiment.Experiment) (experiment.Experiment, error) {
	data, err := json.Marshal(exp)
	if err != nil {
		return experiment.Experiment{}, err
	}

	url := sdk.managerURL + experimentsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return experiment.Experiment{}, err
	}

	var e experiment.Experiment
	if err := json.Unmarshal(body, &e); err != nil {
		return experiment.Experiment{}, err
	}

	return e, nil
}

func (sdk *gradSDK) GetExperiment(id string) (experiment.Experiment, error) {
	url := sdk.managerURL + experimentsEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return experiment.Experiment{}, err
	}

	var e experiment.Experiment
	if err := json.Unmarshal(body, &e); err != nil {
		return experiment.Experiment{}, err
	}

	return e, nil
}

func (sdk *gradSDK) ListExperiments(offset, limit uint64) (experiment.Page, error) {
	url := sdk.managerURL + experimentsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return experiment.Page{}, err
	}

	var p experiment.Page
	if err := json.Unmarshal(body, &p); err != nil {
		return experiment.Page{}, err
	}

	return p, nil
}

func (sdk *gradSDK) UpdateExperiment(exp experiment.Experiment) (experiment.Experiment, error) {
	data, err := json.Marshal(exp)
	if err != nil {
		return experiment.Experiment{}, err
	}
	url := sdk.managerURL + experimentsEndpoint + "/" + exp.ID

	body, err := sdk.processRequest(http.MethodPut, url, data, http.StatusOK)
	if err != nil {
		return experiment.Experiment{}, err
	}

	var e experiment.Experiment
	if err := json.Unmarshal(body, &e); err != nil {
		return experiment.Experiment{}, err
	}

	return e, nil
}

func (sdk *gradSDK) DeleteExperiment(id string) error {
	url := sdk.managerURL + experimentsEndpoint + "/" + id

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}

func (sdk *gradSDK) StartExperiment(id string) error {
	url := fmt.Sprintf("%s%s/%s/start", sdk.managerURL, experimentsEndpoint, id)

	if _, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusOK); err != nil {
		return err
	}

	return nil
}

func (sdk *gradSDK) StopExperiment(id string) error {
	url := fmt.Sprintf("%s%s/%s/stop", sdk.managerURL, experimentsEndpoint, id)

	if _, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusOK); err != nil {
		return err
	}

	return nil
}

func (sdk *gradSDK) GetResults(id string) (map[string]any, error) {
	url := fmt.Sprintf("%s%s/%s/results", sdk.managerURL, experimentsEndpoint, id)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var r struct {
		Results map[string]any `json:"results"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}

	return r.Results, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
