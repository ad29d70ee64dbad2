package sdk

import (
	"encoding/json"
	"net/http"

	"github.com/peakml/gradient/runner"
)

const runnersEndpoint = "/runners"

func (sdk *gradSDK) GetRunner(id string) (runner.Runner, error) {
	url := sdk.managerURL + runnersEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return runner.Runner{}, err
	}

	var r runner.Runner
	if err := json.Unmarshal(body, &r); err != nil {
		return runner.Runner{}, err
	}

	return r, nil
}

func (sdk *gradSDK) ListRunners(offset, limit uint64) (runner.Page, error) {
	url := sdk.managerURL + runnersEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return runner.Page{}, err
	}

	var p runner.Page
	if err := json.Unmarshal(body, &p); err != nil {
		return runner.Page{}, err
	}

	return p, nil
}

func (sdk *gradSDK) DeleteRunner(id string) error {
	url := sdk.managerURL + runnersEndpoint + "/" + id

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}
