package api

import (
	apiutil "github.com/absmach/supermq/api/http/util"

	"github.com/peakml/gradient/experiment"
)

type experimentReq struct {
	experiment.Experiment `json:",inline"`
}

func (e *experimentReq) validate() error {
	return e.Experiment.Validate()
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	return nil
}
