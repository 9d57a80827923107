package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// RunParams is the snapshot of the filters a collection was invoked with.
type RunParams struct {
	Keyword  string `json:"keyword"`
	State    string `json:"state"`
	CityType string `json:"city_type"`
	CityName string `json:"city_name,omitempty"`
}

// JobRun is one collection invocation on behalf of a user.
type JobRun struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Params     RunParams  `json:"params"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Companies is the number of linked companies, filled in by store reads.
	Companies int `json:"companies,omitempty"`
}

// Finished reports whether the run has been stamped as ended.
func (r *JobRun) Finished() bool {
	return r.FinishedAt != nil
}

// MarshalParams encodes run params for storage.
func MarshalParams(p RunParams) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal run params")
	}
	return b, nil
}

// UnmarshalParams decodes stored run params.
func UnmarshalParams(raw []byte) (RunParams, error) {
	var p RunParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, eris.Wrap(err, "model: unmarshal run params")
	}
	return p, nil
}
