package collector

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/model"
)

// Request is one collection invocation.
type Request struct {
	UserID  string       `json:"user_id"`
	Keyword string       `json:"keyword"`
	State   string       `json:"state,omitempty"`
	Tier    catalog.Tier `json:"tier,omitempty"`
	City    string       `json:"city,omitempty"`
}

// Normalize trims and defaults the request: an empty state is ALL and an
// empty tier is all. A manual tier needs a city and a specific state.
func (r Request) Normalize() (Request, error) {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Keyword = strings.TrimSpace(r.Keyword)
	r.City = strings.TrimSpace(r.City)
	r.State = strings.ToUpper(strings.TrimSpace(r.State))
	if r.State == "" {
		r.State = catalog.AllState
	}

	tier, err := catalog.ParseTier(string(r.Tier))
	if err != nil {
		return r, scopeErr(err, "unknown tier %q", r.Tier)
	}
	r.Tier = tier

	if r.UserID == "" {
		return r, eris.New("collector: user id is required")
	}
	if r.Keyword == "" {
		return r, eris.New("collector: keyword is required")
	}
	if r.Tier == catalog.TierManual {
		if r.City == "" {
			return r, scopeErr(nil, "manual tier requires a city")
		}
		if r.State == catalog.AllState {
			return r, scopeErr(nil, "manual tier requires a specific state")
		}
	}
	return r, nil
}

// Params is the snapshot stored on the job run.
func (r Request) Params() model.RunParams {
	return model.RunParams{
		Keyword:  r.Keyword,
		State:    r.State,
		CityType: string(r.Tier),
		CityName: r.City,
	}
}
