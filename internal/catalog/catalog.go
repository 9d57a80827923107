// Package catalog loads the static state, city-tier and city taxonomy that
// drives collection scope.
package catalog

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Tier is a city-size classification.
type Tier string

const (
	TierLarge  Tier = "large"
	TierMedium Tier = "medium"
	TierSmall  Tier = "small"

	// TierAll selects every catalog tier.
	TierAll Tier = "all"
	// TierManual selects a single geocoded city outside the catalog.
	TierManual Tier = "manual"
)

// AllState selects every state in the catalog.
const AllState = "ALL"

// Tiers lists the catalog tiers in walk order.
var Tiers = []Tier{TierLarge, TierMedium, TierSmall}

var (
	// ErrUnknownState is returned when a specific state is not in the catalog.
	ErrUnknownState = eris.New("catalog: unknown state")
	// ErrUnknownTier is returned for tiers outside large/medium/small/all.
	ErrUnknownTier = eris.New("catalog: unknown tier")
)

// ParseTier validates s. Empty input means TierAll.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "":
		return TierAll, nil
	case TierLarge, TierMedium, TierSmall, TierAll, TierManual:
		return t, nil
	default:
		return "", eris.Wrapf(ErrUnknownTier, "tier %q", s)
	}
}

// City is a catalog entry.
type City struct {
	Name string  `yaml:"city" json:"city"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lng  float64 `yaml:"lng" json:"lng"`
}

// Location is one (state, tier, city) triple produced by Expand.
type Location struct {
	State string
	Tier  Tier
	City  City
}

// Scope selects the part of the catalog to walk.
type Scope struct {
	State string // state code or AllState; empty means AllState
	Tier  Tier   // large, medium, small or all; empty means all
	City  string // optional exact city name, case-insensitive
}

// Catalog is an immutable state -> tier -> cities mapping.
type Catalog struct {
	states map[string]map[Tier][]City
	codes  []string
}

// Load reads and parses a catalog file. JSON and YAML are both accepted.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes catalog data.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]map[string][]City
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	c := &Catalog{states: make(map[string]map[Tier][]City, len(raw))}
	for code, tiers := range raw {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		m := make(map[Tier][]City, len(tiers))
		for name, cities := range tiers {
			tier := Tier(strings.ToLower(name))
			if !isCatalogTier(tier) {
				return nil, eris.Wrapf(ErrUnknownTier, "state %s tier %q", code, name)
			}
			m[tier] = cities
		}
		c.states[code] = m
		c.codes = append(c.codes, code)
	}
	sort.Strings(c.codes)
	return c, nil
}

func isCatalogTier(t Tier) bool {
	return t == TierLarge || t == TierMedium || t == TierSmall
}

// States returns the sorted state codes.
func (c *Catalog) States() []string {
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out
}

// HasState reports whether code is in the catalog.
func (c *Catalog) HasState(code string) bool {
	_, ok := c.states[strings.ToUpper(code)]
	return ok
}

// Cities returns the cities of one state and tier.
func (c *Catalog) Cities(state string, tier Tier) []City {
	return c.states[strings.ToUpper(state)][tier]
}

// Expand resolves a scope into the ordered list of locations to visit.
func (c *Catalog) Expand(s Scope) ([]Location, error) {
	states, err := c.selectStates(s.State)
	if err != nil {
		return nil, err
	}
	tiers, err := selectTiers(s.Tier)
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	want := fold.String(strings.TrimSpace(s.City))

	var out []Location
	for _, code := range states {
		for _, tier := range tiers {
			for _, city := range c.states[code][tier] {
				if want != "" && fold.String(city.Name) != want {
					continue
				}
				out = append(out, Location{State: code, Tier: tier, City: city})
			}
		}
	}
	return out, nil
}

// CityNames returns the names of every city in tier across the selected
// state (or all states).
func (c *Catalog) CityNames(state string, tier Tier) ([]string, error) {
	states, err := c.selectStates(state)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, code := range states {
		for _, city := range c.states[code][tier] {
			names = append(names, city.Name)
		}
	}
	return names, nil
}

func (c *Catalog) selectStates(state string) ([]string, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" || state == AllState {
		return c.codes, nil
	}
	if _, ok := c.states[state]; !ok {
		return nil, eris.Wrapf(ErrUnknownState, "state '%s' not found in catalog", state)
	}
	return []string{state}, nil
}

func selectTiers(t Tier) ([]Tier, error) {
	switch t {
	case "", TierAll:
		return Tiers, nil
	case TierLarge, TierMedium, TierSmall:
		return []Tier{t}, nil
	default:
		return nil, eris.Wrapf(ErrUnknownTier, "tier %q cannot be expanded", t)
	}
}
