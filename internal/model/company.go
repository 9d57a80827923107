package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// FieldTag identifies a mutable Company field by its fixed position in the
// change-tracking order.
type FieldTag int

const (
	FieldPhone   FieldTag = 1
	FieldWebsite FieldTag = 2
	FieldRating  FieldTag = 3
)

func (f FieldTag) String() string {
	switch f {
	case FieldPhone:
		return "phone"
	case FieldWebsite:
		return "website"
	case FieldRating:
		return "rating"
	default:
		return "unknown"
	}
}

// ChangeMarker records which fields changed on the last update and when.
type ChangeMarker struct {
	Fields []FieldTag `json:"changed_fields"`
	At     time.Time  `json:"at"`
}

// Has reports whether tag is among the changed fields.
func (m *ChangeMarker) Has(tag FieldTag) bool {
	if m == nil {
		return false
	}
	for _, f := range m.Fields {
		if f == tag {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer so markers are stored as JSON text.
func (m *ChangeMarker) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal change marker")
	}
	return string(b), nil
}

// ParseChangeMarker decodes a stored marker. Empty input yields nil.
func ParseChangeMarker(raw []byte) (*ChangeMarker, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m ChangeMarker
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "model: unmarshal change marker")
	}
	return &m, nil
}

// Company is a place collected from the search API, unique by PlaceID.
type Company struct {
	PlaceID   string        `json:"place_id"`
	Name      *string       `json:"name,omitempty"`
	Address   *string       `json:"address,omitempty"`
	Phone     *string       `json:"phone,omitempty"`
	Website   *string       `json:"website,omitempty"`
	Rating    *float64      `json:"rating,omitempty"`
	Lat       float64       `json:"lat"`
	Lng       float64       `json:"lng"`
	Keyword   string        `json:"keyword"`
	State     string        `json:"state"`
	FetchedAt time.Time     `json:"fetched_at"`
	UpdatedAt *ChangeMarker `json:"updated_at,omitempty"`
}

// PlaceRecord is a normalized place returned by the lookup client and fed to
// the upsert engine.
type PlaceRecord struct {
	PlaceID string
	Name    *string
	Address *string
	Phone   *string
	Website *string
	Rating  *float64
	Lat     float64
	Lng     float64
	Keyword string
	State   string
}

// NewCompany builds the row inserted for a place seen for the first time.
func NewCompany(rec PlaceRecord, fetchedAt time.Time) Company {
	return Company{
		PlaceID:   rec.PlaceID,
		Name:      rec.Name,
		Address:   rec.Address,
		Phone:     rec.Phone,
		Website:   rec.Website,
		Rating:    rec.Rating,
		Lat:       rec.Lat,
		Lng:       rec.Lng,
		Keyword:   rec.Keyword,
		State:     rec.State,
		FetchedAt: fetchedAt,
	}
}

// Diff applies the mutable fields of rec to c, in phone, website, rating
// order, and returns the tags of the fields whose values differed.
func (c *Company) Diff(rec PlaceRecord) []FieldTag {
	var changed []FieldTag
	if !equalString(c.Phone, rec.Phone) {
		c.Phone = rec.Phone
		changed = append(changed, FieldPhone)
	}
	if !equalString(c.Website, rec.Website) {
		c.Website = rec.Website
		changed = append(changed, FieldWebsite)
	}
	if !equalFloat(c.Rating, rec.Rating) {
		c.Rating = rec.Rating
		changed = append(changed, FieldRating)
	}
	return changed
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
