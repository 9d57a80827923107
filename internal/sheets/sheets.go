// Package sheets projects stored companies into a user-owned spreadsheet,
// either overwriting it or appending below existing content, and highlights
// cells whose values changed on the last update.
package sheets

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/places-cli/internal/model"
)

// ErrNoSpreadsheet is returned when an export has no destination. Export
// never creates one; spreadsheets are created at user registration.
var ErrNoSpreadsheet = eris.New("sheets: no spreadsheet")

// Headers is the fixed export column order.
var Headers = []string{
	"Place Id", "Name", "Address", "Phone", "Website", "Rating",
	"Lat", "Lng", "Keyword", "State", "Fetched At", "Updated At",
}

// Cell is a zero-based grid position.
type Cell struct {
	Row int
	Col int
}

// Backend is a spreadsheet destination. Rows are 1-based sheet rows. Clear
// drops highlight fill along with values.
type Backend interface {
	Create(ctx context.Context, title string) (string, error)
	RowCount(ctx context.Context, id string) (int, error)
	Clear(ctx context.Context, id string) error
	Write(ctx context.Context, id string, startRow int, rows [][]string) error
	Highlight(ctx context.Context, id string, cells []Cell) error
	Share(ctx context.Context, id, email string) error
	URL(id string) string
}

// ColumnFor returns the zero-based export column of a changed-field tag.
func ColumnFor(tag model.FieldTag) int {
	return 2 + int(tag)
}

// Row renders one company in Headers order. Nil fields are empty cells.
func Row(c model.Company) []string {
	updated := ""
	if c.UpdatedAt != nil {
		updated = formatTime(c.UpdatedAt.At)
	}
	return []string{
		c.PlaceID,
		model.Deref(c.Name),
		model.Deref(c.Address),
		model.Deref(c.Phone),
		model.Deref(c.Website),
		formatFloat(c.Rating),
		strconv.FormatFloat(c.Lat, 'f', -1, 64),
		strconv.FormatFloat(c.Lng, 'f', -1, 64),
		c.Keyword,
		c.State,
		formatTime(c.FetchedAt),
		updated,
	}
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
