package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
)

type writeCall struct {
	startRow int
	rows     [][]string
}

type fakeBackend struct {
	rowCount   int
	cleared    bool
	writes     []writeCall
	highlights []Cell
	shared     []string
	err        error
}

func (f *fakeBackend) Create(context.Context, string) (string, error) { return "new", f.err }
func (f *fakeBackend) RowCount(context.Context, string) (int, error)  { return f.rowCount, f.err }

func (f *fakeBackend) Clear(context.Context, string) error {
	f.cleared = true
	return f.err
}

func (f *fakeBackend) Write(_ context.Context, _ string, startRow int, rows [][]string) error {
	f.writes = append(f.writes, writeCall{startRow, rows})
	return f.err
}

func (f *fakeBackend) Highlight(_ context.Context, _ string, cells []Cell) error {
	f.highlights = append(f.highlights, cells...)
	return f.err
}

func (f *fakeBackend) Share(_ context.Context, _ string, email string) error {
	f.shared = append(f.shared, email)
	return f.err
}

func (f *fakeBackend) URL(id string) string { return "https://example.test/" + id }

type fakeLister struct {
	companies []model.Company
	filter    store.CompanyFilter
}

func (l *fakeLister) ListCompanies(_ context.Context, f store.CompanyFilter) ([]model.Company, error) {
	l.filter = f
	return l.companies, nil
}

var fetched = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(`{
  "TX": {"large": [{"city": "Houston", "lat": 1, "lng": 1}, {"city": "Dallas", "lat": 2, "lng": 2}], "small": [{"city": "Marfa", "lat": 3, "lng": 3}]},
  "CA": {"large": [{"city": "Los Angeles", "lat": 4, "lng": 4}]}
}`))
	require.NoError(t, err)
	return cat
}

func companies() []model.Company {
	return []model.Company{
		{PlaceID: "p1", Name: model.String("Acme"), Rating: model.Float(4.5), Lat: 29.5, Lng: -95.25, Keyword: "plumber", State: "TX", FetchedAt: fetched},
		{
			PlaceID: "p2", Phone: model.String("+1 555"), Website: model.String("w.com"), Keyword: "plumber", State: "TX", FetchedAt: fetched,
			UpdatedAt: &model.ChangeMarker{Fields: []model.FieldTag{model.FieldPhone, model.FieldRating}, At: fetched.Add(time.Hour)},
		},
	}
}

func TestRow(t *testing.T) {
	got := Row(companies()[0])
	assert.Equal(t, []string{"p1", "Acme", "", "", "", "4.5", "29.5", "-95.25", "plumber", "TX", "2025-03-01T12:00:00Z", ""}, got)
	assert.Len(t, got, len(Headers))

	got = Row(companies()[1])
	assert.Equal(t, "2025-03-01T13:00:00Z", got[11])
}

func TestColumnFor(t *testing.T) {
	// Zero-based 3, 4, 5 are sheet columns D, E, F.
	assert.Equal(t, 3, ColumnFor(model.FieldPhone))
	assert.Equal(t, 4, ColumnFor(model.FieldWebsite))
	assert.Equal(t, 5, ColumnFor(model.FieldRating))
	assert.Equal(t, "Phone", Headers[ColumnFor(model.FieldPhone)])
	assert.Equal(t, "Rating", Headers[ColumnFor(model.FieldRating)])
}

func TestExport_Overwrite(t *testing.T) {
	b := &fakeBackend{rowCount: 40}
	db := &fakeLister{companies: companies()}

	res, err := NewExporter(b, testCatalog(t)).Export(context.Background(), db, ExportRequest{
		SpreadsheetID: "s1", Overwrite: true, ShareWith: "a@b.co", Keyword: "plumber",
	})
	require.NoError(t, err)

	assert.True(t, b.cleared)
	require.Len(t, b.writes, 1)
	assert.Equal(t, 1, b.writes[0].startRow)
	assert.Equal(t, Headers, b.writes[0].rows[0])
	assert.Len(t, b.writes[0].rows, 3)
	// Header is row 0; p2 is grid row 2.
	assert.Equal(t, []Cell{{Row: 2, Col: 3}, {Row: 2, Col: 5}}, b.highlights)
	assert.Equal(t, []string{"a@b.co"}, b.shared)
	assert.Equal(t, ExportResult{SpreadsheetID: "s1", URL: "https://example.test/s1", Rows: 2, StartRow: 1, Highlighted: 2}, res)
}

func TestExport_AppendBelowExisting(t *testing.T) {
	b := &fakeBackend{rowCount: 5}
	db := &fakeLister{companies: companies()}

	res, err := NewExporter(b, testCatalog(t)).Export(context.Background(), db, ExportRequest{SpreadsheetID: "s1"})
	require.NoError(t, err)

	assert.False(t, b.cleared)
	require.Len(t, b.writes, 1)
	assert.Equal(t, 6, b.writes[0].startRow)
	assert.Len(t, b.writes[0].rows, 2, "no header when appending")
	assert.Equal(t, "p1", b.writes[0].rows[0][0])
	// Sheet row 7 is grid row 6.
	assert.Equal(t, []Cell{{Row: 6, Col: 3}, {Row: 6, Col: 5}}, b.highlights)
	assert.Equal(t, 6, res.StartRow)
	assert.Empty(t, b.shared)
}

func TestExport_AppendToEmptyIncludesHeader(t *testing.T) {
	b := &fakeBackend{}
	db := &fakeLister{companies: companies()[:1]}

	res, err := NewExporter(b, nil).Export(context.Background(), db, ExportRequest{SpreadsheetID: "s1"})
	require.NoError(t, err)
	require.Len(t, b.writes, 1)
	assert.Equal(t, 1, b.writes[0].startRow)
	assert.Equal(t, Headers, b.writes[0].rows[0])
	assert.Empty(t, b.highlights)
	assert.Equal(t, 0, res.Highlighted)
}

func TestExport_AppendNothing(t *testing.T) {
	b := &fakeBackend{rowCount: 3}

	res, err := NewExporter(b, nil).Export(context.Background(), &fakeLister{}, ExportRequest{SpreadsheetID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, b.writes)
	assert.Equal(t, 0, res.Rows)
}

func TestExport_NoSpreadsheet(t *testing.T) {
	b := &fakeBackend{}
	_, err := NewExporter(b, nil).Export(context.Background(), &fakeLister{}, ExportRequest{SpreadsheetID: "  "})
	assert.True(t, errors.Is(err, ErrNoSpreadsheet))
	assert.Empty(t, b.writes)
}

func TestExport_BackendErrorPropagates(t *testing.T) {
	b := &fakeBackend{err: errors.New("quota exceeded")}
	_, err := NewExporter(b, nil).Export(context.Background(), &fakeLister{}, ExportRequest{SpreadsheetID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestExport_Filters(t *testing.T) {
	cat := testCatalog(t)
	tests := []struct {
		name string
		req  ExportRequest
		want store.CompanyFilter
	}{
		{"state all ignored", ExportRequest{Keyword: "plumber", State: "ALL"}, store.CompanyFilter{Keyword: "plumber"}},
		{"state and city", ExportRequest{State: "tx", City: "Houston"}, store.CompanyFilter{State: "TX", AddressContains: "Houston"}},
		{"tier in state", ExportRequest{State: "TX", Tier: "large"}, store.CompanyFilter{State: "TX", AddressAny: []string{"Houston", "Dallas"}}},
		{"tier across states", ExportRequest{Tier: "large"}, store.CompanyFilter{AddressAny: []string{"Los Angeles", "Houston", "Dallas"}}},
		{"tier with no cities", ExportRequest{State: "CA", Tier: "small"}, store.CompanyFilter{State: "CA", AddressAny: []string{}}},
		{"manual tier is no filter", ExportRequest{State: "TX", Tier: "manual", City: "Round Rock"}, store.CompanyFilter{State: "TX", AddressContains: "Round Rock"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeLister{}
			tt.req.SpreadsheetID = "s1"
			_, err := NewExporter(&fakeBackend{}, cat).Export(context.Background(), db, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, db.filter)
		})
	}
}

func TestExport_UnknownStateWithTier(t *testing.T) {
	_, err := NewExporter(&fakeBackend{}, testCatalog(t)).Export(context.Background(), &fakeLister{},
		ExportRequest{SpreadsheetID: "s1", State: "ZZ", Tier: "large"})
	assert.True(t, errors.Is(err, catalog.ErrUnknownState))
}
