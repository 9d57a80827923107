package sheets

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Scopes are the OAuth scopes the Google backend needs.
var Scopes = []string{sheets.SpreadsheetsScope, drive.DriveScope}

// GoogleBackend writes to Google Sheets and shares through Drive.
type GoogleBackend struct {
	sheets *sheets.Service
	drive  *drive.Service
}

// NewGoogleBackend wraps existing services.
func NewGoogleBackend(sh *sheets.Service, dr *drive.Service) *GoogleBackend {
	return &GoogleBackend{sheets: sh, drive: dr}
}

// DialGoogle builds a GoogleBackend from a service account credentials file.
// Extra options are appended to both services.
func DialGoogle(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GoogleBackend, error) {
	base := []option.ClientOption{option.WithScopes(Scopes...)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile)) //nolint:staticcheck
	}
	base = append(base, opts...)

	sh, err := sheets.NewService(ctx, base...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create sheets service")
	}
	dr, err := drive.NewService(ctx, base...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create drive service")
	}
	return NewGoogleBackend(sh, dr), nil
}

// Create makes a new spreadsheet and returns its id.
func (g *GoogleBackend) Create(ctx context.Context, title string) (string, error) {
	resp, err := g.sheets.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
	}).Context(ctx).Do()
	if err != nil {
		return "", eris.Wrap(err, "sheets: create spreadsheet")
	}
	return resp.SpreadsheetId, nil
}

// RowCount returns the number of rows down to the last non-empty cell in
// column A.
func (g *GoogleBackend) RowCount(ctx context.Context, id string) (int, error) {
	resp, err := g.sheets.Spreadsheets.Values.Get(id, "A:A").Context(ctx).Do()
	if err != nil {
		return 0, eris.Wrap(err, "sheets: get column A")
	}
	return len(resp.Values), nil
}

// Clear empties the first 26 columns of the first sheet and removes any
// highlight fill.
func (g *GoogleBackend) Clear(ctx context.Context, id string) error {
	if _, err := g.sheets.Spreadsheets.Values.Clear(id, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return eris.Wrap(err, "sheets: clear values")
	}

	// Values.Clear keeps formatting.
	_, err := g.sheets.Spreadsheets.BatchUpdate(id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range:  &sheets.GridRange{SheetId: 0, ForceSendFields: []string{"SheetId"}},
				Cell:   &sheets.CellData{},
				Fields: "userEnteredFormat.backgroundColor",
			},
		}},
	}).Context(ctx).Do()
	return eris.Wrap(err, "sheets: reset formatting")
}

// Write stores rows as raw strings starting at column A of startRow.
func (g *GoogleBackend) Write(ctx context.Context, id string, startRow int, rows [][]string) error {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		vals := make([]interface{}, len(row))
		for j, v := range row {
			vals[j] = v
		}
		values[i] = vals
	}
	_, err := g.sheets.Spreadsheets.Values.Update(id, fmt.Sprintf("A%d", startRow), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return eris.Wrap(err, "sheets: update values")
}

// Highlight paints each cell yellow in one batch update.
func (g *GoogleBackend) Highlight(ctx context.Context, id string, cells []Cell) error {
	if len(cells) == 0 {
		return nil
	}
	reqs := make([]*sheets.Request, 0, len(cells))
	for _, c := range cells {
		reqs = append(reqs, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    int64(c.Row),
					EndRowIndex:      int64(c.Row + 1),
					StartColumnIndex: int64(c.Col),
					EndColumnIndex:   int64(c.Col + 1),
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						BackgroundColor: &sheets.Color{Red: 1, Green: 1, Blue: 0},
					},
				},
				Fields: "userEnteredFormat.backgroundColor",
			},
		})
	}
	_, err := g.sheets.Spreadsheets.BatchUpdate(id, &sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	return eris.Wrap(err, "sheets: batch update")
}

// Share grants email writer access without a notification email.
func (g *GoogleBackend) Share(ctx context.Context, id, email string) error {
	_, err := g.drive.Permissions.Create(id, &drive.Permission{
		Type:         "user",
		Role:         "writer",
		EmailAddress: email,
	}).SendNotificationEmail(false).Fields("id").Context(ctx).Do()
	if err != nil {
		return eris.Wrap(err, "sheets: create permission")
	}
	zap.L().Debug("sheets: shared", zap.String("spreadsheet_id", id), zap.String("email", email))
	return nil
}

// URL returns the browser link for id.
func (g *GoogleBackend) URL(id string) string {
	return "https://docs.google.com/spreadsheets/d/" + id
}
