package sheets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const xlsxSheetName = "Sheet1"

// XLSXBackend keeps each spreadsheet as <dir>/<id>.xlsx.
type XLSXBackend struct {
	mu  sync.Mutex
	dir string
}

// NewXLSXBackend creates the directory if needed.
func NewXLSXBackend(dir string) (*XLSXBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sheets: create xlsx dir %s", dir)
	}
	return &XLSXBackend{dir: dir}, nil
}

func (x *XLSXBackend) path(id string) string {
	return filepath.Join(x.dir, id+".xlsx")
}

// Create writes an empty workbook under a fresh uuid. Titles are not kept.
func (x *XLSXBackend) Create(_ context.Context, _ string) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	id := uuid.NewString()
	if err := x.save(id, newWorkbook()); err != nil {
		return "", err
	}
	return id, nil
}

// RowCount returns the number of rows down to the last non-empty cell in
// column A.
func (x *XLSXBackend) RowCount(_ context.Context, id string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, sheet, err := x.open(id)
	if err != nil {
		return 0, err
	}
	n := 0
	for i, row := range sheet.Rows {
		if cells := rowToStrings(row); len(cells) > 0 && strings.TrimSpace(cells[0]) != "" {
			n = i + 1
		}
	}
	return n, nil
}

// ReadAll returns every row of the first sheet.
func (x *XLSXBackend) ReadAll(id string) ([][]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, sheet, err := x.open(id)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// Clear replaces the workbook with an empty one.
func (x *XLSXBackend) Clear(_ context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := os.Stat(x.path(id)); err != nil {
		return eris.Wrapf(err, "sheets: stat %s", id)
	}
	return x.save(id, newWorkbook())
}

// Write sets rows starting at column A of the 1-based startRow.
func (x *XLSXBackend) Write(_ context.Context, id string, startRow int, rows [][]string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, sheet, err := x.open(id)
	if err != nil {
		return err
	}
	for i, row := range rows {
		for j, v := range row {
			sheet.Cell(startRow-1+i, j).SetString(v)
		}
	}
	return x.save(id, f)
}

// Highlight gives each cell a solid yellow fill.
func (x *XLSXBackend) Highlight(_ context.Context, id string, cells []Cell) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	f, sheet, err := x.open(id)
	if err != nil {
		return err
	}
	style := highlightStyle()
	for _, c := range cells {
		sheet.Cell(c.Row, c.Col).SetStyle(style)
	}
	return x.save(id, f)
}

// Share is a no-op for local files.
func (x *XLSXBackend) Share(_ context.Context, id, _ string) error {
	if _, err := os.Stat(x.path(id)); err != nil {
		return eris.Wrapf(err, "sheets: stat %s", id)
	}
	return nil
}

// URL returns the workbook path.
func (x *XLSXBackend) URL(id string) string {
	return x.path(id)
}

func (x *XLSXBackend) open(id string) (*xlsx.File, *xlsx.Sheet, error) {
	f, err := xlsx.OpenFile(x.path(id))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "sheets: open %s", id)
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.Errorf("sheets: %s has no sheets", id)
	}
	return f, f.Sheets[0], nil
}

func (x *XLSXBackend) save(id string, f *xlsx.File) error {
	return eris.Wrapf(f.Save(x.path(id)), "sheets: save %s", id)
}

func newWorkbook() *xlsx.File {
	f := xlsx.NewFile()
	_, _ = f.AddSheet(xlsxSheetName)
	return f
}

func highlightStyle() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Fill = *xlsx.NewFill("solid", "FFFFFF00", "FFFFFF00")
	s.ApplyFill = true
	return s
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
