package sheets

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-cli/internal/catalog"
	"github.com/sells-group/places-cli/internal/model"
	"github.com/sells-group/places-cli/internal/store"
)

// Lister reads companies for export. store.Store satisfies it.
type Lister interface {
	ListCompanies(ctx context.Context, filter store.CompanyFilter) ([]model.Company, error)
}

// ExportRequest selects the rows to export and the destination.
type ExportRequest struct {
	SpreadsheetID string       `json:"spreadsheet_id"`
	Overwrite     bool         `json:"overwrite"`
	ShareWith     string       `json:"share_with,omitempty"`
	Keyword       string       `json:"keyword,omitempty"`
	State         string       `json:"state,omitempty"`
	Tier          catalog.Tier `json:"tier,omitempty"`
	City          string       `json:"city,omitempty"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	URL           string `json:"url"`
	Rows          int    `json:"rows"`
	StartRow      int    `json:"start_row"`
	Highlighted   int    `json:"highlighted"`
}

// Exporter writes filtered companies to a Backend.
type Exporter struct {
	backend Backend
	cat     *catalog.Catalog
}

// NewExporter creates an Exporter. cat resolves tier filters into city names.
func NewExporter(backend Backend, cat *catalog.Catalog) *Exporter {
	return &Exporter{backend: backend, cat: cat}
}

// Export writes the matching companies. In overwrite mode the sheet is
// cleared and rewritten from row 1 with a header. Otherwise data rows are
// appended below the current content, with a header only when the sheet is
// empty.
func (e *Exporter) Export(ctx context.Context, db Lister, req ExportRequest) (ExportResult, error) {
	id := strings.TrimSpace(req.SpreadsheetID)
	if id == "" {
		return ExportResult{}, ErrNoSpreadsheet
	}
	res := ExportResult{SpreadsheetID: id, URL: e.backend.URL(id)}

	filter, err := e.filter(req)
	if err != nil {
		return res, err
	}
	companies, err := db.ListCompanies(ctx, filter)
	if err != nil {
		return res, eris.Wrap(err, "sheets: list companies")
	}

	startRow, header := 1, true
	if req.Overwrite {
		if err := e.backend.Clear(ctx, id); err != nil {
			return res, eris.Wrapf(err, "sheets: clear %s", id)
		}
	} else {
		n, err := e.backend.RowCount(ctx, id)
		if err != nil {
			return res, eris.Wrapf(err, "sheets: row count %s", id)
		}
		if n > 0 {
			startRow, header = n+1, false
		}
	}
	res.StartRow = startRow

	rows := make([][]string, 0, len(companies)+1)
	if header {
		rows = append(rows, Headers)
	}
	firstData := startRow - 1 + len(rows) // zero-based grid row of the first company
	var cells []Cell
	for i, c := range companies {
		rows = append(rows, Row(c))
		if c.UpdatedAt == nil {
			continue
		}
		for _, tag := range c.UpdatedAt.Fields {
			cells = append(cells, Cell{Row: firstData + i, Col: ColumnFor(tag)})
		}
	}

	if len(rows) > 0 {
		if err := e.backend.Write(ctx, id, startRow, rows); err != nil {
			return res, eris.Wrapf(err, "sheets: write %s", id)
		}
	}
	res.Rows = len(companies)

	if len(cells) > 0 {
		if err := e.backend.Highlight(ctx, id, cells); err != nil {
			return res, eris.Wrapf(err, "sheets: highlight %s", id)
		}
		res.Highlighted = len(cells)
	}

	if email := strings.TrimSpace(req.ShareWith); email != "" {
		if err := e.backend.Share(ctx, id, email); err != nil {
			return res, eris.Wrapf(err, "sheets: share %s", id)
		}
	}

	zap.L().Info("sheets: exported",
		zap.String("spreadsheet_id", id),
		zap.Int("rows", res.Rows),
		zap.Int("start_row", res.StartRow),
		zap.Int("highlighted", res.Highlighted),
		zap.Bool("overwrite", req.Overwrite),
	)
	return res, nil
}

func (e *Exporter) filter(req ExportRequest) (store.CompanyFilter, error) {
	f := store.CompanyFilter{
		Keyword:         strings.TrimSpace(req.Keyword),
		AddressContains: strings.TrimSpace(req.City),
	}
	state := strings.ToUpper(strings.TrimSpace(req.State))
	if state != "" && state != catalog.AllState {
		f.State = state
	}

	tier, err := catalog.ParseTier(string(req.Tier))
	if err != nil {
		return f, err
	}
	if tier == catalog.TierAll || tier == catalog.TierManual {
		return f, nil
	}
	if e.cat == nil {
		return f, eris.New("sheets: tier filter needs a catalog")
	}
	names, err := e.cat.CityNames(state, tier)
	if err != nil {
		return f, err
	}
	if names == nil {
		names = []string{}
	}
	f.AddressAny = names
	return f, nil
}
