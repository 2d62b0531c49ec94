package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// GoogleStore implements Store over the Sheets v4 API.
type GoogleStore struct {
	svc *gsheets.Service
	log *logging.Logger
}

// NewGoogleStore wraps an authenticated Sheets service.
func NewGoogleStore(svc *gsheets.Service, log *logging.Logger) *GoogleStore {
	return &GoogleStore{svc: svc, log: log.Sub("sheets")}
}

func (s *GoogleStore) Rows(ctx context.Context, spreadsheetID, sheet string) ([]Row, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, quoteSheet(sheet)).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err)
	}
	rows := parseValues(resp.Values)
	s.log.Debug().Str("sheet", sheet).Int("rows", len(rows)).Msg("rows fetched")
	return rows, nil
}

func (s *GoogleStore) Headers(ctx context.Context, spreadsheetID, sheet string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, quoteSheet(sheet)+"!1:1").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	headers := make([]string, len(resp.Values[0]))
	for i, h := range resp.Values[0] {
		headers[i] = strings.TrimSpace(fmt.Sprint(h))
	}
	return headers, nil
}

func (s *GoogleStore) Append(ctx context.Context, spreadsheetID, sheet string, values []string) error {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	_, err := s.svc.Spreadsheets.Values.Append(spreadsheetID, quoteSheet(sheet), &gsheets.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return wrapErr(err)
	}
	s.log.Debug().Str("sheet", sheet).Msg("row appended")
	return nil
}

func (s *GoogleStore) UpdateCells(ctx context.Context, spreadsheetID, sheet string, rowIndex int, cells map[string]string) error {
	if len(cells) == 0 {
		return nil
	}
	if rowIndex < 2 {
		return ErrRowNotFound
	}
	headers, err := s.Headers(ctx, spreadsheetID, sheet)
	if err != nil {
		return err
	}

	data := make([]*gsheets.ValueRange, 0, len(cells))
	for col, v := range cells {
		idx := indexOf(headers, col)
		if idx < 0 {
			return fmt.Errorf("sheets: unknown column %q in %s", col, sheet)
		}
		data = append(data, &gsheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteSheet(sheet), columnLetter(idx), rowIndex),
			Values: [][]any{{v}},
		})
	}

	_, err = s.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return wrapErr(err)
	}
	s.log.Debug().Str("sheet", sheet).Int("row", rowIndex).Int("cells", len(data)).Msg("cells updated")
	return nil
}

func (s *GoogleStore) DeleteRow(ctx context.Context, spreadsheetID, sheet string, rowIndex int) error {
	if rowIndex < 2 {
		return ErrRowNotFound
	}
	meta, err := s.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return wrapErr(err)
	}
	var sheetID int64 = -1
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheet {
			sheetID = sh.Properties.SheetId
			break
		}
	}
	if sheetID < 0 {
		return ErrSheetNotFound
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(rowIndex - 1),
					EndIndex:        int64(rowIndex),
					ForceSendFields: []string{"SheetId"},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

func indexOf(headers []string, col string) int {
	for i, h := range headers {
		if h == col {
			return i
		}
	}
	return -1
}

// wrapErr maps missing-sheet API responses onto ErrSheetNotFound.
func wrapErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusNotFound ||
			(gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")) {
			return fmt.Errorf("%w: %s", ErrSheetNotFound, gerr.Message)
		}
	}
	return fmt.Errorf("sheets api: %w", err)
}
