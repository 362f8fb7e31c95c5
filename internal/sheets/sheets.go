// Package sheets reads initiative spreadsheets for bulk sync and writes
// duration reports as .xlsx workbooks.
package sheets

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"trackline/internal/domain"
)

var ErrNoHeader = errors.New("header row could not be detected")

// column name (normalized) -> setter
var columns = map[string]func(*domain.Initiative, string){
	"id":           func(in *domain.Initiative, v string) { in.ID = v },
	"name":         func(in *domain.Initiative, v string) { in.Name = v },
	"type":         func(in *domain.Initiative, v string) { in.Type = v },
	"status":       func(in *domain.Initiative, v string) { in.Status = v },
	"milestone":    func(in *domain.Initiative, v string) { in.Milestone = v },
	"priority":     func(in *domain.Initiative, v string) { in.Priority = v },
	"departmentid": func(in *domain.Initiative, v string) { in.DepartmentID = v },
	"department":   func(in *domain.Initiative, v string) { in.DepartmentID = v },
	"ownerid":      func(in *domain.Initiative, v string) { in.OwnerID = v },
	"owner":        func(in *domain.Initiative, v string) { in.OwnerID = v },
	"assigneeid":   func(in *domain.Initiative, v string) { in.AssigneeID = v },
	"assignee":     func(in *domain.Initiative, v string) { in.AssigneeID = v },
	"startdate":    func(in *domain.Initiative, v string) { in.StartDate = v },
	"enddate":      func(in *domain.Initiative, v string) { in.EndDate = v },
	"createdat":    func(in *domain.Initiative, v string) { in.CreatedAt = v },
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// ImportInitiatives parses the first sheet of an .xlsx workbook. The first
// non-empty row is the header; unknown columns are ignored. Rows without an
// id get a deterministic one derived from name and type.
func ImportInitiatives(r io.Reader) ([]domain.Initiative, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	var setters []func(*domain.Initiative, string)
	var items []domain.Initiative
	for i, row := range rows {
		if isEmpty(row) {
			continue
		}
		if setters == nil {
			setters = make([]func(*domain.Initiative, string), len(row))
			known := 0
			for c, h := range row {
				if fn, ok := columns[normalizeHeader(h)]; ok {
					setters[c] = fn
					known++
				}
			}
			if known == 0 {
				return nil, ErrNoHeader
			}
			continue
		}
		var in domain.Initiative
		for c, v := range row {
			if c < len(setters) && setters[c] != nil {
				setters[c](&in, strings.TrimSpace(v))
			}
		}
		if in.Name == "" && in.ID == "" {
			return nil, fmt.Errorf("row %d: name or id is required", i+1)
		}
		if in.ID == "" {
			in.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(in.Type+"|"+in.Name)).String()
		}
		items = append(items, in)
	}
	if setters == nil {
		return nil, ErrNoHeader
	}
	return items, nil
}

func isEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

const reportSheet = "Durations"

var reportHeader = []any{"ID", "Name", "Type", "Current Milestone", "Milestone", "Start", "End", "Days", "Status"}

// ExportDurations writes one row per milestone period. Initiatives without
// observations get a single row with empty period columns.
func ExportDurations(w io.Writer, rows []domain.InitiativeDurations) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportHeader); err != nil {
		return err
	}
	line := 2
	write := func(values []any) error {
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		line++
		return f.SetSheetRow(reportSheet, cell, &values)
	}
	for _, r := range rows {
		if len(r.MilestoneDetails) == 0 {
			if err := write([]any{r.ID, r.Name, r.Type, r.CurrentMilestone}); err != nil {
				return err
			}
			continue
		}
		for _, p := range r.MilestoneDetails {
			end := ""
			if p.EndDate != nil {
				end = *p.EndDate
			}
			if err := write([]any{r.ID, r.Name, r.Type, r.CurrentMilestone, p.Milestone, p.StartDate, end, p.DurationDays, p.Status}); err != nil {
				return err
			}
		}
	}
	if err := f.SetPanes(reportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
