package export

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

type SheetSpec struct {
	Title  string
	Header []string
	Rows   [][]string
}

type HistoryWorkbook struct {
	File *excelize.File
}

// NewHistoryWorkbook renders the standings and point-event history into an
// .xlsx file for operators.
func NewHistoryWorkbook(summaries []models.HouseSummary, events []models.PointEvent) (*HistoryWorkbook, error) {
	sheets := []SheetSpec{
		standingsSheet(summaries),
		historySheet(events),
	}

	f := excelize.NewFile()
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	for i, s := range sheets {
		name := s.Title
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return nil, fmt.Errorf("new sheet: %w", err)
			}
		}
		for col, h := range s.Header {
			cell := fmt.Sprintf("%s1", colName(col+1))
			if err := f.SetCellStr(name, cell, h); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		end := colName(len(s.Header)) + "1"
		_ = f.SetCellStyle(name, "A1", end, bold)
		_ = f.AutoFilter(name, "A1:"+end, nil)

		for r, row := range s.Rows {
			for c, val := range row {
				cell := fmt.Sprintf("%s%d", colName(c+1), r+2)
				if err := f.SetCellStr(name, cell, val); err != nil {
					return nil, fmt.Errorf("set cell %s: %w", cell, err)
				}
			}
		}
		// width heuristic from header and the first rows
		for c := 1; c <= len(s.Header); c++ {
			maxim := len(s.Header[c-1])
			for r := 0; r < minim(50, len(s.Rows)); r++ {
				if l := len(s.Rows[r][c-1]); l > maxim {
					maxim = l
				}
			}
			w := float64(maxim) * 0.9
			if w < 12 {
				w = 12
			}
			if w > 40 {
				w = 40
			}
			_ = f.SetColWidth(name, colName(c), colName(c), w)
		}
	}
	return &HistoryWorkbook{File: f}, nil
}

func standingsSheet(summaries []models.HouseSummary) SheetSpec {
	s := SheetSpec{
		Title:  "Standings",
		Header: []string{"Place", "House", "Student Points", "Bonus Points", "Total Points"},
	}
	for _, h := range summaries {
		s.Rows = append(s.Rows, []string{
			strconv.Itoa(h.Place),
			h.Name,
			strconv.Itoa(h.StudentPoints),
			strconv.Itoa(h.BonusPoints),
			strconv.Itoa(h.TotalPoints),
		})
	}
	return s
}

func historySheet(events []models.PointEvent) SheetSpec {
	s := SheetSpec{
		Title:  "Point History",
		Header: []string{"When", "Student", "House", "Category", "Points", "Added By", "Type", "Batch", "Reversed"},
	}
	for _, e := range events {
		batch := ""
		if e.BatchID != nil {
			batch = *e.BatchID
		}
		reversed := ""
		if e.Reversed {
			reversed = "yes"
		}
		s.Rows = append(s.Rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.StudentName,
			e.HouseName,
			e.Category,
			strconv.Itoa(e.Points),
			e.AddedBy,
			string(e.Type),
			batch,
			reversed,
		})
	}
	return s
}

func colName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

func minim(a, b int) int {
	if a < b {
		return a
	}
	return b
}
