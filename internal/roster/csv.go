package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/columbiaprep/house-points-app-sub000/internal/models"
)

// RowError reports one unusable CSV row without failing the import.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ParseRoster reads a roster-reset CSV. The header row is required; columns
// id, name, grade and house are located by name, so column order is free.
func ParseRoster(r io.Reader) ([]models.Student, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"id", "name", "grade", "house"} {
		if _, ok := cols[want]; !ok {
			return nil, nil, fmt.Errorf("header missing column %q", want)
		}
	}

	var (
		students []models.Student
		bad      []RowError
		line     = 1
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			bad = append(bad, RowError{Line: line, Reason: err.Error()})
			continue
		}
		id := strings.TrimSpace(rec[cols["id"]])
		if id == "" {
			bad = append(bad, RowError{Line: line, Reason: "empty id"})
			continue
		}
		grade, err := strconv.Atoi(strings.TrimSpace(rec[cols["grade"]]))
		if err != nil {
			bad = append(bad, RowError{Line: line, Reason: "bad grade: " + rec[cols["grade"]]})
			continue
		}
		students = append(students, models.Student{
			ID:        id,
			Name:      strings.TrimSpace(rec[cols["name"]]),
			Grade:     grade,
			HouseName: strings.TrimSpace(rec[cols["house"]]),
		})
	}
	return students, bad, nil
}

// GrantRow is one parsed bulk-grant line.
type GrantRow struct {
	Email    string
	Category string
	Points   int
}

// ParseBulkGrants reads a bulk point-grant CSV. Advanced mode carries three
// columns (email, category, points); a file with only an email column is
// "simple mode" and every row takes defaultCategory/defaultPoints. The header
// row is optional and detected by the first field not looking like an email.
func ParseBulkGrants(r io.Reader, defaultCategory string, defaultPoints int) ([]GrantRow, []RowError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var (
		rows []GrantRow
		bad  []RowError
		line int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			bad = append(bad, RowError{Line: line, Reason: err.Error()})
			continue
		}
		if len(rec) == 0 {
			continue
		}
		email := strings.TrimSpace(rec[0])
		if line == 1 && !strings.Contains(email, "@") {
			// header row
			continue
		}
		if email == "" {
			bad = append(bad, RowError{Line: line, Reason: "empty email"})
			continue
		}

		if len(rec) == 1 {
			// simple mode: category and points supplied by the operator
			rows = append(rows, GrantRow{Email: email, Category: defaultCategory, Points: defaultPoints})
			continue
		}
		if len(rec) < 3 {
			bad = append(bad, RowError{Line: line, Reason: fmt.Sprintf("expected 1 or 3 columns, got %d", len(rec))})
			continue
		}
		pts, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil {
			bad = append(bad, RowError{Line: line, Reason: "bad points: " + rec[2]})
			continue
		}
		rows = append(rows, GrantRow{
			Email:    email,
			Category: strings.TrimSpace(rec[1]),
			Points:   pts,
		})
	}
	return rows, bad, nil
}
