package controllers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"classflow_go/models"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// readSheet loads all rows of a .csv file or the first sheet of an .xlsx workbook.
func readSheet(r io.Reader, filename string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return readCSV(r)
	case ".xlsx":
		return readXLSX(r)
	}
	return nil, errors.New("unsupported file type (csv, xlsx)")
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sht := f.GetSheetName(0)
	if sht == "" {
		sht = "Sheet1"
	}
	return f.GetRows(sht)
}

func buildColumnIndex(header []string) map[string]int {
	m := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		if _, dup := m[key]; !dup {
			m[key] = i
		}
	}
	return m
}

// normaliseMark accepts present/absent and the usual spreadsheet shorthands.
func normaliseMark(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "present", "p", "1", "yes", "y", "true", "x", "✓":
		return models.AttendancePresent, true
	case "absent", "a", "0", "no", "n", "false", "":
		return models.AttendanceAbsent, true
	}
	return "", false
}

// attendanceFromRows turns sheet rows into an attendance map keyed by student id.
// The header must contain "status" plus either "student_id" or "username";
// usernames are resolved through the batch's enrolled students.
func attendanceFromRows(rows [][]string, usernames map[string]uint) (map[string]string, error) {
	if len(rows) == 0 {
		return nil, errors.New("file is empty")
	}
	col := buildColumnIndex(rows[0])
	statusIdx, ok := col["status"]
	if !ok {
		if statusIdx, ok = col["attendance"]; !ok {
			return nil, errors.New("missing column: status")
		}
	}
	idIdx, hasID := col["student_id"]
	nameIdx, hasName := col["username"]
	if !hasID && !hasName {
		return nil, errors.New("missing column: student_id or username")
	}

	cell := func(r []string, idx int) string {
		if idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}

	marks := map[string]string{}
	for i, r := range rows[1:] {
		line := i + 2
		var key string
		if hasID {
			if raw := cell(r, idIdx); raw != "" {
				if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
					return nil, fmt.Errorf("row %d: invalid student_id %q", line, raw)
				}
				key = raw
			}
		}
		if key == "" && hasName {
			name := strings.ToLower(cell(r, nameIdx))
			if name == "" {
				continue
			}
			id, found := usernames[name]
			if !found {
				return nil, fmt.Errorf("row %d: username %q is not enrolled", line, name)
			}
			key = strconv.FormatUint(uint64(id), 10)
		}
		if key == "" {
			continue
		}
		mark, ok := normaliseMark(cell(r, statusIdx))
		if !ok {
			return nil, fmt.Errorf("row %d: unknown attendance value %q", line, cell(r, statusIdx))
		}
		if prev, dup := marks[key]; dup && prev != mark {
			return nil, fmt.Errorf("row %d: conflicting marks for student %s", line, key)
		}
		marks[key] = mark
	}
	if len(marks) == 0 {
		return nil, errors.New("no attendance rows found")
	}
	return marks, nil
}

// enrolledUsernames maps lower-cased usernames of active students in batchID to their ids.
func enrolledUsernames(db *gorm.DB, batchID uint) (map[string]uint, error) {
	var rows []struct {
		StudentID uint
		Username  string
	}
	err := db.Table("enrollments").
		Select("enrollments.student_id, users.username").
		Joins("JOIN users ON users.id = enrollments.student_id").
		Where("enrollments.batch_id = ? AND enrollments.status = ? AND enrollments.deleted_at IS NULL", batchID, models.EnrollmentActive).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint, len(rows))
	for _, r := range rows {
		out[strings.ToLower(r.Username)] = r.StudentID
	}
	return out, nil
}
