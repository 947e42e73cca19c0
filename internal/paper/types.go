// Package paper defines the exam-paper record model and the storage
// boundaries shared across the harvesting subsystems.
package paper

import (
	"errors"
	"time"
)

// Source identifies the portal a record was harvested from.
type Source string

// Known sources. SourceAll is only meaningful as a job selector.
const (
	SourcePortal1 Source = "portal1"
	SourcePortal2 Source = "portal2"
	SourceAll     Source = "both"
)

// Exam variants.
const (
	ExamRegular = "Regular"
	ExamMakeup  = "Makeup"
)

// ErrNotFound is returned by stores when a record id is unknown.
var ErrNotFound = errors.New("paper not found")

// Record is one exam-paper metadata entry. SourceURL is always set and is
// unique per physical document; every other field may be empty.
type Record struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	SubjectCode string     `json:"subject_code"`
	SubjectName string     `json:"subject_name"`
	Year        string     `json:"year"`
	Semester    string     `json:"semester"`
	Branch      string     `json:"branch"`
	ExamType    string     `json:"exam_type"`
	SourceURL   string     `json:"pdf_url"`
	StorageURL  string     `json:"storage_url,omitempty"`
	Source      Source     `json:"portal"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Fingerprint returns the semantic dedup key of the record.
func (r Record) Fingerprint() Fingerprint {
	return Fingerprint{
		SubjectCode: r.SubjectCode,
		Year:        r.Year,
		Semester:    r.Semester,
		ExamType:    r.ExamType,
	}
}

// DownloadURL prefers the stored copy over the portal link.
func (r Record) DownloadURL() string {
	if r.StorageURL != "" {
		return r.StorageURL
	}
	return r.SourceURL
}

// Fingerprint is the (subject code, year, semester, exam variant) tuple.
// Semester and ExamType are wildcards when empty.
type Fingerprint struct {
	SubjectCode string
	Year        string
	Semester    string
	ExamType    string
}

// Usable reports whether the fingerprint carries enough data to match on.
func (f Fingerprint) Usable() bool {
	return f.SubjectCode != "" && f.Year != ""
}

// Matches reports whether a stored record satisfies the fingerprint. An empty
// semester or exam type on either side is a wildcard.
func (f Fingerprint) Matches(r Record) bool {
	if !f.Usable() {
		return false
	}
	if r.SubjectCode != f.SubjectCode || r.Year != f.Year {
		return false
	}
	if f.Semester != "" && r.Semester != "" && r.Semester != f.Semester {
		return false
	}
	if f.ExamType != "" && r.ExamType != "" && r.ExamType != f.ExamType {
		return false
	}
	return true
}

// Filter narrows List queries. Empty fields are ignored.
type Filter struct {
	Year     string
	Semester string
	Branch   string
	Subject  string
	Limit    int
	Offset   int
}

// Field names a column that can be enumerated for filter menus.
type Field string

// Enumerable fields.
const (
	FieldYear     Field = "year"
	FieldSemester Field = "semester"
	FieldBranch   Field = "branch"
)

// Valid reports whether the field may be enumerated.
func (f Field) Valid() bool {
	switch f {
	case FieldYear, FieldSemester, FieldBranch:
		return true
	default:
		return false
	}
}

// Value returns the field's value on the record.
func (f Field) Value(r Record) string {
	switch f {
	case FieldYear:
		return r.Year
	case FieldSemester:
		return r.Semester
	case FieldBranch:
		return r.Branch
	default:
		return ""
	}
}

// DefaultLimit caps List and Search when the caller does not.
const DefaultLimit = 50
