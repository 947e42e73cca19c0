// Package extract maps document locators and folder context to paper
// metadata. Everything here is pure: no network or storage access.
package extract

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/paper-harvester/internal/paper"
)

var (
	yearPattern     = regexp.MustCompile(`20\d{2}`)
	semesterPattern = regexp.MustCompile(`(?i)(?:^|[^a-z])([ivx]+)\s*sem`)
	makeupPattern   = regexp.MustCompile(`(?i)\s*\(?makeup\)?`)
	codePattern     = regexp.MustCompile(`\(([A-Z]{2,4})\s*-?\s*(\d{4})\)`)
	groupPattern    = regexp.MustCompile(`\([^)]*\)`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// Branches is ordered so that more specific names win on overlapping
// substrings ("Computer and Communication" before "Computer").
var Branches = []string{
	"Computer and Communication",
	"Information Technology",
	"Electrical and Electronics",
	"Electronics and Communication",
	"Chemical",
	"Civil",
	"Computer",
	"Electrical",
	"Electronics",
	"Mechatronics",
	"Mechanical",
	"Automobile",
	"Aeronautical",
	"Biomedical",
	"Biotechnology",
	"Industrial",
	"Instrumentation",
	"Architecture",
}

// Extract builds a Record from a document locator, its displayed file name
// and the folder labels it was found under. The origin and store fields are
// left empty. ok is false only when locator is empty.
func Extract(locator, displayName string, context []string) (paper.Record, bool) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return paper.Record{}, false
	}
	locPath := decodedPath(locator)
	ctxText := strings.Join(context, " ")
	if displayName == "" {
		displayName = path.Base(locPath)
	}
	name, code, exam := ParseFilename(displayName)

	return paper.Record{
		Title:       trimPDF(displayName),
		SubjectCode: code,
		SubjectName: name,
		Year:        Year(locPath),
		Semester:    firstNonEmpty(Semester(locPath), Semester(ctxText)),
		Branch:      Branch(locPath + " " + ctxText),
		ExamType:    exam,
		SourceURL:   locator,
	}, true
}

// Year returns the first 20xx token in text.
func Year(text string) string {
	return yearPattern.FindString(text)
}

// Semester finds a roman numeral followed by "sem" and renders it as
// "Semester N".
func Semester(text string) string {
	m := semesterPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	n := RomanToInt(m[1])
	if n <= 0 {
		return ""
	}
	return "Semester " + strconv.Itoa(n)
}

// Branch returns the first entry of Branches contained in text.
func Branch(text string) string {
	lower := strings.ToLower(text)
	for _, b := range Branches {
		if strings.Contains(lower, strings.ToLower(b)) {
			return b
		}
	}
	return ""
}

// ParseFilename splits a displayed file name into subject name, subject
// code and exam variant.
func ParseFilename(filename string) (name, code, exam string) {
	work := trimPDF(filename)
	exam = paper.ExamRegular
	if strings.Contains(strings.ToLower(work), "makeup") {
		exam = paper.ExamMakeup
		work = makeupPattern.ReplaceAllString(work, "")
	}
	if m := codePattern.FindStringSubmatch(work); m != nil {
		code = m[1] + "-" + m[2]
	}
	name = groupPattern.ReplaceAllString(work, "")
	name = strings.TrimSpace(spacePattern.ReplaceAllString(name, " "))
	return name, code, exam
}

var romanValues = map[rune]int{'I': 1, 'V': 5, 'X': 10}

// RomanToInt decodes I/V/X numerals with subtractive notation. Unknown
// letters count as zero.
func RomanToInt(roman string) int {
	total, prev := 0, 0
	runes := []rune(strings.ToUpper(roman))
	for i := len(runes) - 1; i >= 0; i-- {
		cur := romanValues[runes[i]]
		if cur < prev {
			total -= cur
		} else {
			total += cur
		}
		prev = cur
	}
	return total
}

func decodedPath(locator string) string {
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		return u.Path
	}
	if p, err := url.PathUnescape(locator); err == nil {
		return p
	}
	return locator
}

func trimPDF(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name[:len(name)-len(".pdf")]
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
