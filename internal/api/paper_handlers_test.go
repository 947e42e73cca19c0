package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paper-harvester/internal/paper"
	"github.com/JakeFAU/paper-harvester/internal/storage/memory"
)

func seededStore(t *testing.T) (*memory.PaperStore, []string) {
	t.Helper()
	store := memory.NewPaperStore(nil, nil)
	records := []paper.Record{
		{
			Title: "Thermodynamics (CHE-2104)", SubjectCode: "CHE-2104", SubjectName: "Thermodynamics",
			Year: "2019", Semester: "Semester 3", Branch: "Chemical",
			SourceURL: "https://portal1.example.edu/che-2104.pdf", Source: paper.SourcePortal1,
		},
		{
			Title: "Surveying (CIE-2201)", SubjectCode: "CIE-2201", SubjectName: "Surveying",
			Year: "2020", Semester: "Semester 4", Branch: "Civil",
			SourceURL:  "https://portal2.example.edu/cie-2201.pdf",
			StorageURL: "gs://papers/portal2/2020/Civil/Surveying (CIE-2201).pdf",
			Source:     paper.SourcePortal2,
		},
		{
			Title: "Fluid Mechanics (CHE-2203)", SubjectCode: "CHE-2203", SubjectName: "Fluid Mechanics",
			Year: "2020", Semester: "Semester 4", Branch: "Chemical",
			SourceURL: "https://portal1.example.edu/che-2203.pdf", Source: paper.SourcePortal1,
		},
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		id, err := store.Add(context.Background(), rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return store, ids
}

type listBody struct {
	Papers []paper.Record `json:"papers"`
	Count  int            `json:"count"`
}

func TestPapers_ListFilters(t *testing.T) {
	t.Parallel()

	store, _ := seededStore(t)
	srv := newTestServer(nil, store, Options{})

	rec := do(t, srv, http.MethodGet, "/api/papers?year=2020&branch=Chemical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body listBody
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
	require.Equal(t, "CHE-2203", body.Papers[0].SubjectCode)

	rec = do(t, srv, http.MethodGet, "/api/papers?limit=2", nil)
	decode(t, rec, &body)
	require.Equal(t, 2, body.Count)
	require.Equal(t, "CHE-2203", body.Papers[0].SubjectCode, "newest first")

	rec = do(t, srv, http.MethodGet, "/api/papers?subject=Surveying", nil)
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
}

func TestPapers_ListEmptyIsArray(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, Options{})
	rec := do(t, srv, http.MethodGet, "/api/papers?year=1999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"papers":[],"count":0}`, rec.Body.String())
}

func TestPapers_Search(t *testing.T) {
	t.Parallel()

	store, _ := seededStore(t)
	srv := newTestServer(nil, store, Options{})

	rec := do(t, srv, http.MethodGet, "/api/papers?search=che-22&year=2019", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body listBody
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count, "search ignores the other filters")
	require.Equal(t, "CHE-2203", body.Papers[0].SubjectCode)

	rec = do(t, srv, http.MethodGet, "/api/papers?q=thermo", nil)
	decode(t, rec, &body)
	require.Equal(t, 1, body.Count)
}

func TestPapers_InvalidPaging(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, Options{})
	rec := do(t, srv, http.MethodGet, "/api/papers?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/papers?offset=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPapers_GetAndDownload(t *testing.T) {
	t.Parallel()

	store, ids := seededStore(t)
	srv := newTestServer(nil, store, Options{})

	rec := do(t, srv, http.MethodGet, "/api/papers/"+ids[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Paper paper.Record `json:"paper"`
	}
	decode(t, rec, &got)
	require.Equal(t, "Thermodynamics (CHE-2104)", got.Paper.Title)

	rec = do(t, srv, http.MethodGet, "/api/papers/"+ids[0]+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"download_url":"https://portal1.example.edu/che-2104.pdf","title":"Thermodynamics (CHE-2104)"}`,
		rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/papers/"+ids[1]+"/download", nil)
	var dl map[string]string
	decode(t, rec, &dl)
	require.Equal(t, "gs://papers/portal2/2020/Civil/Surveying (CIE-2201).pdf", dl["download_url"])

	rec = do(t, srv, http.MethodGet, "/api/papers/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/papers/missing/download", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPapers_Filters(t *testing.T) {
	t.Parallel()

	store, _ := seededStore(t)
	srv := newTestServer(nil, store, Options{})

	rec := do(t, srv, http.MethodGet, "/api/filters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"years": ["2019", "2020"],
		"semesters": ["Semester 3", "Semester 4"],
		"branches": ["Chemical", "Civil"]
	}`, rec.Body.String())
}
