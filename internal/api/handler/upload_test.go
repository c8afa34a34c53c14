package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/core"
)

func TestUploadCreate(t *testing.T) {
	svc, stores := newTestServices(t)
	seedQuota(t, stores.Quotas, "C1", "p1", "10", "100")
	h := NewUpload(svc.Ingest, 1<<20)
	rec := httptest.NewRecorder()

	h.Create(rec, newUploadRequest("/uploads", "Day_report_2024-01-01.txt", []byte("p1;ns-a;1;10\np1;ns-b;2;20\nbroken line\np1;ns-c;0;0\n")))

	require.Equal(t, http.StatusCreated, rec.Code)
	var batch UploadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Uploaded)
	assert.Empty(t, batch.Failures)
	require.Len(t, batch.Results, 1)
	res := batch.Results[0]
	assert.Equal(t, "Day_report_2024-01-01.txt", res.Filename)
	assert.Equal(t, 3, res.Samples)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "30", res.Reports[0].CPUPct.String())
}

func TestUploadCreate_InvalidFilename(t *testing.T) {
	svc, _ := newTestServices(t)
	h := NewUpload(svc.Ingest, 1<<20)
	rec := httptest.NewRecorder()

	h.Create(rec, newUploadRequest("/uploads", "report.txt", []byte("p1;ns-a;1;10\n")))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var batch UploadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Zero(t, batch.Uploaded)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "report.txt", batch.Failures[0].File)
	assert.Equal(t, "invalid_filename", batch.Failures[0].Code)

	list := httptest.NewRecorder()
	h.List(list, newRequest(http.MethodGet, "/uploads", nil))
	var entries []archive.Entry
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestUploadCreate_MultipleFiles(t *testing.T) {
	svc, stores := newTestServices(t)
	seedQuota(t, stores.Quotas, "C1", "p1", "10", "100")
	h := NewUpload(svc.Ingest, 1<<20)
	rec := httptest.NewRecorder()

	h.Create(rec, newUploadRequestFiles("/uploads",
		uploadFile{name: "Day_report_2024-01-01.txt", content: []byte("p1;ns-a;1;10\n")},
		uploadFile{name: "notes.txt", content: []byte("p1;ns-a;9;90\n")},
		uploadFile{name: "Day_report_2024-01-02.txt", content: []byte("p1;ns-a;5;50\n")},
	))

	require.Equal(t, http.StatusCreated, rec.Code)
	var batch UploadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.Uploaded)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "Day_report_2024-01-01.txt", batch.Results[0].Filename)
	assert.Equal(t, "Day_report_2024-01-02.txt", batch.Results[1].Filename)
	require.Len(t, batch.Results[1].Reports, 1)
	assert.Equal(t, "50", batch.Results[1].Reports[0].CPUPct.String())

	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "notes.txt", batch.Failures[0].File)
	assert.Equal(t, "invalid_filename", batch.Failures[0].Code)

	list := httptest.NewRecorder()
	h.List(list, newRequest(http.MethodGet, "/uploads", nil))
	var entries []archive.Entry
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)
}

func TestUploadCreate_NoFile(t *testing.T) {
	svc, _ := newTestServices(t)
	h := NewUpload(svc.Ingest, 1<<20)
	rec := httptest.NewRecorder()

	h.Create(rec, newUploadRequestFiles("/uploads"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "missing file")
}

func TestUploadCreate_TooLarge(t *testing.T) {
	svc, _ := newTestServices(t)
	h := NewUpload(svc.Ingest, 64)
	rec := httptest.NewRecorder()

	big := make([]byte, 4096)
	h.Create(rec, newUploadRequest("/uploads", "Day_report_2024-01-01.txt", big))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadListAndReprocess(t *testing.T) {
	svc, stores := newTestServices(t)
	h := NewUpload(svc.Ingest, 1<<20)

	rec := httptest.NewRecorder()
	h.Create(rec, newUploadRequest("/uploads", "Day_report_2024-01-01.txt", []byte("p1;ns-a;5;10\n")))
	require.Equal(t, http.StatusCreated, rec.Code)

	var batch UploadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch.Results, 1)
	first := batch.Results[0]
	require.Len(t, first.Failures, 1)
	assert.Equal(t, "quota_not_found", first.Failures[0].Code)

	list := httptest.NewRecorder()
	h.List(list, newRequest(http.MethodGet, "/uploads", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var entries []archive.Entry
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Day_report_2024-01-01.txt", entries[0].Name)

	seedQuota(t, stores.Quotas, "C1", "p1", "10", "100")
	rec = httptest.NewRecorder()
	h.Reprocess(rec, withChiURLParam(newRequest(http.MethodPost, "/uploads/x/reprocess", nil), "name", "Day_report_2024-01-01.txt"))
	require.Equal(t, http.StatusOK, rec.Code)

	var again core.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Empty(t, again.Failures)
	require.Len(t, again.Reports, 1)
	assert.Equal(t, "50", again.Reports[0].CPUPct.String())
}

func TestUploadReprocess_NotFound(t *testing.T) {
	svc, _ := newTestServices(t)
	h := NewUpload(svc.Ingest, 1<<20)
	rec := httptest.NewRecorder()

	h.Reprocess(rec, withChiURLParam(newRequest(http.MethodPost, "/uploads/x/reprocess", nil), "name", "Day_report_2023-01-01.txt"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "upload_not_found", decodeErrorResponse(rec)["code"])
}
