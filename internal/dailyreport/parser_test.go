package dailyreport

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/model"
)

// ---------- ParseFilename ----------

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    time.Time
		wantErr bool
	}{
		{"plain", "Day_report_2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), false},
		{"with extension", "Day_report_2024-01-02.txt", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), false},
		{"with directory", "/tmp/uploads/Day_report_2024-02-29.csv", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"windows path", `C:\reports\Day_report_2024-03-01`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"wrong prefix", "day_report_2024-01-02", time.Time{}, true},
		{"missing date", "Day_report_", time.Time{}, true},
		{"impossible date", "Day_report_2023-02-30", time.Time{}, true},
		{"trailing junk", "Day_report_2024-01-02_copy", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilename(tt.file)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrInvalidFilename))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ---------- Parse ----------

func TestParse_ValidLines(t *testing.T) {
	content := "proj-a;ns-1;1.5;1073741824\nproj-a;ns-2;0.5;2147483648\nproj-b;ns-3;2;0\n"

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), res.Date)
	require.Len(t, res.Samples, 3)
	assert.Empty(t, res.Skipped)

	first := res.Samples[0]
	assert.Equal(t, "proj-a", first.ProjectName)
	assert.Equal(t, "ns-1", first.Namespace)
	assert.True(t, decimal.RequireFromString("1.5").Equal(first.CPUUsed))
	assert.True(t, decimal.RequireFromString("1073741824").Equal(first.MemUsed))
	assert.Equal(t, model.SampleSourceUpload, first.Source)
	assert.Equal(t, res.Date, first.Date)

	assert.Equal(t, "proj-b", res.Samples[2].ProjectName)
}

func TestParse_MalformedLineSkipped(t *testing.T) {
	content := strings.Join([]string{
		"proj-a;ns-1;1;100",
		"proj-a;ns-2;oops;100",
		"proj-b;ns-3;2;200",
		"proj-c;ns-4;3;300",
	}, "\n")

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)

	assert.Len(t, res.Samples, 3)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Line)
	assert.Equal(t, "proj-a;ns-2;oops;100", res.Skipped[0].Content)
	assert.Contains(t, res.Skipped[0].Reason, "invalid line")

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "invalid_line", failures[0].Code)
	assert.Equal(t, 2, failures[0].Index)
}

func TestParse_LineErrors(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"too few fields", "proj-a;ns-1;1", "expected 4 fields, got 3"},
		{"too many fields", "proj-a;ns-1;1;2;3", "expected 4 fields, got 5"},
		{"empty project", ";ns-1;1;2", "ProjectName"},
		{"empty namespace", "proj-a; ;1;2", "Namespace"},
		{"negative cpu", "proj-a;ns-1;-1;2", "is negative"},
		{"negative memory", "proj-a;ns-1;1;-2", "is negative"},
		{"non numeric memory", "proj-a;ns-1;1;2Gi", "MemUsed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse("Day_report_2024-01-02", strings.NewReader(tt.line))
			require.NoError(t, err)
			assert.Empty(t, res.Samples)
			require.Len(t, res.Skipped, 1)
			assert.Contains(t, res.Skipped[0].Reason, tt.reason)
		})
	}
}

func TestParse_EmptyFile(t *testing.T) {
	res, err := Parse("Day_report_2024-01-02", strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, res.Samples)
	assert.Empty(t, res.Skipped)
}

func TestParse_BlankLinesBOMAndCRLF(t *testing.T) {
	content := "\ufeffproj-a;ns-1;1;100\r\n\r\n  \r\nproj-b;ns-2;2;200\r\n"

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, res.Samples, 2)
	assert.Equal(t, "proj-a", res.Samples[0].ProjectName)
	assert.True(t, decimal.NewFromInt(200).Equal(res.Samples[1].MemUsed))
	assert.Empty(t, res.Skipped)
}

func TestParse_InvalidFilename(t *testing.T) {
	res, err := Parse("report.txt", strings.NewReader("proj-a;ns-1;1;100"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestParse_LineTooLong(t *testing.T) {
	content := "proj-a;ns-1;1;100\n" +
		"proj-a;ns-2;2;200\n" +
		"proj-b;ns-3;" + strings.Repeat("9", maxLineBytes+1) + ";1\n" +
		"proj-b;ns-4;4;400\n"

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, res.Samples, 3)
	assert.Equal(t, "ns-4", res.Samples[2].Namespace)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)
	assert.Contains(t, res.Skipped[0].Reason, "line exceeds 65536 bytes")
	assert.Empty(t, res.Skipped[0].Content)
}

func TestParse_LineTooLongWithoutTrailingNewline(t *testing.T) {
	content := "proj-a;ns-1;1;100\r\nproj-a;ns-2;2;" + strings.Repeat("9", maxLineBytes+1)

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)

	require.Len(t, res.Samples, 1)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Line)
}

func TestParse_LineAtLimitIsAccepted(t *testing.T) {
	prefix := "proj-a;ns-1;1;"
	content := prefix + strings.Repeat("9", maxLineBytes-len(prefix)) + "\n"

	res, err := Parse("Day_report_2024-01-02", strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Empty(t, res.Skipped)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestParse_ReadErrorFailsReport(t *testing.T) {
	_, err := Parse("Day_report_2024-01-02", io.MultiReader(strings.NewReader("proj-a;ns-1;1;100\n"), failingReader{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read report Day_report_2024-01-02 at line 2")
}
