package tabular

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/model"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"CSV", FormatCSV, false},
		{" csv ", FormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFromFilename(t *testing.T) {
	f, err := FormatFromFilename(`C:\quotas\2024.xlsx`)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = FormatFromFilename("quotas.csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = FormatFromFilename("quotas")
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
}

func TestXLSX_RoundTrip(t *testing.T) {
	rows := [][]string{
		{"cloud_id", "project_name", "cpu_quota", "mem_quota"},
		{"C1", "proj-a", "10", "1073741824"},
		{"C2", "proj-b", "2.5", "512"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, FormatXLSX, "quotas", rows))

	got, err := ReadRows(FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestCSV_WriteAndRead(t *testing.T) {
	rows := [][]string{
		{"cloud_id", "year"},
		{"C1", "2024"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, FormatCSV, "", rows))
	assert.Equal(t, "cloud_id,year\nC1,2024\n", buf.String())

	got, err := ReadRows(FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestCSV_BOMAndRaggedRows(t *testing.T) {
	got, err := ReadRows(FormatCSV, strings.NewReader("\ufeffcloud_id,project_name\nC1,p,extra\nC2\n"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "cloud_id", got[0][0])
	assert.Len(t, got[1], 3)
	assert.Len(t, got[2], 1)
}

func TestReadRows_BadWorkbook(t *testing.T) {
	_, err := ReadRows(FormatXLSX, strings.NewReader("not a zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open workbook")
}
