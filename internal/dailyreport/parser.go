// Package dailyreport parses uploaded daily usage reports.
//
// A report is named Day_report_YYYY-MM-DD (optionally with an extension) and
// holds one namespace per line:
//
//	project_name;namespace;cpu_used_cores;memory_used_bytes
package dailyreport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/edvin/quotausage/internal/model"
)

const fieldCount = 4

// maxLineBytes is the longest accepted line.
const maxLineBytes = 64 * 1024

var filenameRegex = regexp.MustCompile(`^Day_report_(\d{4}-\d{2}-\d{2})(\.[A-Za-z0-9]+)?$`)

var validate = validator.New()

// LineDiagnostic records why a line was skipped.
type LineDiagnostic struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// Result is the parsed content of one report.
type Result struct {
	Date    time.Time                    `json:"date"`
	Samples []model.NamespaceUsageSample `json:"samples"`
	Skipped []LineDiagnostic             `json:"skipped"`
}

// Failures converts the skipped lines into batch failures.
func (r *Result) Failures() []model.ItemFailure {
	failures := make([]model.ItemFailure, 0, len(r.Skipped))
	for _, d := range r.Skipped {
		failures = append(failures, model.ItemFailure{
			Index:  d.Line,
			Key:    d.Content,
			Code:   model.CodeOf(model.ErrInvalidLine),
			Reason: d.Reason,
		})
	}
	return failures
}

// line is the tagged form of a report line before numeric conversion.
type line struct {
	ProjectName string `validate:"required,max=255"`
	Namespace   string `validate:"required,max=253"`
	CPUUsed     string `validate:"required,numeric"`
	MemUsed     string `validate:"required,numeric"`
}

// ParseFilename extracts the report date from a filename. Directory
// components are ignored.
func ParseFilename(name string) (time.Time, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	m := filenameRegex.FindStringSubmatch(base)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match Day_report_YYYY-MM-DD", model.ErrInvalidFilename, base)
	}
	date, err := time.Parse(model.DateLayout, m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", model.ErrInvalidFilename, base, err)
	}
	return date, nil
}

// Parse reads a report. A malformed line is skipped with a diagnostic and
// never aborts the remaining lines. Only an invalid filename or a read error
// fails the whole report.
func Parse(filename string, r io.Reader) (*Result, error) {
	date, err := ParseFilename(filename)
	if err != nil {
		return nil, err
	}

	res := &Result{Date: date, Samples: []model.NamespaceUsageSample{}, Skipped: []LineDiagnostic{}}

	br := bufio.NewReader(r)
	lineNo := 0
	for {
		text, tooLong, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read report %s at line %d: %w", filename, lineNo+1, err)
		}
		eof := err != nil
		if eof && text == "" && !tooLong {
			break
		}
		lineNo++

		if tooLong {
			reason := fmt.Errorf("%w: line exceeds %d bytes", model.ErrInvalidLine, maxLineBytes)
			res.Skipped = append(res.Skipped, LineDiagnostic{Line: lineNo, Reason: reason.Error()})
		} else {
			if lineNo == 1 {
				text = strings.TrimPrefix(text, "\ufeff")
			}
			text = strings.TrimSpace(text)
			if text != "" {
				sample, err := parseLine(text, date)
				if err != nil {
					res.Skipped = append(res.Skipped, LineDiagnostic{Line: lineNo, Content: text, Reason: err.Error()})
				} else {
					res.Samples = append(res.Samples, sample)
				}
			}
		}

		if eof {
			break
		}
	}

	return res, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed to its end and returned empty with tooLong set.
func readLine(br *bufio.Reader) (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(bytes.TrimRight(buf, "\r\n")) > maxLineBytes {
				tooLong = true
				buf = nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(bytes.TrimRight(buf, "\r\n")), tooLong, err
	}
}

func parseLine(text string, date time.Time) (model.NamespaceUsageSample, error) {
	parts := strings.Split(text, ";")
	if len(parts) != fieldCount {
		return model.NamespaceUsageSample{}, fmt.Errorf("%w: expected %d fields, got %d", model.ErrInvalidLine, fieldCount, len(parts))
	}

	l := line{
		ProjectName: strings.TrimSpace(parts[0]),
		Namespace:   strings.TrimSpace(parts[1]),
		CPUUsed:     strings.TrimSpace(parts[2]),
		MemUsed:     strings.TrimSpace(parts[3]),
	}
	if err := validate.Struct(l); err != nil {
		return model.NamespaceUsageSample{}, fmt.Errorf("%w: %v", model.ErrInvalidLine, err)
	}

	cpu, err := nonNegative("cpu_used", l.CPUUsed)
	if err != nil {
		return model.NamespaceUsageSample{}, err
	}
	mem, err := nonNegative("memory_used", l.MemUsed)
	if err != nil {
		return model.NamespaceUsageSample{}, err
	}

	return model.NamespaceUsageSample{
		ProjectName: l.ProjectName,
		Namespace:   l.Namespace,
		Date:        date,
		CPUUsed:     cpu,
		MemUsed:     mem,
		Source:      model.SampleSourceUpload,
	}, nil
}

func nonNegative(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", model.ErrInvalidLine, field, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s %q is negative", model.ErrInvalidLine, field, s)
	}
	return d, nil
}
