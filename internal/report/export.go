package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/rodaine/table"

	"github.com/alvmarrod/link-weaver/internal/config"
)

// Exporter writes a result in one output format
type Exporter interface {
	Export(w io.Writer, result *Result) error
}

// NewExporter returns the exporter of format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case config.ReportTable:
		return &TableExporter{}, nil
	case config.ReportCSV:
		return &CSVExporter{}, nil
	case config.ReportJSON:
		return &JSONExporter{}, nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// TableExporter prints broken links as an aligned table
type TableExporter struct{}

// Export implements Exporter
func (e *TableExporter) Export(w io.Writer, result *Result) error {
	tbl := table.New("Page", "Broken", "Link", "Reason").WithWriter(w)
	for _, p := range result.List() {
		if p.Error != "" {
			tbl.AddRow(p.URL, "-", "", p.Error)
			continue
		}
		for i, broken := range p.Broken {
			if i == 0 {
				tbl.AddRow(p.URL, len(p.Broken), broken.Link, broken.Reason)
			} else {
				tbl.AddRow("", "", broken.Link, broken.Reason)
			}
		}
	}
	tbl.Print()
	return nil
}

// BrokenRow is one CSV line, the page columns are only set on its first line
type BrokenRow struct {
	Page     string `csv:"Page"`
	Counts   string `csv:"Counts"`
	Link     string `csv:"Link"`
	Reason   string `csv:"Reason"`
	Code     string `csv:"Code"`
	Selector string `csv:"Selector"`
}

// CSVExporter writes broken links as CSV
type CSVExporter struct{}

// Export implements Exporter
func (e *CSVExporter) Export(w io.Writer, result *Result) error {
	rows := e.transformData(result)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to export CSV: %w", err)
	}
	return nil
}

func (e *CSVExporter) transformData(result *Result) []BrokenRow {
	var rows []BrokenRow
	for _, p := range result.List() {
		if p.Error != "" {
			rows = append(rows, BrokenRow{Page: p.URL, Reason: p.Error})
			continue
		}
		for i, broken := range p.Broken {
			row := BrokenRow{
				Link:     broken.Link,
				Reason:   broken.Reason,
				Selector: broken.Selector,
			}
			if broken.Code != 0 {
				row.Code = strconv.Itoa(broken.Code)
			}
			if i == 0 {
				row.Page = p.URL
				row.Counts = strconv.Itoa(len(p.Broken))
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// JSONExporter writes the whole result as indented JSON
type JSONExporter struct{}

// Export implements Exporter
func (e *JSONExporter) Export(w io.Writer, result *Result) error {
	record := struct {
		Seed  string  `json:"seed"`
		Pages []*Page `json:"pages"`
	}{
		Seed:  result.Seed,
		Pages: result.List(),
	}

	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
