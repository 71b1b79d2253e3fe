// SPDX-License-Identifier: GPL-3.0-or-later

// Package output renders a diagnosis report as a table, CSV, or JSON.
package output

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bassosimone/xmppdiag"
)

// Format is an output format.
type Format string

// Supported output formats.
const (
	// FormatTable prints aligned columns under RESULTS and TAGS banners.
	FormatTable Format = "table"

	// FormatCSV prints the results as comma-separated values.
	FormatCSV Format = "csv"

	// FormatJSON prints a single JSON object.
	FormatJSON Format = "json"
)

// ErrUnknownFormat indicates an unsupported [Format].
var ErrUnknownFormat = errors.New("output: unknown format")

// ParseFormat validates value and returns the corresponding [Format].
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(value)); f {
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
	}
}

// Write renders the result and tag records to w using format.
//
// The CSV format only contains the results.
func Write(w io.Writer, format Format, results, tags []xmppdiag.Record) error {
	switch format {
	case FormatTable:
		return writeTable(w, results, tags)
	case FormatCSV:
		return writeCSV(w, results)
	case FormatJSON:
		return writeJSON(w, results, tags)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteReport is like [Write] but takes the records from report.
func WriteReport(w io.Writer, format Format, report *xmppdiag.Report) error {
	return Write(w, format, report.ResultRecords(), report.TagRecords())
}

func writeTable(w io.Writer, results, tags []xmppdiag.Record) error {
	if err := writeBanner(w, "RESULTS"); err != nil {
		return err
	}
	if err := writeRecords(w, results); err != nil {
		return err
	}
	if len(tags) <= 0 {
		return nil
	}
	if len(results) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	if err := writeBanner(w, "Tags"); err != nil {
		return err
	}
	return writeRecords(w, tags)
}

func writeBanner(w io.Writer, title string) error {
	line := strings.Repeat("#", len(title)+4)
	_, err := fmt.Fprintf(w, "%s\n# %s #\n%s\n", line, title, line)
	return err
}

// writeRecords renders records as aligned columns with a header row.
func writeRecords(w io.Writer, records []xmppdiag.Record) error {
	if len(records) <= 0 {
		return nil
	}
	keys := records[0].Keys()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(keys, "\t"))
	rules := make([]string, 0, len(keys))
	for _, key := range keys {
		rules = append(rules, strings.Repeat("-", len(key)))
	}
	fmt.Fprintln(tw, strings.Join(rules, "\t"))
	for _, record := range records {
		fmt.Fprintln(tw, strings.Join(record.Strings(), "\t"))
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, results []xmppdiag.Record) error {
	if len(results) <= 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(results[0].Keys()); err != nil {
		return err
	}
	for _, record := range results {
		if err := cw.Write(record.Strings()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// jsonDocument is the top-level JSON object.
type jsonDocument struct {
	Data []xmppdiag.Record `json:"data"`
	Tags []xmppdiag.Record `json:"tags"`
}

func writeJSON(w io.Writer, results, tags []xmppdiag.Record) error {
	doc := jsonDocument{Data: results, Tags: tags}
	if doc.Data == nil {
		doc.Data = []xmppdiag.Record{}
	}
	if doc.Tags == nil {
		doc.Tags = []xmppdiag.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}
