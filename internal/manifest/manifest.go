// Package manifest parses the CSV metadata file accompanying a template bundle into
// normalized row records. Manifests come from two tooling generations: newer exports
// use snake_case column keys, older ones human-readable headers. Each logical field
// therefore resolves through an ordered alias group — snake_case first, then the
// header alias; the first non-empty match wins.
package manifest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ParseError wraps a malformed-CSV failure. A parse error aborts the whole
// ingest; rows that are merely incomplete are dropped instead (see Parse).
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Row is one normalized manifest record.
type Row struct {
	DocID           string
	Name            string
	TemplateType    string
	SystemName      string
	Categories      string
	DataContext     string
	ParticipantRole string
	OutputTitle     string
	OutputFileName  string
	DocumentSource  string
}

// fieldAliases maps each logical field to its column-name candidates in
// priority order. Lookup is case-sensitive on purpose: the two conventions are
// distinct, not fuzzy.
var fieldAliases = []struct {
	set     func(*Row, string)
	aliases []string
}{
	{func(r *Row, v string) { r.DocID = v }, []string{"docid", "Document ID"}},
	{func(r *Row, v string) { r.Name = v }, []string{"name", "Template Name"}},
	{func(r *Row, v string) { r.TemplateType = v }, []string{"template_type", "Template Type"}},
	{func(r *Row, v string) { r.SystemName = v }, []string{"system_name", "System Name"}},
	{func(r *Row, v string) { r.Categories = v }, []string{"categories", "Categories"}},
	{func(r *Row, v string) { r.DataContext = v }, []string{"data_context", "Data Context"}},
	{func(r *Row, v string) { r.ParticipantRole = v }, []string{"participant_role", "Participant Role"}},
	{func(r *Row, v string) { r.OutputTitle = v }, []string{"output_title", "Output Title"}},
	{func(r *Row, v string) { r.OutputFileName = v }, []string{"output_file_name", "Output File Name"}},
	{func(r *Row, v string) { r.DocumentSource = v }, []string{"document_source", "Document Source"}},
}

// Parse reads the manifest bytes and returns the accepted rows in file order.
// A row is accepted only when both docid and name resolve to non-empty values;
// incomplete rows are silently dropped. Structural CSV failures surface as
// *ParseError. Zero accepted rows is not an error here — the caller decides
// whether an empty result fails the operation.
func Parse(data []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, &ParseError{Err: err}
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}

		row := normalize(record, index)
		if row.DocID == "" || row.Name == "" {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// normalize resolves each logical field through its alias group.
func normalize(record []string, index map[string]int) Row {
	var row Row
	for _, field := range fieldAliases {
		for _, alias := range field.aliases {
			i, ok := index[alias]
			if !ok || i >= len(record) {
				continue
			}
			value := strings.TrimSpace(record[i])
			if value != "" {
				field.set(&row, value)
				break
			}
		}
	}
	return row
}
