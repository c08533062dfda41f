// Package fetcher streams headered tables out of delimited and spreadsheet
// files.
package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one data row of a headered table.
type Record struct {
	// Line is the 1-based row number in the source, counting the header.
	Line int
	// Header is shared by every Record of a table and must not be modified.
	Header []string
	Fields []string
}

// Get returns the field under column name, or "" when absent.
func (r Record) Get(name string) string {
	for i, h := range r.Header {
		if h == name && i < len(r.Fields) {
			return r.Fields[i]
		}
	}
	return ""
}

// Map returns the record as a column-to-value map. Columns missing from a
// short row map to "".
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Header))
	for i, h := range r.Header {
		if i < len(r.Fields) {
			m[h] = r.Fields[i]
		} else {
			m[h] = ""
		}
	}
	return m
}

// Collect drains a record stream into a slice, returning the first error.
func Collect(recCh <-chan Record, errCh <-chan error) ([]Record, error) {
	var out []Record
	for rec := range recCh {
		out = append(out, rec)
	}
	for err := range errCh {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func cleanHeader(cells []string) []string {
	header := make([]string, len(cells))
	for i, c := range cells {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		header[i] = strings.TrimSpace(c)
	}
	return header
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func send(ctx context.Context, recCh chan<- Record, rec Record, pkg string) error {
	select {
	case recCh <- rec:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "%s: context cancelled", pkg)
	}
}
