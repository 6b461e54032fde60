package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// ParseCatalog reads a CelesTrak-style stream of element sets. Records may
// carry a name line or not. Malformed records are skipped with a warning and
// the reader resynchronises on the next "1 "/"2 " pair.
func ParseCatalog(r io.Reader, referenceYear int, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n\t ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	var sets []ElementSet
	for i := 0; i+1 < len(lines); {
		var name, line1, line2 string
		switch {
		case isDataLine(lines[i], '1') && isDataLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isDataLine(lines[i+1], '1') && isDataLine(lines[i+2], '2'):
			name, line1, line2 = lines[i], lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed element set", "line_index", i, "line", lines[i])
			i++
			continue
		}

		es, err := ParseLines(name, line1, line2, referenceYear)
		if err != nil {
			attrs := []any{"name", strings.TrimSpace(name), "error", err}
			var fe *FieldError
			if errors.As(err, &fe) {
				attrs = append(attrs, "line", fe.Line, "field", fe.Field)
			}
			logger.Warn("skipping invalid element set", attrs...)
			continue
		}
		sets = append(sets, es)
	}

	return sets, nil
}

func isDataLine(line string, n byte) bool {
	return len(line) >= 2 && line[0] == n && line[1] == ' '
}

// EpochRange represents the minimum and maximum epoch times in a catalog.
type EpochRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Catalog is a complete set of element sets from one fetch.
type Catalog struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Sets       []ElementSet

	index map[int]int
}

// NewCatalog indexes sets by catalog number. When a number repeats, the set
// with the latest epoch wins.
func NewCatalog(source string, fetchedAt time.Time, sets []ElementSet) *Catalog {
	c := &Catalog{
		Source:    source,
		FetchedAt: fetchedAt,
		index:     make(map[int]int, len(sets)),
	}

	for _, es := range sets {
		if j, ok := c.index[es.CatalogNumber()]; ok {
			if es.EpochJD() > c.Sets[j].EpochJD() {
				c.Sets[j] = es
			}
			continue
		}
		c.index[es.CatalogNumber()] = len(c.Sets)
		c.Sets = append(c.Sets, es)
	}

	for i, es := range c.Sets {
		epoch := es.Epoch()
		if i == 0 || epoch.Before(c.EpochRange.Min) {
			c.EpochRange.Min = epoch
		}
		if i == 0 || epoch.After(c.EpochRange.Max) {
			c.EpochRange.Max = epoch
		}
	}

	return c
}

// Lookup returns the element set with the given catalog number.
func (c *Catalog) Lookup(catalogNumber int) (ElementSet, bool) {
	j, ok := c.index[catalogNumber]
	if !ok {
		return ElementSet{}, false
	}
	return c.Sets[j], true
}

// Len returns the number of distinct objects in the catalog.
func (c *Catalog) Len() int { return len(c.Sets) }
