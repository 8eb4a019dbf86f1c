package shardpager

import (
	"fmt"
	"slices"
	"strings"
)

// SortField is one key of a caller-supplied sort order.
type SortField struct {
	Name string
	Desc bool
}

func (f SortField) String() string {
	if f.Desc {
		return f.Name + ":desc"
	}
	return f.Name + ":asc"
}

// ParseSortFields parses a comma separated list of "field[:asc|:desc]" keys.
func ParseSortFields(s string) ([]SortField, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var fields []SortField
	for _, part := range strings.Split(s, ",") {
		name, dir, _ := strings.Cut(strings.TrimSpace(part), ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty sort field in %q", s)
		}
		f := SortField{Name: name}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			f.Desc = true
		default:
			return nil, fmt.Errorf("unknown sort direction %q for field %q", dir, name)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Sorter orders the records of one page.
type Sorter interface {
	Sort(records []Record, fields []SortField) []Record
}

// FieldSorter is a stable multi-key Sorter built on CompareField.
type FieldSorter struct{}

func (FieldSorter) Sort(records []Record, fields []SortField) []Record {
	if len(fields) == 0 || len(records) < 2 {
		return records
	}
	cmps := make([]Comparator[Record], 0, len(fields))
	for _, f := range fields {
		c := CompareField(f.Name)
		if f.Desc {
			c = ReverseComparator(c)
		}
		cmps = append(cmps, c)
	}
	cmp := ChainComparators(cmps...)
	slices.SortStableFunc(records, func(a, b Record) int { return cmp(a, b) })
	return records
}
