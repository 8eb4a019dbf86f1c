package shardpager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSortFields(t *testing.T) {
	fields, err := ParseSortFields(" price:DESC, name ,id:asc")
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Name: "price", Desc: true}, {Name: "name"}, {Name: "id"}}, fields)
	assert.Equal(t, "price:desc", fields[0].String())
	assert.Equal(t, "name:asc", fields[1].String())

	fields, err = ParseSortFields("  ")
	require.NoError(t, err)
	assert.Nil(t, fields)

	_, err = ParseSortFields("a,,b")
	assert.Error(t, err)
	_, err = ParseSortFields("a:sideways")
	assert.Error(t, err)
}

func TestFieldSorterIsStable(t *testing.T) {
	docs := []Record{
		NewRecord(MustField("id", 1), MustField("group", "b")),
		NewRecord(MustField("id", 2), MustField("group", "a")),
		NewRecord(MustField("id", 3), MustField("group", "b")),
		NewRecord(MustField("id", 4)),
		NewRecord(MustField("id", 5), MustField("group", "a")),
	}
	sorted := FieldSorter{}.Sort(docs, []SortField{{Name: "group"}})
	assert.Equal(t, []string{"4", "2", "5", "1", "3"}, ids(sorted))

	sorted = FieldSorter{}.Sort(docs, []SortField{{Name: "group", Desc: true}, {Name: "id", Desc: true}})
	assert.Equal(t, []string{"3", "1", "5", "2", "4"}, ids(sorted))

	assert.Equal(t, ids(sorted), ids(FieldSorter{}.Sort(sorted, nil)))
}
