package memstore

import (
	"github.com/hashicorp/go-memdb"
	"github.com/rs/zerolog"

	"github.com/mickamy/relq/orm"
)

const (
	tableRows = "rows"
	indexID   = "id"
	indexName = "table"
	indexKey  = "key"
)

// record is one stored row. seq orders rows by insertion; key is the
// normalised primary key of the row within its table.
type record struct {
	seq   uint64
	table string
	key   string
	row   orm.Row
}

func (r *record) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("seq", r.seq).Str("table", r.table).Str("key", r.key)
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableRows: {
			Name: tableRows,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.UintFieldIndex{Field: "seq"},
				},
				indexName: {
					Name:    indexName,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "table"},
				},
				indexKey: {
					Name:   indexKey,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "table"},
							&memdb.StringFieldIndex{Field: "key"},
						},
					},
				},
			},
		},
	},
}
