package orm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a query expects exactly one row but finds none.
	ErrNotFound = errors.New("orm: not found")

	// ErrMissingPayload is returned by writes called without data.
	ErrMissingPayload = errors.New("orm: no data provided")

	// ErrUnsupportedOrderSpec is returned when OrderBy receives something other
	// than a string or a list of strings.
	ErrUnsupportedOrderSpec = errors.New("orm: unsupported order spec")

	// ErrUnknownRelation is matched by every *UnknownRelationError.
	ErrUnknownRelation = errors.New("orm: unknown relation")

	// ErrUnknownTransform is returned when Transform names a function that was
	// not registered on the Store.
	ErrUnknownTransform = errors.New("orm: unknown transform")

	// ErrUnknownTable is returned by queries against a table the Schema does
	// not declare.
	ErrUnknownTable = errors.New("orm: unknown table")

	// ErrInvalidKey is returned when an identifier does not fit the primary key.
	ErrInvalidKey = errors.New("orm: invalid key")

	// ErrSchemaFrozen is raised when relations are declared after Build.
	ErrSchemaFrozen = errors.New("orm: schema already built")
)

// UnknownRelationError occurs when an activated relation is not declared on
// the queried table.
type UnknownRelationError struct {
	Relation string
	Table    string
	Known    []string
}

func (err *UnknownRelationError) Error() string {
	return fmt.Sprintf(
		"orm: unknown relation %q for query on table %q, possible relations are %q",
		err.Relation, err.Table, strings.Join(err.Known, `", "`),
	)
}

func (err *UnknownRelationError) Is(target error) bool {
	return target == ErrUnknownRelation
}

// MarshalZerologObject implements zerolog object marshalling.
func (err *UnknownRelationError) MarshalZerologObject(e *zerolog.Event) {
	e.Str("relation", err.Relation).Str("table", err.Table).Strs("known", err.Known)
}
