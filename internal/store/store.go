// Package store is the narrow adapter between the comment engine and the
// managed backend: named collections with filtered select, insert, update and
// delete, plus a change-event channel per collection.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrBrokerClosed      = errors.New("broker closed")
)

// Store is the Remote Store Adapter contract. Every method returns an error
// value instead of panicking; zero matching rows is never an error.
type Store interface {
	QueryAll(ctx context.Context, collection string, dest any, opts ...QueryOption) error
	QueryWhere(ctx context.Context, collection string, where Predicate, dest any, opts ...QueryOption) error
	// Insert writes record and fills in store-assigned fields.
	Insert(ctx context.Context, collection string, record any) error
	// Update applies patch to the rows matching key. dest, when non-nil,
	// receives the updated rows.
	Update(ctx context.Context, collection string, key Predicate, patch Patch, dest any) error
	Delete(ctx context.Context, collection string, key Predicate) (int64, error)
	// Transaction runs fn against a transactional view of the store. Change
	// events raised inside fn are published after commit only.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	Subscribe(ctx context.Context, collection string, mask EventMask) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// Error wraps a backend failure with the operation that caused it.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpIsNull
)

// Cond is a single column condition.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Predicate is a conjunction of conditions.
type Predicate []Cond

func Where(conds ...Cond) Predicate { return Predicate(conds) }

func Eq(column string, value any) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

// In matches any element of values, which must be a slice.
func In(column string, values any) Cond { return Cond{Column: column, Op: OpIn, Value: values} }

func IsNull(column string) Cond { return Cond{Column: column, Op: OpIsNull} }

// Patch maps column names to new values. Delta and Tally values are computed
// by the backend in the write itself instead of being written literally.
type Patch map[string]any

// Delta adds By to a numeric column atomically. The result never drops below zero.
type Delta struct {
	By int
}

func Increment(n int) Delta { return Delta{By: n} }

// Tally sets a column to the number of rows in Collection whose Column equals
// the updated row's Key.
type Tally struct {
	Collection string
	Column     string
	Key        string
}

func CountOf(collection, column, key string) Tally {
	return Tally{Collection: collection, Column: column, Key: key}
}

type orderBy struct {
	column string
	desc   bool
}

type query struct {
	columns []string
	order   []orderBy
	limit   int
	lock    bool
}

// QueryOption tunes a read.
type QueryOption func(*query)

func OrderBy(column string, desc bool) QueryOption {
	return func(q *query) { q.order = append(q.order, orderBy{column: column, desc: desc}) }
}

func Select(columns ...string) QueryOption {
	return func(q *query) { q.columns = append(q.columns, columns...) }
}

func Limit(n int) QueryOption {
	return func(q *query) { q.limit = n }
}

// ForUpdate locks the selected rows until the surrounding transaction ends.
// Backends without row locks ignore it.
func ForUpdate() QueryOption {
	return func(q *query) { q.lock = true }
}

func buildQuery(opts []QueryOption) query {
	var q query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// EventType names a write that happened on a collection.
type EventType string

const (
	EventTypeInsert EventType = "INSERT"
	EventTypeUpdate EventType = "UPDATE"
	EventTypeDelete EventType = "DELETE"
)

// EventMask selects which event types a subscription receives.
type EventMask uint8

const (
	EventInsert EventMask = 1 << iota
	EventUpdate
	EventDelete

	EventAll = EventInsert | EventUpdate | EventDelete
)

func (m EventMask) Has(t EventType) bool {
	switch t {
	case EventTypeInsert:
		return m&EventInsert != 0
	case EventTypeUpdate:
		return m&EventUpdate != 0
	case EventTypeDelete:
		return m&EventDelete != 0
	}
	return false
}

// Event is a change notification. It carries no row data; receivers refetch.
type Event struct {
	Collection string    `json:"collection"`
	Type       EventType `json:"type"`
	Rows       int64     `json:"rows"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at"`
}
