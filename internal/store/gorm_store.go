package store

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rujing/internal/metrics"
)

// Model is anything gorm can map to a named table.
type Model interface {
	TableName() string
}

// GormStore implements Store on top of a relational database.
type GormStore struct {
	db      *gorm.DB
	broker  Broker
	logger  *zap.Logger
	metrics *metrics.Metrics
	models  map[string]reflect.Type
	source  string

	// non-nil inside Transaction; events wait here until commit
	pending *[]Event
}

// NewGormStore serves the collections named by models.
func NewGormStore(db *gorm.DB, broker Broker, logger *zap.Logger, m *metrics.Metrics, models ...Model) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = NewLocalBroker(logger, m)
	}
	types := make(map[string]reflect.Type, len(models))
	for _, model := range models {
		t := reflect.TypeOf(model)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		types[model.TableName()] = t
	}
	return &GormStore{
		db:      db,
		broker:  broker,
		logger:  logger,
		metrics: m,
		models:  types,
		source:  uuid.NewString(),
	}
}

func (s *GormStore) observe(collection, op string, start time.Time, err *error) {
	s.metrics.RecordStoreOp(collection, op, time.Since(start), *err)
}

func (s *GormStore) table(ctx context.Context, collection string) (*gorm.DB, error) {
	if _, ok := s.models[collection]; !ok {
		return nil, ErrUnknownCollection
	}
	return s.db.WithContext(ctx).Table(collection), nil
}

func (s *GormStore) QueryAll(ctx context.Context, collection string, dest any, opts ...QueryOption) error {
	return s.QueryWhere(ctx, collection, nil, dest, opts...)
}

func (s *GormStore) QueryWhere(ctx context.Context, collection string, where Predicate, dest any, opts ...QueryOption) (err error) {
	defer s.observe(collection, "select", time.Now(), &err)

	tx, err := s.table(ctx, collection)
	if err != nil {
		return &Error{Op: "select", Collection: collection, Err: err}
	}
	q := buildQuery(opts)
	if len(q.columns) > 0 {
		tx = tx.Select(q.columns)
	}
	tx, err = applyPredicate(tx, where)
	if err != nil {
		return &Error{Op: "select", Collection: collection, Err: err}
	}
	for _, o := range q.order {
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: o.column}, Desc: o.desc})
	}
	if q.limit > 0 {
		tx = tx.Limit(q.limit)
	}
	if q.lock {
		tx = tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	if err := tx.Find(dest).Error; err != nil {
		return &Error{Op: "select", Collection: collection, Err: err}
	}
	return nil
}

func (s *GormStore) Insert(ctx context.Context, collection string, record any) (err error) {
	defer s.observe(collection, "insert", time.Now(), &err)

	tx, err := s.table(ctx, collection)
	if err != nil {
		return &Error{Op: "insert", Collection: collection, Err: err}
	}
	res := tx.Create(record)
	if res.Error != nil {
		return &Error{Op: "insert", Collection: collection, Err: res.Error}
	}
	s.emit(ctx, collection, EventTypeInsert, res.RowsAffected)
	return nil
}

func (s *GormStore) Update(ctx context.Context, collection string, key Predicate, patch Patch, dest any) (err error) {
	defer s.observe(collection, "update", time.Now(), &err)

	if len(key) == 0 {
		return &Error{Op: "update", Collection: collection, Err: fmt.Errorf("update without key")}
	}
	tx, err := s.table(ctx, collection)
	if err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	tx, err = applyPredicate(tx, key)
	if err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	for _, v := range patch {
		if t, ok := v.(Tally); ok {
			if _, known := s.models[t.Collection]; !known {
				return &Error{Op: "update", Collection: collection, Err: ErrUnknownCollection}
			}
		}
	}
	res := tx.Updates(buildPatch(collection, patch))
	if res.Error != nil {
		return &Error{Op: "update", Collection: collection, Err: res.Error}
	}
	s.emit(ctx, collection, EventTypeUpdate, res.RowsAffected)

	if dest == nil {
		return nil
	}
	read, _ := s.table(ctx, collection)
	read, _ = applyPredicate(read, key)
	if err := read.Find(dest).Error; err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, collection string, key Predicate) (n int64, err error) {
	defer s.observe(collection, "delete", time.Now(), &err)

	if len(key) == 0 {
		return 0, &Error{Op: "delete", Collection: collection, Err: fmt.Errorf("delete without key")}
	}
	t, ok := s.models[collection]
	if !ok {
		return 0, &Error{Op: "delete", Collection: collection, Err: ErrUnknownCollection}
	}
	tx, err := applyPredicate(s.db.WithContext(ctx).Table(collection), key)
	if err != nil {
		return 0, &Error{Op: "delete", Collection: collection, Err: err}
	}
	res := tx.Delete(reflect.New(t).Interface())
	if res.Error != nil {
		return 0, &Error{Op: "delete", Collection: collection, Err: res.Error}
	}
	s.emit(ctx, collection, EventTypeDelete, res.RowsAffected)
	return res.RowsAffected, nil
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.pending != nil {
		return fn(s)
	}

	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{
			db:      tx,
			broker:  s.broker,
			logger:  s.logger,
			metrics: s.metrics,
			models:  s.models,
			source:  s.source,
			pending: &events,
		})
	})
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return nil
}

func (s *GormStore) Subscribe(ctx context.Context, collection string, mask EventMask) (*Subscription, error) {
	if _, ok := s.models[collection]; !ok {
		return nil, &Error{Op: "subscribe", Collection: collection, Err: ErrUnknownCollection}
	}
	sub, err := s.broker.Subscribe(ctx, collection, mask)
	if err != nil {
		return nil, &Error{Op: "subscribe", Collection: collection, Err: err}
	}
	return sub, nil
}

func (s *GormStore) Unsubscribe(sub *Subscription) {
	s.broker.Unsubscribe(sub)
}

func (s *GormStore) emit(ctx context.Context, collection string, t EventType, rows int64) {
	if rows <= 0 {
		return
	}
	ev := Event{
		Collection: collection,
		Type:       t,
		Rows:       rows,
		Source:     s.source,
		At:         time.Now(),
	}
	if s.pending != nil {
		*s.pending = append(*s.pending, ev)
		return
	}
	s.publish(ctx, ev)
}

// publish never fails the write that caused it.
func (s *GormStore) publish(ctx context.Context, ev Event) {
	s.metrics.RecordEvent(ev.Collection, string(ev.Type))
	if err := s.broker.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("failed to publish change event",
			zap.String("collection", ev.Collection),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

func applyPredicate(tx *gorm.DB, where Predicate) (*gorm.DB, error) {
	for _, c := range where {
		col := clause.Column{Name: c.Column}
		switch c.Op {
		case OpEq:
			tx = tx.Where(clause.Eq{Column: col, Value: c.Value})
		case OpIsNull:
			tx = tx.Where(clause.Eq{Column: col, Value: nil})
		case OpIn:
			values, err := toValues(c.Value)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Column, err)
			}
			tx = tx.Where(clause.IN{Column: col, Values: values})
		default:
			return nil, fmt.Errorf("column %s: unsupported operator %d", c.Column, c.Op)
		}
	}
	return tx, nil
}

func toValues(v any) ([]any, error) {
	if vs, ok := v.([]any); ok {
		return vs, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("IN expects a slice, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func buildPatch(collection string, patch Patch) map[string]any {
	out := make(map[string]any, len(patch))
	for column, v := range patch {
		switch p := v.(type) {
		case Delta:
			col := clause.Column{Name: column}
			out[column] = gorm.Expr("CASE WHEN ? + ? < 0 THEN 0 ELSE ? + ? END", col, p.By, col, p.By)
		case Tally:
			out[column] = gorm.Expr("(SELECT COUNT(*) FROM ? WHERE ? = ?)",
				clause.Table{Name: p.Collection},
				clause.Column{Table: p.Collection, Name: p.Column},
				clause.Column{Table: collection, Name: p.Key},
			)
		default:
			out[column] = v
		}
	}
	return out
}
