package sqlitehost

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/relaymail/mailcore/internal/host"
)

// ErrNotFound mirrors the teacher's database.ErrNotFound sentinel,
// generalized from one table to the document store. It wraps
// host.ErrNotFound so callers can match on either.
var ErrNotFound = fmt.Errorf("sqlitehost: document not found: %w", host.ErrNotFound)

// Storage adapts *DB to host.Storage.
type Storage struct{ db *DB }

// NewStorage wraps db as a host.Storage.
func NewStorage(db *DB) *Storage { return &Storage{db: db} }

var _ host.Storage = (*Storage)(nil)

func (s *Storage) Get(ctx context.Context, coll, id string, out any) error {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = ? AND id = ?`, coll, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlitehost: get %s/%s: %w", coll, id, err)
	}
	return json.Unmarshal([]byte(body), out)
}

func (s *Storage) Put(ctx context.Context, coll, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlitehost: marshal %s/%s: %w", coll, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP
	`, coll, id, string(body))
	if err != nil {
		return fmt.Errorf("sqlitehost: put %s/%s: %w", coll, id, err)
	}
	return nil
}

// TryPut is the atomic insert-if-absent primitive spec.md §4.C5's
// try_claim is built on, grounded on the teacher's CreateMessage
// INSERT OR IGNORE + RowsAffected pattern.
func (s *Storage) TryPut(ctx context.Context, coll, id string, doc any) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("sqlitehost: marshal %s/%s: %w", coll, id, err)
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (collection, id, body) VALUES (?, ?, ?)`,
		coll, id, string(body))
	if err != nil {
		return false, fmt.Errorf("sqlitehost: try_put %s/%s: %w", coll, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitehost: rows affected %s/%s: %w", coll, id, err)
	}
	return n > 0, nil
}

func (s *Storage) Delete(ctx context.Context, coll, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, coll, id)
	if err != nil {
		return fmt.Errorf("sqlitehost: delete %s/%s: %w", coll, id, err)
	}
	return nil
}

// scan loads every document body in coll as raw JSON text; callers
// decode each into a map[string]any for filtering. Collections stay small enough per
// user (a handful of accounts, a bounded processed watermark window)
// that Go-side filtering beats depending on sqlite's json1 extension.
func (s *Storage) scan(ctx context.Context, coll string) ([]string, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies, `SELECT body FROM documents WHERE collection = ?`, coll)
	if err != nil {
		return nil, fmt.Errorf("sqlitehost: scan %s: %w", coll, err)
	}
	return bodies, nil
}

func matches(body string, query host.Query) (map[string]any, bool) {
	if len(query) == 0 {
		return nil, true
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return nil, false
	}
	for k, want := range query {
		got, ok := m[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return m, false
		}
	}
	return m, true
}

func (s *Storage) Find(ctx context.Context, coll string, query host.Query, opts host.FindOptions, out any) error {
	bodies, err := s.scan(ctx, coll)
	if err != nil {
		return err
	}

	type hit struct {
		body string
		doc  map[string]any
	}
	var hits []hit
	for _, b := range bodies {
		doc, ok := matches(b, query)
		if !ok {
			continue
		}
		if doc == nil {
			if err := json.Unmarshal([]byte(b), &doc); err != nil {
				continue
			}
		}
		hits = append(hits, hit{body: b, doc: doc})
	}

	if opts.Sort != "" {
		field := strings.TrimPrefix(opts.Sort, "-")
		desc := strings.HasPrefix(opts.Sort, "-")
		sort.SliceStable(hits, func(i, j int) bool {
			vi := fmt.Sprintf("%v", hits[i].doc[field])
			vj := fmt.Sprintf("%v", hits[j].doc[field])
			if desc {
				return vi > vj
			}
			return vi < vj
		})
	}

	if opts.Offset > 0 && opts.Offset < len(hits) {
		hits = hits[opts.Offset:]
	} else if opts.Offset >= len(hits) {
		hits = nil
	}
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	return decodeSlice(hits, out, func(h hit) string { return h.body })
}

func decodeSlice[T any](hits []T, out any, bodyOf func(T) string) error {
	outPtr := reflect.ValueOf(out)
	if outPtr.Kind() != reflect.Ptr || outPtr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("sqlitehost: Find out must be a pointer to a slice")
	}
	sliceVal := outPtr.Elem()
	elemType := sliceVal.Type().Elem()
	result := reflect.MakeSlice(sliceVal.Type(), 0, len(hits))
	for _, h := range hits {
		elem := reflect.New(elemType)
		if err := json.Unmarshal([]byte(bodyOf(h)), elem.Interface()); err != nil {
			return fmt.Errorf("sqlitehost: decode document: %w", err)
		}
		result = reflect.Append(result, elem.Elem())
	}
	sliceVal.Set(result)
	return nil
}

func (s *Storage) FindOne(ctx context.Context, coll string, query host.Query, out any) error {
	bodies, err := s.scan(ctx, coll)
	if err != nil {
		return err
	}
	for _, b := range bodies {
		if _, ok := matches(b, query); ok {
			return json.Unmarshal([]byte(b), out)
		}
	}
	return ErrNotFound
}

func (s *Storage) DeleteMany(ctx context.Context, coll string, query host.Query) error {
	var ids []struct {
		ID   string `db:"id"`
		Body string `db:"body"`
	}
	err := s.db.SelectContext(ctx, &ids, `SELECT id, body FROM documents WHERE collection = ?`, coll)
	if err != nil {
		return fmt.Errorf("sqlitehost: delete_many scan %s: %w", coll, err)
	}
	for _, row := range ids {
		if _, ok := matches(row.Body, query); ok {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, coll, row.ID); err != nil {
				return fmt.Errorf("sqlitehost: delete_many %s/%s: %w", coll, row.ID, err)
			}
		}
	}
	return nil
}
