package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed repository. Callers pass table names
// from the router's closed set only, so identifiers are interpolated after a
// quoting pass rather than parameterized.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn() queryable { return r.pool }

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// orderColumn gives the newest-first sort column for a table.
func orderColumn(table string) string {
	if table == "appointments" {
		return "scheduled_at"
	}
	return "created_at"
}

func rowsToMaps(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		m := make(Row, len(fields))
		for i, fd := range fields {
			m[string(fd.Name)] = values[i]
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) GetByID(ctx context.Context, table, id string) (Row, error) {
	rows, err := r.conn().Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE id = $1`, quoteIdent(table)), id)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	out, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *repoPG) ListByPatient(ctx context.Context, table, patientID string, limit int) ([]Row, error) {
	q := fmt.Sprintf(`SELECT * FROM %s WHERE patient_id = $1 ORDER BY %s DESC`,
		quoteIdent(table), quoteIdent(orderColumn(table)))
	args := []interface{}{patientID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return rowsToMaps(rows)
}

// sortedKeys returns the record's column names in a stable order, skipping
// columns the server owns.
func sortedKeys(m Row, skip ...string) []string {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if !skipped[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (r *repoPG) Update(ctx context.Context, table, id string, updates Row) (Row, error) {
	keys := sortedKeys(updates, "id", "created_at", "updated_at")
	if len(keys) == 0 {
		return nil, fmt.Errorf("no updatable fields")
	}
	sets := make([]string, 0, len(keys)+1)
	args := []interface{}{id}
	for i, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(k), i+2))
		args = append(args, updates[k])
	}
	sets = append(sets, "updated_at = now()")
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING *`,
		quoteIdent(table), strings.Join(sets, ", "))
	rows, err := r.conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}
	out, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("update %s: no row with id %s", table, id)
	}
	return out[0], nil
}

func (r *repoPG) Insert(ctx context.Context, table string, record Row) (Row, error) {
	if record.ID() == "" {
		record = cloneRow(record)
		record["id"] = uuid.NewString()
	}
	keys := sortedKeys(record, "created_at", "updated_at")
	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		cols = append(cols, quoteIdent(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, record[k])
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	rows, err := r.conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	out, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return out[0], nil
}

func (r *repoPG) Delete(ctx context.Context, table, id string) error {
	_, err := r.conn().Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(table)), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (r *repoPG) ListRecent(ctx context.Context, table string, limit int) ([]Row, error) {
	q := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s DESC`,
		quoteIdent(table), quoteIdent(orderColumn(table)))
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.conn().Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return rowsToMaps(rows)
}

func (r *repoPG) SearchPatients(ctx context.Context, query string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 25
	}
	pattern := "%" + query + "%"
	rows, err := r.conn().Query(ctx, `
		SELECT * FROM patients
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
			OR phone ILIKE $1 OR chart_number ILIKE $1
		ORDER BY last_name, first_name
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return rowsToMaps(rows)
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
