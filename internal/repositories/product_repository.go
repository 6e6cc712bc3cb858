package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"microtrax/internal/models"
)

type ProductRepository struct {
	DB      *sql.DB
	Dialect Dialect

	once sync.Once
	err  error
}

func NewProductRepository(db *sql.DB, dialect Dialect) *ProductRepository {
	return &ProductRepository{DB: db, Dialect: dialect}
}

const productColumns = `id, app_id, name, description, category, price, currency, active, created_at, updated_at`

func (r *ProductRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS products (
    id VARCHAR(64) NOT NULL,
    app_id VARCHAR(32) NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    category VARCHAR(128) NOT NULL DEFAULT '',
    price BIGINT NOT NULL,
    currency VARCHAR(16) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (id)
)`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

// GetProduct returns models.ErrProductNotFound when the id is unknown.
func (r *ProductRepository) GetProduct(ctx context.Context, id string) (models.Product, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Product{}, err
	}
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, models.ErrProductNotFound
	}
	return p, err
}

func (r *ProductRepository) List(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.AppID != "" {
		where = append(where, "app_id = ?")
		args = append(args, f.AppID)
	}
	if f.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}
	q := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY app_id, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save inserts or replaces a product keyed by id.
func (r *ProductRepository) Save(ctx context.Context, p models.Product) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	q := `INSERT INTO products (` + productColumns + `) VALUES (` + placeholders(10) + `) ` +
		r.Dialect.Upsert([]string{"id"}, []string{"app_id", "name", "description", "category", "price", "currency", "active", "updated_at"})
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(q),
		p.ID, p.AppID, p.Name, p.Description, p.Category, p.Price, p.Currency, p.Active, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrProductNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(s rowScanner) (models.Product, error) {
	var p models.Product
	err := s.Scan(&p.ID, &p.AppID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Currency, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
