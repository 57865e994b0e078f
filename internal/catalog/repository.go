package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/joao-fontenele/procurement-storefront/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInUse     = errors.New("referenced by existing orders")
	ErrDuplicate = errors.New("already exists")

	// ErrUnknownCategory is returned when a product references a category
	// that does not exist.
	ErrUnknownCategory = errors.New("unknown category")
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// Repository is the catalog persistence used by Handler.
type Repository interface {
	ListProducts(ctx context.Context, categoryID string) ([]domain.Product, error)
	// GetProduct returns nil when the product does not exist.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) error
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id string) error
	// ListLowStock returns products whose stock is at or below their
	// threshold, lowest stock first.
	ListLowStock(ctx context.Context) ([]domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) error
	UpdateCategory(ctx context.Context, c *domain.Category) error
	DeleteCategory(ctx context.Context, id string) error
}

type CatalogRepository struct {
	db *sql.DB
}

var _ Repository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const productColumns = `id, category_id, name, description, sku, price, stock_quantity, low_stock_threshold, image_url, created_at, updated_at`

func (r *CatalogRepository) ListProducts(ctx context.Context, categoryID string) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	var args []any
	if categoryID != "" {
		query += ` WHERE category_id = $1`
		args = append(args, categoryID)
	}
	query += ` ORDER BY name, id`

	return r.queryProducts(ctx, query, args...)
}

func (r *CatalogRepository) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return r.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE stock_quantity <= low_stock_threshold
		ORDER BY stock_quantity, id
	`)
}

func (r *CatalogRepository) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *CatalogRepository) CreateProduct(ctx context.Context, p *domain.Product) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, category_id, name, description, sku, price, stock_quantity, low_stock_threshold, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, p.ID, p.CategoryID, p.Name, p.Description, p.SKU, p.Price, p.StockQuantity, p.LowStockThreshold, p.ImageURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapWriteError(err, ErrUnknownCategory)
}

func (r *CatalogRepository) UpdateProduct(ctx context.Context, p *domain.Product) error {
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET category_id = $2, name = $3, description = $4, sku = $5, price = $6,
			stock_quantity = $7, low_stock_threshold = $8, image_url = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, p.ID, p.CategoryID, p.Name, p.Description, p.SKU, p.Price, p.StockQuantity, p.LowStockThreshold, p.ImageURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteError(err, ErrUnknownCategory)
}

func (r *CatalogRepository) DeleteProduct(ctx context.Context, id string) error {
	return r.delete(ctx, `DELETE FROM products WHERE id = $1`, id)
}

func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, created_at
		FROM categories
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	categories := []domain.Category{}
	for rows.Next() {
		var (
			c           domain.Category
			description sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &description, &c.CreatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			c.Description = &description.String
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return categories, nil
}

func (r *CatalogRepository) CreateCategory(ctx context.Context, c *domain.Category) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, c.ID, c.Name, c.Description).Scan(&c.CreatedAt)
	return mapWriteError(err, ErrInUse)
}

func (r *CatalogRepository) UpdateCategory(ctx context.Context, c *domain.Category) error {
	err := r.db.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $2, description = $3
		WHERE id = $1
		RETURNING created_at
	`, c.ID, c.Name, c.Description).Scan(&c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteError(err, ErrInUse)
}

// DeleteCategory removes a category. Products in it keep existing with no
// category.
func (r *CatalogRepository) DeleteCategory(ctx context.Context, id string) error {
	return r.delete(ctx, `DELETE FROM categories WHERE id = $1`, id)
}

func (r *CatalogRepository) delete(ctx context.Context, query, id string) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapWriteError(err, ErrInUse)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// mapWriteError translates constraint violations. fkErr is what a foreign
// key violation means for the statement that failed.
func mapWriteError(err, fkErr error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case foreignKeyViolation:
			return fkErr
		case uniqueViolation:
			return ErrDuplicate
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p           domain.Product
		categoryID  sql.NullString
		description sql.NullString
		imageURL    sql.NullString
	)
	err := row.Scan(&p.ID, &categoryID, &p.Name, &description, &p.SKU, &p.Price,
		&p.StockQuantity, &p.LowStockThreshold, &imageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CategoryID = nullString(categoryID)
	p.Description = nullString(description)
	p.ImageURL = nullString(imageURL)
	return &p, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
