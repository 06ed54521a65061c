package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/lascentlo/internal/domain/product"
)

const (
	productColumns = `p.id, p.name, p.description, p.price, p.category, p.images, p.ingredients,
		p.average_rating, p.total_reviews, p.active, p.created_at, p.updated_at`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	listSizesSQL = `SELECT product_id, value, unit, price, stock
		FROM product_sizes WHERE product_id = ANY($1) ORDER BY product_id, position`

	listRatingsSQL = `SELECT user_id, rating, review, created_at
		FROM product_ratings WHERE product_id = $1 ORDER BY created_at`

	insertProductSQL = `INSERT INTO products
		(id, name, description, price, category, images, ingredients, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateProductSQL = `UPDATE products SET
		name = $2, description = $3, price = $4, category = $5, images = $6, ingredients = $7, updated_at = $8
		WHERE id = $1`

	deleteSizesSQL = `DELETE FROM product_sizes WHERE product_id = $1`

	insertSizeSQL = `INSERT INTO product_sizes (product_id, value, unit, price, stock, position)
		VALUES ($1, $2, $3, $4, $5, $6)`

	deactivateProductSQL = `UPDATE products SET active = FALSE, updated_at = now() WHERE id = $1 AND active`

	insertRatingSQL = `INSERT INTO product_ratings (product_id, user_id, rating, review, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	refreshRatingSQL = `UPDATE products SET
		average_rating = COALESCE((SELECT avg(rating) FROM product_ratings WHERE product_id = $1), 0),
		total_reviews = (SELECT count(*) FROM product_ratings WHERE product_id = $1)
		WHERE id = $1`
)

var sortColumns = map[product.SortField]string{
	product.SortCreatedAt: "p.created_at",
	product.SortPrice:     "p.price",
	product.SortName:      "p.name",
	product.SortRating:    "p.average_rating",
}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns one page of active products matching f together with the
// total match count.
func (r *ProductRepository) List(ctx context.Context, f product.Filter) (*product.Page, error) {
	var (
		where = []string{"p.active"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Category != "" {
		where = append(where, "p.category = "+arg(string(f.Category)))
	}
	if f.MinPrice != nil {
		where = append(where, "p.price >= "+arg(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		where = append(where, "p.price <= "+arg(*f.MaxPrice))
	}
	if f.Search != "" {
		pattern := arg("%" + escapeLike(f.Search) + "%")
		where = append(where, fmt.Sprintf("(p.name ILIKE %s OR p.description ILIKE %s)", pattern, pattern))
	}

	column, ok := sortColumns[f.SortBy]
	if !ok {
		column = sortColumns[product.SortCreatedAt]
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}

	query := fmt.Sprintf(`SELECT %s, count(*) OVER () FROM products p WHERE %s ORDER BY %s %s, p.id LIMIT %s OFFSET %s`,
		productColumns, strings.Join(where, " AND "), column, dir, arg(f.Limit), arg(f.Offset()))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	var total int
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		return scanProduct(row, &total)
	})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	if err := r.loadSizes(ctx, r.pool, products); err != nil {
		return nil, err
	}
	return &product.Page{Products: products, Total: total}, nil
}

// GetByID returns a single product with its sizes and ratings, including
// deactivated products.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		if isMalformedID(err) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (product.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMalformedID(err) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	one := []product.Product{p}
	if err := r.loadSizes(ctx, r.pool, one); err != nil {
		return nil, err
	}
	p = one[0]

	rows, err = r.pool.Query(ctx, listRatingsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing ratings for %q: %w", id, err)
	}
	p.Ratings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Rating, error) {
		var rt product.Rating
		err := row.Scan(&rt.UserID, &rt.Rating, &rt.Review, &rt.Date)
		return rt, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing ratings for %q: %w", id, err)
	}
	return &p, nil
}

// Create inserts p and its size variants in one transaction.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertProductSQL,
			p.ID, p.Name, p.Description, p.Price, string(p.Category),
			nonNil(p.Images), nonNil(p.Ingredients), p.Active, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return err
		}
		return insertSizes(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}
	return nil
}

// Update overwrites the editable attributes of p and replaces its sizes.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateProductSQL,
			p.ID, p.Name, p.Description, p.Price, string(p.Category),
			nonNil(p.Images), nonNil(p.Ingredients), p.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return product.ErrNotFound
		}
		if _, err := tx.Exec(ctx, deleteSizesSQL, p.ID); err != nil {
			return err
		}
		return insertSizes(ctx, tx, p)
	})
	if errors.Is(err, product.ErrNotFound) || isMalformedID(err) {
		return product.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating product %q: %w", p.ID, err)
	}
	return nil
}

// Deactivate clears the active flag of an active product.
func (r *ProductRepository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deactivateProductSQL, id)
	if err != nil {
		if isMalformedID(err) {
			return product.ErrNotFound
		}
		return fmt.Errorf("deactivating product %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// AddRating stores a review and refreshes the product's aggregate rating.
// A second review by the same user fails with product.ErrAlreadyReviewed.
func (r *ProductRepository) AddRating(ctx context.Context, productID string, rt product.Rating) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRatingSQL, productID, rt.UserID, rt.Rating, rt.Review, rt.Date); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, refreshRatingSQL, productID)
		return err
	})
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return product.ErrAlreadyReviewed
	default:
		return fmt.Errorf("rating product %q: %w", productID, err)
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *ProductRepository) loadSizes(ctx context.Context, q querier, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := q.Query(ctx, listSizesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing sizes: %w", err)
	}
	var (
		productID string
		s         product.SizeVariant
	)
	_, err = pgx.ForEachRow(rows, []any{&productID, &s.Value, &s.Unit, &s.Price, &s.Stock}, func() error {
		i := index[productID]
		products[i].Sizes = append(products[i].Sizes, s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing sizes: %w", err)
	}
	return nil
}

func insertSizes(ctx context.Context, tx pgx.Tx, p *product.Product) error {
	b := &pgx.Batch{}
	for i, s := range p.Sizes {
		b.Queue(insertSizeSQL, p.ID, s.Value, s.Unit, s.Price, s.Stock, i)
	}
	return tx.SendBatch(ctx, b).Close()
}

// scanProduct reads productColumns and, when total is given, the trailing
// window count.
func scanProduct(row pgx.CollectableRow, total ...*int) (product.Product, error) {
	var (
		p        product.Product
		category string
	)
	dest := []any{
		&p.ID, &p.Name, &p.Description, &p.Price, &category, &p.Images, &p.Ingredients,
		&p.AverageRating, &p.TotalReviews, &p.Active, &p.CreatedAt, &p.UpdatedAt,
	}
	if len(total) > 0 {
		dest = append(dest, total[0])
	}
	if err := row.Scan(dest...); err != nil {
		return product.Product{}, err
	}
	p.Category = product.Category(category)
	return p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
