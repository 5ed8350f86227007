package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"storefront-service/internal/domain"
)

const productColumns = `id, name, description, price, stock, image_url, category, created_at, updated_at`

// PostgresStore implements the ProductStorer interface using PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: uuid.NewString}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.ImageURL, &p.Category, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// mapConstraintError turns a CHECK violation or an out-of-range value into a
// ValidationError. Range errors carry no column, so they are reported
// against rangeField.
func mapConstraintError(err error, rangeField string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch pqErr.Code {
	case "23514":
		field := strings.TrimSuffix(strings.TrimPrefix(pqErr.Constraint, "products_"), "_check")
		return domain.NewValidationError(field, "violates constraint "+pqErr.Constraint)
	case "22003":
		if pqErr.Column != "" {
			rangeField = pqErr.Column
		}
		return domain.NewValidationError(rangeField, "is out of range")
	}
	return nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO storefront.products (id, name, description, price, stock, image_url, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + productColumns + `;
	`
	row := s.db.QueryRowContext(ctx, query,
		s.newID(), product.Name, product.Description, product.Price, product.Stock,
		product.ImageURL, string(product.Category),
	)

	created, err := scanProduct(row)
	if err != nil {
		if verr := mapConstraintError(err, "price"); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("store: CreateProduct failed to scan row: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrProductNotFound
	}

	query := `SELECT ` + productColumns + ` FROM storefront.products WHERE id = $1;`
	product, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	return product, nil
}

// likePattern escapes LIKE metacharacters and wraps term for substring matching.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

func (s *PostgresStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) {
	var queryArgs []any
	var whereClauses []string
	argID := 1

	if params.Search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("(name ILIKE $%d OR category ILIKE $%d)", argID, argID))
		queryArgs = append(queryArgs, likePattern(params.Search))
		argID++
	}
	if params.Category != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("category ILIKE $%d", argID))
		queryArgs = append(queryArgs, likePattern(params.Category))
		argID++
	}
	if params.MinPrice != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("price >= $%d", argID))
		queryArgs = append(queryArgs, *params.MinPrice)
		argID++
	}
	if params.MaxPrice != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("price <= $%d", argID))
		queryArgs = append(queryArgs, *params.MaxPrice)
		argID++
	}
	if params.InStockOnly {
		whereClauses = append(whereClauses, "stock > 0")
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM storefront.products" + whereCondition
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, queryArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to count products: %w", err)
	}

	if totalCount == 0 {
		return []domain.Product{}, 0, nil
	}

	sortOrder := "ASC"
	if descending(params.SortOrder) {
		sortOrder = "DESC"
	}
	// seq is the creation order and keeps pages stable between calls.
	orderBy := "seq " + sortOrder
	if col, ok := sortColumns[strings.ToLower(params.SortBy)]; ok {
		orderBy = fmt.Sprintf("%s %s, seq %s", col, sortOrder, sortOrder)
		if col != "created_at" {
			orderBy = fmt.Sprintf("%s %s, seq ASC", col, sortOrder)
		}
	}

	dataQuery := "SELECT " + productColumns + " FROM storefront.products" + whereCondition + " ORDER BY " + orderBy
	if params.Limit > 0 {
		dataQuery += fmt.Sprintf(" LIMIT $%d", argID)
		queryArgs = append(queryArgs, params.Limit)
		argID++
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	dataQuery += fmt.Sprintf(" OFFSET $%d", argID)
	queryArgs = append(queryArgs, offset)

	rows, err := s.db.QueryContext(ctx, dataQuery, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, params.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts iteration error: %w", err)
	}

	return products, totalCount, nil
}

// UpdateProduct merges patch into the stored row. The row is locked for the
// read-modify-write so concurrent edits resolve as last writer wins.
func (s *PostgresStore) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrProductNotFound
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) (*domain.Product, error) {
		selectQuery := `SELECT ` + productColumns + ` FROM storefront.products WHERE id = $1 FOR UPDATE;`
		current, err := scanProduct(tx.QueryRowContext(ctx, selectQuery, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrProductNotFound
			}
			return nil, fmt.Errorf("store: UpdateProduct failed to load row: %w", err)
		}

		merged := patch.Apply(*current)
		if err := merged.Validate(); err != nil {
			return nil, err
		}

		updateQuery := `
			UPDATE storefront.products
			SET name = $1, description = $2, price = $3, stock = $4, image_url = $5, category = $6,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = $7
			RETURNING ` + productColumns + `;
		`
		updated, err := scanProduct(tx.QueryRowContext(ctx, updateQuery,
			merged.Name, merged.Description, merged.Price, merged.Stock,
			merged.ImageURL, string(merged.Category), id,
		))
		if err != nil {
			if verr := mapConstraintError(err, "price"); verr != nil {
				return nil, verr
			}
			return nil, fmt.Errorf("store: UpdateProduct failed to scan row: %w", err)
		}
		return updated, nil
	})
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrProductNotFound
	}

	query := `DELETE FROM storefront.products WHERE id = $1;`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to execute delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// AdjustStock applies delta to the stock level. The WHERE clause is the
// precondition that keeps stock non-negative.
func (s *PostgresStore) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrProductNotFound
	}

	query := `
		UPDATE storefront.products
		SET stock = stock + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND stock + $1 >= 0
		RETURNING ` + productColumns + `;
	`
	updated, err := scanProduct(s.db.QueryRowContext(ctx, query, delta, id))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if verr := mapConstraintError(err, "stock"); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("store: AdjustStock failed to scan row: %w", err)
	}

	// No row: either the product is gone or the delta would go negative.
	var exists bool
	checkQuery := `SELECT EXISTS(SELECT 1 FROM storefront.products WHERE id = $1);`
	if err := s.db.QueryRowContext(ctx, checkQuery, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("store: AdjustStock failed to check existence: %w", err)
	}
	if !exists {
		return nil, ErrProductNotFound
	}
	return nil, ErrInsufficientStock
}

func (s *PostgresStore) RecentProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		return []domain.Product{}, nil
	}
	query := `
		SELECT ` + productColumns + `
		FROM storefront.products
		ORDER BY created_at DESC, seq DESC
		LIMIT $1;
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: RecentProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("store: RecentProducts failed to scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: RecentProducts iteration error: %w", err)
	}
	return products, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
