package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CatalogRepository читает товары и магазины из PostgreSQL.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// ProductsByID загружает товары одним запросом. Отсутствующие id в результат не попадают.
func (r *CatalogRepository) ProductsByID(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shop_id, name, sku, price, stock, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.SKU, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return result, nil
}

// ShopsByID загружает магазины одним запросом.
func (r *CatalogRepository) ShopsByID(ctx context.Context, ids []int64) (map[int64]domain.Shop, error) {
	result := make(map[int64]domain.Shop, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug
		FROM shops
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select shops: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Shop
		if err := rows.Scan(&s.ID, &s.Name, &s.Slug); err != nil {
			return nil, fmt.Errorf("scan shop: %w", err)
		}
		result[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shops: %w", err)
	}

	return result, nil
}

// UpsertShop создаёт или обновляет магазин с заданным id.
func (r *CatalogRepository) UpsertShop(ctx context.Context, shop domain.Shop) error {
	if shop.ID <= 0 {
		return domain.ErrShopRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, slug)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    slug = EXCLUDED.slug
	`, shop.ID, strings.TrimSpace(shop.Name), shop.Slug); err != nil {
		return fmt.Errorf("upsert shop %d: %w", shop.ID, err)
	}
	return r.syncSequence(ctx, "shops")
}

// UpsertProduct создаёт или обновляет товар. Магазин должен существовать.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.Price.IsNegative() {
		return domain.ErrItemPriceInvalid
	}
	if product.Stock < 0 {
		return fmt.Errorf("product %d: stock must be non-negative", product.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, name, sku, price, stock, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET shop_id = EXCLUDED.shop_id,
		    name = EXCLUDED.name,
		    sku = EXCLUDED.sku,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    active = EXCLUDED.active
	`, product.ID, product.ShopID, product.Name, product.SKU, product.Price, product.Stock, product.Active)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrShopNotFound
		}
		return fmt.Errorf("upsert product %d: %w", product.ID, err)
	}
	return r.syncSequence(ctx, "products")
}

// syncSequence сдвигает BIGSERIAL за максимальный явно вставленный id.
func (r *CatalogRepository) syncSequence(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT MAX(id) FROM %[1]s))`, table,
	)); err != nil {
		return fmt.Errorf("sync %s sequence: %w", table, err)
	}
	return nil
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
