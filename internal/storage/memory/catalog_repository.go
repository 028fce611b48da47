package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// CatalogRepository: in-memory каталог магазинов и товаров для локального запуска и тестов.
type CatalogRepository struct {
	mu       sync.RWMutex
	shops    map[int64]domain.Shop
	products map[int64]domain.Product
}

// NewCatalogRepository создаёт пустой каталог.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		shops:    make(map[int64]domain.Shop),
		products: make(map[int64]domain.Product),
	}
}

// PutShop добавляет или заменяет магазин.
func (r *CatalogRepository) PutShop(shop domain.Shop) error {
	if shop.ID <= 0 {
		return domain.ErrShopRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.shops[shop.ID] = shop
	return nil
}

// PutProduct добавляет или заменяет товар. Магазин должен существовать.
func (r *CatalogRepository) PutProduct(product domain.Product) error {
	if product.Price.IsNegative() {
		return domain.ErrItemPriceInvalid
	}
	if product.Stock < 0 {
		return fmt.Errorf("product %d: stock must be non-negative", product.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.shops[product.ShopID]; !ok {
		return domain.ErrShopNotFound
	}
	r.products[product.ID] = product
	return nil
}

// Product возвращает товар по id.
func (r *CatalogRepository) Product(id int64) (domain.Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	return product, ok
}

// ProductsByID возвращает товары по списку id за одно чтение под общей блокировкой.
func (r *CatalogRepository) ProductsByID(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

// ShopsByID возвращает магазины по списку id.
func (r *CatalogRepository) ShopsByID(ctx context.Context, ids []int64) (map[int64]domain.Shop, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]domain.Shop, len(ids))
	for _, id := range ids {
		if shop, ok := r.shops[id]; ok {
			result[id] = shop
		}
	}
	return result, nil
}

var _ domain.CatalogRepository = (*CatalogRepository)(nil)
