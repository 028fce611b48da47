package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// demoShops и demoProducts — витрина для локального запуска и smoke-тестов.
var demoShops = []domain.Shop{
	{ID: 1, Name: "Tienda Uno", Slug: "tienda-uno"},
	{ID: 2, Name: "Tienda Dos", Slug: "tienda-dos"},
}

var demoProducts = []domain.Product{
	{ID: 1, ShopID: 1, Name: "Mate de calabaza", SKU: "MATE-001", Price: decimal.RequireFromString("10000.00"), Stock: 5, Active: true},
	{ID: 2, ShopID: 2, Name: "Yerba 1kg", SKU: "YERBA-001", Price: decimal.RequireFromString("250.50"), Stock: 10, Active: true},
	{ID: 3, ShopID: 1, Name: "Bombilla", SKU: "BOMB-001", Price: decimal.RequireFromString("19.99"), Stock: 2, Active: true},
	{ID: 4, ShopID: 2, Name: "Termo", SKU: "TERMO-001", Price: decimal.RequireFromString("5400.00"), Stock: 0, Active: false},
}

type catalogSeeder struct {
	putShop    func(ctx context.Context, shop domain.Shop) error
	putProduct func(ctx context.Context, product domain.Product) error
}

func seedDemoCatalog(ctx context.Context, seeder catalogSeeder) error {
	for _, shop := range demoShops {
		if err := seeder.putShop(ctx, shop); err != nil {
			return fmt.Errorf("seed shop %d: %w", shop.ID, err)
		}
	}
	for _, product := range demoProducts {
		if err := seeder.putProduct(ctx, product); err != nil {
			return fmt.Errorf("seed product %d: %w", product.ID, err)
		}
	}
	return nil
}
