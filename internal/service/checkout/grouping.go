package checkout

import "github.com/vladislavdragonenkov/marketplace/internal/domain"

type pricedLine struct {
	product  domain.Product
	quantity int32
}

type shopGroup struct {
	shopID int64
	lines  []pricedLine
}

// shopGroups: упорядоченный multimap: магазины идут в порядке первого появления их товаров в корзине.
type shopGroups struct {
	order []*shopGroup
	index map[int64]*shopGroup
}

func newShopGroups() *shopGroups {
	return &shopGroups{index: make(map[int64]*shopGroup)}
}

func (g *shopGroups) add(line pricedLine) {
	group, ok := g.index[line.product.ShopID]
	if !ok {
		group = &shopGroup{shopID: line.product.ShopID}
		g.index[line.product.ShopID] = group
		g.order = append(g.order, group)
	}
	group.lines = append(group.lines, line)
}

func (g *shopGroups) shopIDs() []int64 {
	ids := make([]int64, 0, len(g.order))
	for _, group := range g.order {
		ids = append(ids, group.shopID)
	}
	return ids
}
