package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// DefaultSandboxURL: адрес песочницы платёжного провайдера.
const DefaultSandboxURL = "https://sandbox.payment.provider/pay"

// Redirector формирует ссылку на оплату вида <base>?order_id=<id>&amount=<total>.
// Платёж на этом шаге не создаётся, ссылка только передаётся клиенту.
type Redirector struct {
	baseURL string
	sep     string
}

// NewRedirector создаёт Redirector. Пустой baseURL заменяется на песочницу.
func NewRedirector(baseURL string) *Redirector {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "?&")
	if baseURL == "" {
		baseURL = DefaultSandboxURL
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return &Redirector{baseURL: baseURL, sep: sep}
}

// RedirectURL детерминированно строит ссылку из id заказа и суммы в формате "0.00".
func (r *Redirector) RedirectURL(orderID int64, total decimal.Decimal) string {
	return fmt.Sprintf("%s%sorder_id=%d&amount=%s", r.baseURL, r.sep, orderID, domain.MoneyString(total))
}

var _ domain.PaymentRedirector = (*Redirector)(nil)
