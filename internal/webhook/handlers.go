package webhook

import (
	"context"
	"fmt"

	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/store/schema"
)

// ClientProvider builds authenticated vendor clients per integration
type ClientProvider interface {
	ClientsFor(cred *schema.IntegrationCredential) (*integrations.VendorClients, error)
}

// HandlerStore is the slice of the data layer the topic handlers write to
type HandlerStore interface {
	UpsertProducts(ctx context.Context, products []schema.Product) error
	UpsertOrders(ctx context.Context, orders []schema.Order, items []schema.OrderItem) error
}

// Handlers performs the fine-grained incremental update behind each webhook
// topic: fetch the single affected entity through the vendor adapter and
// upsert it. The same natural keys as the bulk sync make webhook-driven and
// scheduled writes interchangeable.
type Handlers struct {
	clients ClientProvider
	store   HandlerStore
}

// NewHandlers creates the webhook topic handlers
func NewHandlers(clients ClientProvider, store HandlerStore) *Handlers {
	return &Handlers{clients: clients, store: store}
}

// HandleOrder fetches one order and upserts it with its items
func (h *Handlers) HandleOrder(ctx context.Context, cred *schema.IntegrationCredential, externalID string) error {
	clients, err := h.clients.ClientsFor(cred)
	if err != nil {
		return err
	}

	order, err := clients.Order(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to fetch order %s: %w", externalID, err)
	}

	rows, items := schema.OrdersFromDomain([]domain.Order{*order})
	return h.store.UpsertOrders(ctx, rows, items)
}

// HandleProduct fetches one product/listing/item and upserts it
func (h *Handlers) HandleProduct(ctx context.Context, cred *schema.IntegrationCredential, externalID string) error {
	clients, err := h.clients.ClientsFor(cred)
	if err != nil {
		return err
	}

	product, err := clients.Product(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to fetch product %s: %w", externalID, err)
	}

	return h.store.UpsertProducts(ctx, schema.ProductsFromDomain([]domain.Product{*product}))
}
