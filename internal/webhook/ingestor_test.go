package webhook_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
	"github.com/ecommind/engine/internal/webhook"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// fakeStore serves canned integrations and records event writes
type fakeStore struct {
	integrations []*schema.IntegrationCredential
	byAccount    map[string]*schema.IntegrationCredential
	existing     *schema.WebhookEvent
	raceWinner   *schema.WebhookEvent
	createErr    error

	lookups   int
	created   []*schema.WebhookEvent
	processed []string
	failures  map[string]string
}

func (f *fakeStore) ListEnabledIntegrations(_ context.Context, vendor string) ([]*schema.IntegrationCredential, error) {
	var out []*schema.IntegrationCredential
	for _, cred := range f.integrations {
		if cred.Vendor == vendor && cred.Enabled {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (f *fakeStore) GetIntegrationByExternalAccount(_ context.Context, vendor, externalAccountID string) (*schema.IntegrationCredential, error) {
	return f.byAccount[vendor+"/"+externalAccountID], nil
}

func (f *fakeStore) GetWebhookEventByNaturalKey(_ context.Context, _ uuid.UUID, _, _, _, _ string) (*schema.WebhookEvent, error) {
	f.lookups++
	// raceWinner only materializes after the first lookup, standing in for a
	// concurrent delivery that inserted between the pre-check and the create
	if f.lookups > 1 && f.raceWinner != nil {
		return f.raceWinner, nil
	}
	return f.existing, nil
}

func (f *fakeStore) CreateWebhookEvent(_ context.Context, event *schema.WebhookEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, event)
	return nil
}

func (f *fakeStore) MarkWebhookEventProcessed(_ context.Context, eventID string) error {
	f.processed = append(f.processed, eventID)
	return nil
}

func (f *fakeStore) RecordWebhookEventFailure(_ context.Context, eventID string, errMsg string) error {
	if f.failures == nil {
		f.failures = map[string]string{}
	}
	f.failures[eventID] = errMsg
	return nil
}

// fakeClients builds a vendor surface that records single-entity fetches
type fakeClients struct {
	orderErr error

	orders   []string
	products []string
}

func (f *fakeClients) ClientsFor(_ *schema.IntegrationCredential) (*integrations.VendorClients, error) {
	return &integrations.VendorClients{
		Order: func(_ context.Context, orderID string) (*domain.Order, error) {
			if f.orderErr != nil {
				return nil, f.orderErr
			}
			f.orders = append(f.orders, orderID)
			return &domain.Order{OrderID: orderID}, nil
		},
		Product: func(_ context.Context, externalID string) (*domain.Product, error) {
			f.products = append(f.products, externalID)
			return &domain.Product{SKU: externalID, Title: "Product"}, nil
		},
	}, nil
}

type handlerStore struct{}

func (handlerStore) UpsertProducts(context.Context, []schema.Product) error { return nil }

func (handlerStore) UpsertOrders(context.Context, []schema.Order, []schema.OrderItem) error {
	return nil
}

func blingCred(secret string) *schema.IntegrationCredential {
	return &schema.IntegrationCredential{
		ID:            uuid.New(),
		CompanyID:     uuid.New(),
		Vendor:        "bling",
		WebhookSecret: secret,
		Enabled:       true,
	}
}

func newIngestor(store *fakeStore, clients *fakeClients) *webhook.Ingestor {
	handlers := webhook.NewHandlers(clients, handlerStore{})
	return webhook.NewIngestor(store, handlers, adapter.NewJSON())
}

func TestIngestBling(t *testing.T) {
	body := []byte(`{"data":{"id":123}}`)

	t.Run("binds the tenant by signature", func(t *testing.T) {
		other := blingCred("other-secret")
		owner := blingCred("owner-secret")
		store := &fakeStore{integrations: []*schema.IntegrationCredential{other, owner}}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, body, sign("owner-secret", body))
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.Duplicate)
		assert.NotEmpty(t, result.EventID)

		require.Len(t, store.created, 1)
		assert.Equal(t, owner.CompanyID, store.created[0].CompanyID)
		assert.Equal(t, "123", store.created[0].ExternalID)

		assert.Equal(t, []string{"123"}, clients.products)
		assert.Equal(t, []string{result.EventID}, store.processed)
	})

	t.Run("no matching secret resolves no tenant", func(t *testing.T) {
		store := &fakeStore{integrations: []*schema.IntegrationCredential{blingCred("owner-secret")}}
		ingestor := newIngestor(store, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, body, sign("wrong-secret", body))
		assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
		assert.Empty(t, store.created)
	})

	t.Run("rejects a missing entity id", func(t *testing.T) {
		ingestor := newIngestor(&fakeStore{}, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, []byte(`{"data":{}}`), "")
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok, "expected a validation error, got %v", err)
	})
}

func TestIngestMeli(t *testing.T) {
	body := []byte(`{"resource":"/orders/2195160686","user_id":999,"sent":"2025-06-15T12:00:00Z"}`)

	cred := &schema.IntegrationCredential{
		ID:                uuid.New(),
		CompanyID:         uuid.New(),
		Vendor:            "meli",
		ExternalAccountID: "999",
		Enabled:           true,
	}

	t.Run("binds the tenant by account id", func(t *testing.T) {
		store := &fakeStore{byAccount: map[string]*schema.IntegrationCredential{"meli/999": cred}}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorMeli, webhook.TopicOrders, body, "")
		require.NoError(t, err)
		assert.False(t, result.Duplicate)

		require.Len(t, store.created, 1)
		assert.Equal(t, cred.CompanyID, store.created[0].CompanyID)
		assert.Equal(t, "2195160686", store.created[0].ExternalID)
		assert.Equal(t, "2025-06-15T12:00:00Z", store.created[0].Disambiguator)
		assert.Equal(t, []string{"2195160686"}, clients.orders)
	})

	t.Run("unknown account resolves no tenant", func(t *testing.T) {
		ingestor := newIngestor(&fakeStore{}, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorMeli, webhook.TopicOrders, body, "")
		assert.ErrorIs(t, err, domain.ErrIntegrationNotFound)
	})

	t.Run("disabled integration is rejected", func(t *testing.T) {
		disabled := *cred
		disabled.Enabled = false
		store := &fakeStore{byAccount: map[string]*schema.IntegrationCredential{"meli/999": &disabled}}
		ingestor := newIngestor(store, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorMeli, webhook.TopicOrders, body, "")
		assert.ErrorIs(t, err, domain.ErrIntegrationDisabled)
	})

	t.Run("collects every missing field", func(t *testing.T) {
		ingestor := newIngestor(&fakeStore{}, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorMeli, webhook.TopicOrders, []byte(`{}`), "")
		ve, ok := domain.AsValidationError(err)
		require.True(t, ok, "expected a validation error, got %v", err)
		assert.Len(t, ve.Details, 2)
	})
}

func TestIngestShopee(t *testing.T) {
	body := []byte(`{"shop_id":777,"timestamp":1750000000,"data":{"ordersn":"2506150001"}}`)

	cred := &schema.IntegrationCredential{
		ID:                uuid.New(),
		CompanyID:         uuid.New(),
		Vendor:            "shopee",
		ExternalAccountID: "777",
		WebhookSecret:     "push-key",
		Enabled:           true,
	}

	t.Run("verifies the push signature", func(t *testing.T) {
		store := &fakeStore{byAccount: map[string]*schema.IntegrationCredential{"shopee/777": cred}}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorShopee, webhook.TopicOrders, body, sign("push-key", body))
		require.NoError(t, err)
		assert.False(t, result.Duplicate)
		assert.Equal(t, []string{"2506150001"}, clients.orders)
		assert.Equal(t, "1750000000", store.created[0].Disambiguator)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		store := &fakeStore{byAccount: map[string]*schema.IntegrationCredential{"shopee/777": cred}}
		ingestor := newIngestor(store, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorShopee, webhook.TopicOrders, body, sign("wrong-key", body))
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("item pushes resolve the item id", func(t *testing.T) {
		itemBody := []byte(`{"shop_id":777,"timestamp":1750000000,"data":{"item_id":555}}`)
		store := &fakeStore{byAccount: map[string]*schema.IntegrationCredential{"shopee/777": cred}}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		_, err := ingestor.Ingest(context.Background(), domain.VendorShopee, webhook.TopicItems, itemBody, sign("push-key", itemBody))
		require.NoError(t, err)
		assert.Equal(t, []string{"555"}, clients.products)
	})
}

func TestIngestPipeline(t *testing.T) {
	body := []byte(`{"data":{"id":123}}`)
	cred := blingCred("owner-secret")
	signature := sign("owner-secret", body)

	t.Run("rejects unsupported vendors and topics", func(t *testing.T) {
		ingestor := newIngestor(&fakeStore{}, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.Vendor("acme"), webhook.TopicOrders, body, "")
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok)

		// Bling has no item topic
		_, err = ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicItems, body, "")
		_, ok = domain.AsValidationError(err)
		assert.True(t, ok)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		ingestor := newIngestor(&fakeStore{}, &fakeClients{})

		_, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, []byte(`{not-json`), "")
		_, ok := domain.AsValidationError(err)
		assert.True(t, ok)
	})

	t.Run("replays are detected on the natural key", func(t *testing.T) {
		store := &fakeStore{
			integrations: []*schema.IntegrationCredential{cred},
			existing:     &schema.WebhookEvent{ID: "01JXEXISTING", CompanyID: cred.CompanyID},
		}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, body, signature)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Equal(t, "01JXEXISTING", result.EventID)

		// Neither a new event nor a re-dispatch
		assert.Empty(t, store.created)
		assert.Empty(t, clients.products)
	})

	t.Run("a lost insert race reports the winner's event", func(t *testing.T) {
		winner := &schema.WebhookEvent{ID: "01JXWINNER", CompanyID: cred.CompanyID}
		store := &fakeStore{
			integrations: []*schema.IntegrationCredential{cred},
			createErr:    domain.ErrDuplicateEvent,
			raceWinner:   winner,
		}
		clients := &fakeClients{}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, body, signature)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Equal(t, "01JXWINNER", result.EventID)

		// The winner's delivery owns the dispatch
		assert.Empty(t, clients.products)
	})

	t.Run("a lost race is still a duplicate when the winner cannot be read back", func(t *testing.T) {
		store := &fakeStore{
			integrations: []*schema.IntegrationCredential{cred},
			createErr:    domain.ErrDuplicateEvent,
		}
		ingestor := newIngestor(store, &fakeClients{})

		result, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicProducts, body, signature)
		require.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Empty(t, result.EventID)
	})

	t.Run("handler failure records the event and keeps its id", func(t *testing.T) {
		orderBody := []byte(`{"data":{"id":456}}`)
		store := &fakeStore{integrations: []*schema.IntegrationCredential{cred}}
		clients := &fakeClients{orderErr: errors.New("vendor timeout")}
		ingestor := newIngestor(store, clients)

		result, err := ingestor.Ingest(context.Background(), domain.VendorBling, webhook.TopicOrders, orderBody, sign("owner-secret", orderBody))
		require.Error(t, err)
		require.NotNil(t, result)
		assert.NotEmpty(t, result.EventID)

		// Failure is recorded against the stored event; nothing is marked processed
		assert.Contains(t, store.failures[result.EventID], "vendor timeout")
		assert.Empty(t, store.processed)
	})
}
