package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
)

// Topic is the vendor event category a webhook endpoint accepts
const (
	TopicOrders   = "orders"
	TopicProducts = "products"
	TopicItems    = "items"
)

// supportedTopics lists the accepted topics per vendor
var supportedTopics = map[domain.Vendor][]string{
	domain.VendorBling:  {TopicOrders, TopicProducts},
	domain.VendorMeli:   {TopicOrders, TopicItems},
	domain.VendorShopee: {TopicOrders, TopicItems},
}

// Store is the slice of the data layer the ingestor needs
type Store interface {
	ListEnabledIntegrations(ctx context.Context, vendor string) ([]*schema.IntegrationCredential, error)
	GetIntegrationByExternalAccount(ctx context.Context, vendor, externalAccountID string) (*schema.IntegrationCredential, error)
	GetWebhookEventByNaturalKey(ctx context.Context, companyID uuid.UUID, vendor, topic, externalID, disambiguator string) (*schema.WebhookEvent, error)
	CreateWebhookEvent(ctx context.Context, event *schema.WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, eventID string) error
	RecordWebhookEventFailure(ctx context.Context, eventID string, errMsg string) error
}

// Result reports what happened to one inbound delivery. EventID is set as
// soon as the event row is durable, so a handler failure still hands the
// vendor a correlation id for its retry.
type Result struct {
	EventID   string
	Duplicate bool
}

// notification is the vendor-agnostic shape a raw delivery parses into
type notification struct {
	// externalID identifies the affected entity on the vendor side
	externalID string
	// disambiguator separates distinct deliveries about the same entity
	disambiguator string
	// accountID is the vendor account the delivery claims to be from
	// (Meli user_id, Shopee shop_id); empty for Bling, which binds by signature
	accountID string
}

// Ingestor takes raw vendor deliveries through the full pipeline: parse,
// schema-validate, resolve the owning tenant, verify the signature, dedupe
// on the natural key, persist, dispatch, and record the outcome. The tenant
// is always inferred from signature- or account-bound data, never from a
// client-supplied company id.
type Ingestor struct {
	store    Store
	handlers *Handlers
	json     adapter.JSON
}

// NewIngestor creates the webhook ingestor
func NewIngestor(store Store, handlers *Handlers, json adapter.JSON) *Ingestor {
	return &Ingestor{store: store, handlers: handlers, json: json}
}

// Ingest processes one raw delivery. Error mapping for the API layer:
// ValidationError → 400, ErrInvalidSignature → 401, ErrIntegrationNotFound /
// ErrIntegrationDisabled → 404, anything else → 500. On a handler failure
// the returned Result still carries the stored event's ID.
func (i *Ingestor) Ingest(ctx context.Context, vendor domain.Vendor, topic string, body []byte, signature string) (*Result, error) {
	if !vendor.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported vendor %q", vendor))
	}
	if !topicSupported(vendor, topic) {
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported topic %q for vendor %s", topic, vendor))
	}

	note, err := i.parse(vendor, topic, body)
	if err != nil {
		// Log the failure without the payload
		logger.WarnCtx(ctx, "webhook payload rejected",
			zap.String("vendor", string(vendor)),
			zap.String("topic", topic),
			zap.Error(err))
		return nil, err
	}

	cred, err := i.resolveIntegration(ctx, vendor, note, body, signature)
	if err != nil {
		return nil, err
	}

	existing, err := i.store.GetWebhookEventByNaturalKey(ctx, cred.CompanyID, string(vendor), topic, note.externalID, note.disambiguator)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// At-least-once delivery; the work already happened
		return &Result{EventID: existing.ID, Duplicate: true}, nil
	}

	event := &schema.WebhookEvent{
		ID:            ulid.Make().String(),
		CompanyID:     cred.CompanyID,
		Vendor:        string(vendor),
		Topic:         topic,
		ExternalID:    note.externalID,
		Disambiguator: note.disambiguator,
		Payload:       datatypes.JSON(body),
	}
	if err := i.store.CreateWebhookEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// Lost a race with a concurrent delivery of the same key; report
			// the winner's event id
			winner, lookupErr := i.store.GetWebhookEventByNaturalKey(ctx, cred.CompanyID, string(vendor), topic, note.externalID, note.disambiguator)
			if lookupErr != nil || winner == nil {
				return &Result{Duplicate: true}, nil
			}
			return &Result{EventID: winner.ID, Duplicate: true}, nil
		}
		return nil, err
	}

	result := &Result{EventID: event.ID}

	if err := i.dispatch(ctx, vendor, topic, cred, note.externalID); err != nil {
		if recErr := i.store.RecordWebhookEventFailure(ctx, event.ID, err.Error()); recErr != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to record webhook failure: %w", recErr),
				zap.String("event_id", event.ID))
		}
		return result, fmt.Errorf("webhook handler failed: %w", err)
	}

	if err := i.store.MarkWebhookEventProcessed(ctx, event.ID); err != nil {
		return result, err
	}
	return result, nil
}

// parse validates the raw body against the vendor/topic schema
func (i *Ingestor) parse(vendor domain.Vendor, topic string, body []byte) (*notification, error) {
	switch vendor {
	case domain.VendorBling:
		return i.parseBling(body)
	case domain.VendorMeli:
		return i.parseMeli(body)
	default:
		return i.parseShopee(topic, body)
	}
}

// blingNotification is Bling's delivery shape; the signature header carries
// the tenant binding
type blingNotification struct {
	Data struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (i *Ingestor) parseBling(body []byte) (*notification, error) {
	var note blingNotification
	if err := i.json.Unmarshal(body, &note); err != nil {
		return nil, domain.NewValidationError("malformed JSON body")
	}
	if note.Data.ID <= 0 {
		return nil, domain.NewValidationError("data.id is required")
	}
	return &notification{
		externalID: strconv.FormatInt(note.Data.ID, 10),
	}, nil
}

// meliNotification is Meli's delivery shape; resource is a path like
// "/orders/2195160686" and sent distinguishes re-notifications
type meliNotification struct {
	Resource string `json:"resource"`
	UserID   int64  `json:"user_id"`
	Sent     string `json:"sent"`
}

func (i *Ingestor) parseMeli(body []byte) (*notification, error) {
	var note meliNotification
	if err := i.json.Unmarshal(body, &note); err != nil {
		return nil, domain.NewValidationError("malformed JSON body")
	}

	var details []string
	if note.Resource == "" {
		details = append(details, "resource is required")
	}
	if note.UserID <= 0 {
		details = append(details, "user_id is required")
	}
	if len(details) > 0 {
		return nil, domain.NewValidationError(details...)
	}

	parts := strings.Split(strings.Trim(note.Resource, "/"), "/")
	externalID := parts[len(parts)-1]
	if externalID == "" {
		return nil, domain.NewValidationError("resource has no identifier segment")
	}

	return &notification{
		externalID:    externalID,
		disambiguator: note.Sent,
		accountID:     strconv.FormatInt(note.UserID, 10),
	}, nil
}

// shopeeNotification is Shopee's push shape; timestamp distinguishes pushes
// about the same entity
type shopeeNotification struct {
	ShopID    int64 `json:"shop_id"`
	Timestamp int64 `json:"timestamp"`
	Data      struct {
		OrderSN string `json:"ordersn"`
		ItemID  int64  `json:"item_id"`
	} `json:"data"`
}

func (i *Ingestor) parseShopee(topic string, body []byte) (*notification, error) {
	var note shopeeNotification
	if err := i.json.Unmarshal(body, &note); err != nil {
		return nil, domain.NewValidationError("malformed JSON body")
	}
	if note.ShopID <= 0 {
		return nil, domain.NewValidationError("shop_id is required")
	}

	var externalID string
	switch topic {
	case TopicOrders:
		if note.Data.OrderSN == "" {
			return nil, domain.NewValidationError("data.ordersn is required")
		}
		externalID = note.Data.OrderSN
	default:
		if note.Data.ItemID <= 0 {
			return nil, domain.NewValidationError("data.item_id is required")
		}
		externalID = strconv.FormatInt(note.Data.ItemID, 10)
	}

	return &notification{
		externalID:    externalID,
		disambiguator: strconv.FormatInt(note.Timestamp, 10),
		accountID:     strconv.FormatInt(note.ShopID, 10),
	}, nil
}

// resolveIntegration finds the owning tenant and authenticates the delivery.
// Bling deliveries carry no account id: the HMAC signature is checked against
// every enabled Bling integration's secret and the first match wins. Meli and
// Shopee bind by account id; Shopee additionally verifies the signature when
// the integration has a secret configured.
func (i *Ingestor) resolveIntegration(ctx context.Context, vendor domain.Vendor, note *notification, body []byte, signature string) (*schema.IntegrationCredential, error) {
	if vendor == domain.VendorBling {
		creds, err := i.store.ListEnabledIntegrations(ctx, string(vendor))
		if err != nil {
			return nil, err
		}
		for _, cred := range creds {
			if cred.WebhookSecret != "" && ValidSignature(cred.WebhookSecret, body, signature) {
				return cred, nil
			}
		}
		return nil, domain.ErrIntegrationNotFound
	}

	cred, err := i.store.GetIntegrationByExternalAccount(ctx, string(vendor), note.accountID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrIntegrationNotFound
	}
	if !cred.Enabled {
		return nil, domain.ErrIntegrationDisabled
	}

	if vendor == domain.VendorShopee && cred.WebhookSecret != "" {
		if !ValidSignature(cred.WebhookSecret, body, signature) {
			return nil, domain.ErrInvalidSignature
		}
	}
	return cred, nil
}

func (i *Ingestor) dispatch(ctx context.Context, vendor domain.Vendor, topic string, cred *schema.IntegrationCredential, externalID string) error {
	switch topic {
	case TopicOrders:
		return i.handlers.HandleOrder(ctx, cred, externalID)
	default:
		return i.handlers.HandleProduct(ctx, cred, externalID)
	}
}

func topicSupported(vendor domain.Vendor, topic string) bool {
	for _, t := range supportedTopics[vendor] {
		if t == topic {
			return true
		}
	}
	return false
}
