package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store/schema"
)

// overlapWindow is subtracted from the checkpoint when computing the
// incremental boundary. Vendor "updated since" filters are not transactional
// with their list endpoints; re-reading a window of already-seen changes is
// safe because every write is an idempotent upsert.
const overlapWindow = 30 * time.Minute

// vendorResources lists the syncable resources per vendor
var vendorResources = map[domain.Vendor][]domain.Resource{
	domain.VendorBling:  {domain.ResourceProducts, domain.ResourceOrders},
	domain.VendorMeli:   {domain.ResourceListings, domain.ResourceOrders},
	domain.VendorShopee: {domain.ResourceItems, domain.ResourceOrders},
}

// Store is the slice of the data layer the sync engine needs
type Store interface {
	CreateEtlRun(ctx context.Context, run *schema.EtlRun) error
	FinishEtlRun(ctx context.Context, runID uuid.UUID, ok bool, pages, rows int, errMsg string) error
	GetCheckpoint(ctx context.Context, companyID uuid.UUID, source string) (*schema.EtlCheckpoint, error)
	SaveCheckpoint(ctx context.Context, companyID uuid.UUID, source string, lastRunAt time.Time) error
	UpsertProducts(ctx context.Context, products []schema.Product) error
	UpsertOrders(ctx context.Context, orders []schema.Order, items []schema.OrderItem) error
}

// ClientProvider builds authenticated vendor clients per integration
type ClientProvider interface {
	ClientsByCompany(ctx context.Context, companyID uuid.UUID, vendor domain.Vendor) (*integrations.VendorClients, error)
}

// Result is the outcome of syncing one source
type Result struct {
	Source string
	RunID  uuid.UUID
	Pages  int
	Rows   int
	Err    error
}

// Service runs the extract-transform-load cycle against vendor APIs
type Service struct {
	store   Store
	clients ClientProvider
	clock   adapter.Clock
}

// NewService creates the sync service
func NewService(store Store, clients ClientProvider, clock adapter.Clock) *Service {
	return &Service{store: store, clients: clients, clock: clock}
}

// SyncResource runs one full extraction for a (company, source) pair.
//
// The run row is written before any network I/O. Pages are fetched strictly
// sequentially and upserted in batches; the checkpoint advances to the run's
// start time only after the whole loop succeeded, so a mid-run failure can
// never open a silent gap. On failure the result still carries the pages and
// rows that were written. force ignores the checkpoint and re-reads the full
// history; safe because every write is an idempotent upsert.
func (s *Service) SyncResource(ctx context.Context, companyID uuid.UUID, source string, force bool) Result {
	result := Result{Source: source}

	vendor, resource, err := parseSource(source)
	if err != nil {
		result.Err = err
		return result
	}

	run := &schema.EtlRun{
		CompanyID: companyID,
		Source:    source,
		StartedAt: s.clock.Now(),
	}
	if err := s.store.CreateEtlRun(ctx, run); err != nil {
		result.Err = err
		return result
	}
	result.RunID = run.ID

	var since time.Time
	if !force {
		since, err = s.sinceBoundary(ctx, companyID, source)
		if err != nil {
			result.Err = s.fail(ctx, run.ID, &result, err)
			return result
		}
	}

	clients, err := s.clients.ClientsByCompany(ctx, companyID, vendor)
	if err != nil {
		result.Err = s.fail(ctx, run.ID, &result, err)
		return result
	}

	logger.InfoCtx(ctx, "sync started",
		zap.String("source", source),
		zap.String("company_id", companyID.String()),
		zap.Time("since", since))

	switch resource {
	case domain.ResourceOrders:
		result.Pages, result.Rows, err = syncPages(ctx, clients.Orders, func(ctx context.Context, orders []domain.Order) error {
			rows, items := schema.OrdersFromDomain(orders)
			return s.store.UpsertOrders(ctx, rows, items)
		}, since)
	default:
		result.Pages, result.Rows, err = syncPages(ctx, clients.Products, func(ctx context.Context, products []domain.Product) error {
			return s.store.UpsertProducts(ctx, schema.ProductsFromDomain(products))
		}, since)
	}
	if err != nil {
		result.Err = s.fail(ctx, run.ID, &result, err)
		return result
	}

	// Checkpoint at run start: changes landing during the run fall after it
	// and are caught by the next boundary
	if err := s.store.SaveCheckpoint(ctx, companyID, source, run.StartedAt); err != nil {
		result.Err = s.fail(ctx, run.ID, &result, err)
		return result
	}

	if err := s.store.FinishEtlRun(ctx, run.ID, true, result.Pages, result.Rows, ""); err != nil {
		result.Err = err
		return result
	}

	logger.InfoCtx(ctx, "sync finished",
		zap.String("source", source),
		zap.Int("pages", result.Pages),
		zap.Int("rows", result.Rows))
	return result
}

// SyncVendor fans one vendor's resources out sequentially. A failing
// resource does not stop the others; every result is reported.
func (s *Service) SyncVendor(ctx context.Context, companyID uuid.UUID, vendor domain.Vendor, resources []domain.Resource, force bool) ([]Result, error) {
	if !vendor.Valid() {
		return nil, fmt.Errorf("unsupported vendor %q", vendor)
	}
	if len(resources) == 0 || (len(resources) == 1 && resources[0] == domain.ResourceAll) {
		resources = vendorResources[vendor]
	}

	results := make([]Result, 0, len(resources))
	for _, resource := range resources {
		source := domain.Source(vendor, resource)
		result := s.SyncResource(ctx, companyID, source, force)
		if result.Err != nil {
			logger.ErrorCtx(ctx, result.Err,
				zap.String("source", source),
				zap.String("company_id", companyID.String()))
		}
		results = append(results, result)
	}
	return results, nil
}

// sinceBoundary computes the incremental boundary: checkpoint minus the
// overlap window, or the zero time for a first full sync
func (s *Service) sinceBoundary(ctx context.Context, companyID uuid.UUID, source string) (time.Time, error) {
	checkpoint, err := s.store.GetCheckpoint(ctx, companyID, source)
	if err != nil {
		return time.Time{}, err
	}
	if checkpoint == nil {
		return time.Time{}, nil
	}
	return checkpoint.LastRunAt.Add(-overlapWindow), nil
}

func (s *Service) fail(ctx context.Context, runID uuid.UUID, result *Result, cause error) error {
	if err := s.store.FinishEtlRun(ctx, runID, false, result.Pages, result.Rows, cause.Error()); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to record failed run: %w", err),
			zap.String("run_id", runID.String()))
	}
	return cause
}

// syncPages drives the sequential fetch/persist loop for one resource.
// Counters reflect pages actually persisted, so a failure reports true
// partial progress.
func syncPages[T any](ctx context.Context, fetch func(context.Context, time.Time, string) (*domain.Page[T], error), persist func(context.Context, []T) error, since time.Time) (int, int, error) {
	var (
		pages  int
		rows   int
		cursor string
	)
	for {
		page, err := fetch(ctx, since, cursor)
		if err != nil {
			return pages, rows, err
		}

		if len(page.Items) > 0 {
			if err := persist(ctx, page.Items); err != nil {
				return pages, rows, err
			}
		}
		pages++
		rows += len(page.Items)

		if !page.HasMore {
			return pages, rows, nil
		}
		cursor = page.NextCursor
	}
}

func parseSource(source string) (domain.Vendor, domain.Resource, error) {
	parts := strings.SplitN(source, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid source %q", source)
	}

	vendor := domain.Vendor(parts[0])
	resource := domain.Resource(parts[1])
	if !vendor.Valid() {
		return "", "", fmt.Errorf("unsupported vendor %q", parts[0])
	}

	for _, r := range vendorResources[vendor] {
		if r == resource {
			return vendor, resource, nil
		}
	}
	return "", "", fmt.Errorf("unsupported resource %q for vendor %s", parts[1], vendor)
}

