package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ecommind/engine/internal/api/middleware"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/etl"
	"github.com/ecommind/engine/internal/insights"
	"github.com/ecommind/engine/internal/integrations"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/store"
	"github.com/ecommind/engine/internal/store/schema"
	"github.com/ecommind/engine/internal/webhook"
)

const (
	defaultRunsLimit    = 20
	maxRunsLimit        = 100
	defaultInsightLimit = 50
	maxInsightLimit     = 200
)

// Handler handles HTTP requests
type Handler struct {
	store    store.Store
	etl      *etl.Service
	insights *insights.Service
	ingestor *webhook.Ingestor
	factory  *integrations.Factory
}

// NewHandler creates a new handler instance
func NewHandler(st store.Store, etlService *etl.Service, insightService *insights.Service, ingestor *webhook.Ingestor, factory *integrations.Factory) *Handler {
	return &Handler{
		store:    st,
		etl:      etlService,
		insights: insightService,
		ingestor: ingestor,
		factory:  factory,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleWebhook ingests one inbound vendor delivery. The route carries no
// session auth; the ingestor authenticates the delivery by signature or by
// the vendor account binding.
func (h *Handler) HandleWebhook(c *gin.Context) {
	vendor := domain.Vendor(c.Param("vendor"))
	topic := c.Param("topic")

	body, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), vendor, topic, body, signatureHeader(c, vendor))
	if err != nil {
		h.respondWebhookError(c, result, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"eventId":   result.EventID,
		"duplicate": result.Duplicate,
	})
}

// respondWebhookError maps ingestion errors onto the status-code contract:
// malformed payloads 400, bad signatures 401, unresolvable tenants 404,
// handler failures 500 (with the stored event id so the vendor retry can be
// correlated).
func (h *Handler) respondWebhookError(c *gin.Context, result *webhook.Result, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		respondValidationError(c, ve.Error())
		return
	}
	if errors.Is(err, domain.ErrInvalidSignature) {
		respondUnauthorized(c, "Invalid webhook signature")
		return
	}
	if errors.Is(err, domain.ErrIntegrationNotFound) || errors.Is(err, domain.ErrIntegrationDisabled) {
		respondNotFound(c, "No enabled integration matches this delivery")
		return
	}

	logger.Error(err,
		zap.String("vendor", c.Param("vendor")),
		zap.String("topic", c.Param("topic")))

	detail := errorDetail{Code: errCodeInternalError, Message: "Webhook processing failed"}
	if result != nil {
		detail.EventID = result.EventID
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Error: detail})
}

// signatureHeader extracts the vendor's signature header. Bling signs with an
// HMAC in X-Bling-Signature-256; Shopee pushes carry the signature in the
// Authorization header (the route has no session auth, so it is free); Meli
// sends none and binds by account id.
func signatureHeader(c *gin.Context, vendor domain.Vendor) string {
	switch vendor {
	case domain.VendorBling:
		return c.GetHeader("X-Bling-Signature-256")
	case domain.VendorShopee:
		return c.GetHeader("Authorization")
	default:
		return ""
	}
}

// syncTriggerRequest is the body of POST /sync/:vendor/trigger
type syncTriggerRequest struct {
	// Resource narrows the sync to one resource; empty or "all" syncs every
	// resource the vendor exposes
	Resource string `json:"resource"`
	// Force ignores the checkpoint and re-reads the full history
	Force bool `json:"force"`
}

// syncResultView is the per-resource outcome reported back to the caller.
// Extraction runs one tracked pass per resource, so the run id sits here
// rather than on the envelope. Natural-key upserts cannot tell an insert
// from an update, so both land in processed.
type syncResultView struct {
	Resource  string    `json:"resource"`
	EtlRunID  uuid.UUID `json:"etlRunId"`
	Processed int       `json:"processed"`
	Pages     int       `json:"pages"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

// syncResultViews maps engine results onto the response shape and reports
// whether every resource succeeded
func syncResultViews(results []etl.Result) ([]syncResultView, bool) {
	views := make([]syncResultView, 0, len(results))
	allOK := true
	for _, r := range results {
		view := syncResultView{
			Resource:  resourceOf(r.Source),
			EtlRunID:  r.RunID,
			Processed: r.Rows,
			Pages:     r.Pages,
			OK:        r.Err == nil,
		}
		if r.Err != nil {
			allOK = false
			view.Error = r.Err.Error()
		}
		views = append(views, view)
	}
	return views, allOK
}

// resourceOf strips the vendor prefix from a run source like "meli.orders"
func resourceOf(source string) string {
	if i := strings.IndexByte(source, '.'); i >= 0 {
		return source[i+1:]
	}
	return source
}

// TriggerSync runs an on-demand extraction for the authenticated company.
// Partial failures still report every source's outcome.
func (h *Handler) TriggerSync(c *gin.Context) {
	vendor := domain.Vendor(c.Param("vendor"))
	companyID := middleware.CompanyID(c)

	var req syncTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	var resources []domain.Resource
	if req.Resource != "" {
		resources = []domain.Resource{domain.Resource(req.Resource)}
	}

	results, err := h.etl.SyncVendor(c.Request.Context(), companyID, vendor, resources, req.Force)
	if err != nil {
		respondBadRequest(c, "Invalid sync request", err.Error())
		return
	}

	views, allOK := syncResultViews(results)

	status := http.StatusOK
	body := gin.H{
		"success": allOK,
		"results": views,
	}
	if !allOK {
		status = http.StatusInternalServerError
		body["error"] = "one or more resources failed to sync"
	}
	c.JSON(status, body)
}

// ListRuns returns the company's recent extraction runs, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	companyID := middleware.CompanyID(c)
	limit := queryLimit(c, defaultRunsLimit, maxRunsLimit)

	runs, err := h.store.ListEtlRuns(c.Request.Context(), companyID, limit)
	if err != nil {
		respondInternalError(c, err, "Failed to list sync runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": views})
}

// runView is the JSON shape of one extraction run
type runView struct {
	ID         uuid.UUID  `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	OK         bool       `json:"ok"`
	Pages      int        `json:"pages"`
	Rows       int        `json:"rows"`
	Error      string     `json:"error,omitempty"`
}

func toRunView(run *schema.EtlRun) runView {
	return runView{
		ID:         run.ID,
		Source:     run.Source,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		OK:         run.OK,
		Pages:      run.Pages,
		Rows:       run.Rows,
		Error:      run.Error,
	}
}

// generateInsightsRequest is the body of POST /market/insights
type generateInsightsRequest struct {
	DatasetID          string `json:"dataset_id" binding:"required"`
	AutoCreateMissions bool   `json:"auto_create_missions"`
}

// GenerateInsights runs the rule engine over a market dataset and persists
// the findings for the authenticated company
func (h *Handler) GenerateInsights(c *gin.Context) {
	companyID := middleware.CompanyID(c)

	var req generateInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	datasetID, err := uuid.Parse(req.DatasetID)
	if err != nil {
		respondValidationError(c, "dataset_id must be a UUID")
		return
	}

	report, err := h.insights.GenerateForDataset(c.Request.Context(), companyID, datasetID, req.AutoCreateMissions)
	if err != nil {
		if errors.Is(err, domain.ErrDatasetNotFound) {
			respondNotFound(c, "Dataset not found")
			return
		}
		if errors.Is(err, domain.ErrCompanyNotFound) {
			respondNotFound(c, "Company not found")
			return
		}
		respondInternalError(c, err, "Failed to generate insights",
			zap.String("dataset_id", datasetID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"totalRecords":       report.TotalRecords,
			"insightsGenerated":  report.Generated,
			"insightsSaved":      len(report.Saved),
			"insightsDuplicated": len(report.Duplicated),
			"missionsCreated":    report.MissionsCreated,
		},
		"insights":   generatedViews(report.Saved),
		"duplicated": generatedViews(report.Duplicated),
	})
}

// generatedInsightView is the JSON shape of a freshly generated insight
type generatedInsightView struct {
	Type           domain.InsightType  `json:"type"`
	Title          string              `json:"title"`
	Summary        string              `json:"summary"`
	Priority       domain.Priority     `json:"priority"`
	SLADays        int                 `json:"slaDays"`
	Confidence     float64             `json:"confidence"`
	ImpactEstimate *decimal.Decimal    `json:"impactEstimate,omitempty"`
	DedupeKey      string              `json:"dedupeKey"`
	Scope          domain.InsightScope `json:"scope"`
	Payload        map[string]any      `json:"payload"`
}

func generatedViews(list []domain.Insight) []generatedInsightView {
	views := make([]generatedInsightView, 0, len(list))
	for _, ins := range list {
		views = append(views, generatedInsightView{
			Type:           ins.Type,
			Title:          ins.Title,
			Summary:        ins.Summary,
			Priority:       ins.Priority,
			SLADays:        ins.SLADays,
			Confidence:     ins.Confidence,
			ImpactEstimate: ins.ImpactEstimate,
			DedupeKey:      ins.DedupeKey,
			Scope:          ins.Scope,
			Payload:        ins.Payload,
		})
	}
	return views
}

// ListInsights returns the company's persisted insights, newest first,
// optionally filtered by type
func (h *Handler) ListInsights(c *gin.Context) {
	companyID := middleware.CompanyID(c)
	limit := queryLimit(c, defaultInsightLimit, maxInsightLimit)

	rows, err := h.store.ListInsights(c.Request.Context(), companyID, c.Query("type"), limit)
	if err != nil {
		respondInternalError(c, err, "Failed to list insights")
		return
	}

	views := make([]insightView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toInsightView(row))
	}
	c.JSON(http.StatusOK, gin.H{"insights": views})
}

// insightView is the JSON shape of one persisted insight
type insightView struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Priority       string          `json:"priority"`
	SLADays        int             `json:"slaDays"`
	Confidence     float64         `json:"confidence"`
	ImpactEstimate *string         `json:"impactEstimate,omitempty"`
	Scope          json.RawMessage `json:"scope,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toInsightView(row *schema.Insight) insightView {
	view := insightView{
		ID:         row.ID,
		Type:       row.Type,
		Title:      row.Title,
		Summary:    row.Summary,
		Priority:   row.Priority,
		SLADays:    row.SLADays,
		Confidence: row.Confidence,
		Scope:      json.RawMessage(row.Scope),
		Payload:    json.RawMessage(row.Payload),
		CreatedAt:  row.CreatedAt,
	}
	if row.ImpactEstimate.Valid {
		impact := row.ImpactEstimate.Decimal.StringFixed(2)
		view.ImpactEstimate = &impact
	}
	return view
}

// createDatasetRequest is the body of POST /market/datasets
type createDatasetRequest struct {
	Name    string                `json:"name" binding:"required"`
	Channel string                `json:"channel"`
	Records []createDatasetRecord `json:"records" binding:"required"`
}

// createDatasetRecord is one market observation in the ingestion payload
type createDatasetRecord struct {
	Title        string            `json:"title"`
	Identifier   string            `json:"identifier"`
	Category     string            `json:"category"`
	Channel      string            `json:"channel"`
	Price        *decimal.Decimal  `json:"price"`
	PriceMedian  *decimal.Decimal  `json:"price_median"`
	DemandIndex  *float64          `json:"demand_index"`
	GrowthRate   *float64          `json:"growth_rate"`
	SellersTop   *int              `json:"sellers_top"`
	UnitsSoldEst *int              `json:"units_sold_est"`
	RevenueEst   *float64          `json:"revenue_est"`
	Attributes   map[string]string `json:"attributes"`
}

// CreateMarketDataset ingests one batch of market observations for the
// authenticated company
func (h *Handler) CreateMarketDataset(c *gin.Context) {
	companyID := middleware.CompanyID(c)

	var req createDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if len(req.Records) == 0 {
		respondValidationError(c, "records must not be empty")
		return
	}
	for i, rec := range req.Records {
		if rec.Title == "" {
			respondValidationError(c, "records["+strconv.Itoa(i)+"].title is required")
			return
		}
	}

	dataset := &schema.MarketDataset{
		ID:        uuid.New(),
		CompanyID: companyID,
		Name:      req.Name,
		Channel:   req.Channel,
		LoadedAt:  time.Now().UTC(),
	}
	records := make([]schema.MarketRecord, 0, len(req.Records))
	for _, rec := range req.Records {
		records = append(records, toRecordRow(dataset.ID, rec))
	}

	if err := h.store.CreateMarketDataset(c.Request.Context(), dataset, records); err != nil {
		respondInternalError(c, err, "Failed to store market dataset")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      dataset.ID,
		"records": len(records),
	})
}

func toRecordRow(datasetID uuid.UUID, rec createDatasetRecord) schema.MarketRecord {
	row := schema.MarketRecord{
		ID:           uuid.New(),
		DatasetID:    datasetID,
		Title:        rec.Title,
		Identifier:   rec.Identifier,
		Category:     rec.Category,
		Channel:      rec.Channel,
		DemandIndex:  rec.DemandIndex,
		GrowthRate:   rec.GrowthRate,
		SellersTop:   rec.SellersTop,
		UnitsSoldEst: rec.UnitsSoldEst,
		RevenueEst:   rec.RevenueEst,
	}
	if rec.Price != nil {
		row.Price = decimal.NewNullDecimal(*rec.Price)
	}
	if rec.PriceMedian != nil {
		row.PriceMedian = decimal.NewNullDecimal(*rec.PriceMedian)
	}
	if rec.Attributes != nil {
		row.Attributes = datatypes.NewJSONType(rec.Attributes)
	}
	return row
}

// ListMissions returns the company's missions, optionally filtered by status
func (h *Handler) ListMissions(c *gin.Context) {
	companyID := middleware.CompanyID(c)

	status := c.Query("status")
	if status != "" && !validMissionStatus(status) {
		respondValidationError(c, "unknown status "+strconv.Quote(status))
		return
	}

	rows, err := h.store.ListMissions(c.Request.Context(), companyID, status)
	if err != nil {
		respondInternalError(c, err, "Failed to list missions")
		return
	}

	views := make([]missionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toMissionView(row))
	}
	c.JSON(http.StatusOK, gin.H{"missions": views})
}

// updateMissionRequest is the body of PATCH /missions/:id
type updateMissionRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateMissionStatus moves a mission through its lifecycle
func (h *Handler) UpdateMissionStatus(c *gin.Context) {
	companyID := middleware.CompanyID(c)

	missionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondValidationError(c, "mission id must be a UUID")
		return
	}

	var req updateMissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if !validMissionStatus(req.Status) {
		respondValidationError(c, "unknown status "+strconv.Quote(req.Status))
		return
	}

	if err := h.store.UpdateMissionStatus(c.Request.Context(), companyID, missionID, req.Status); err != nil {
		if errors.Is(err, domain.ErrMissionNotFound) {
			respondNotFound(c, "Mission not found")
			return
		}
		respondInternalError(c, err, "Failed to update mission",
			zap.String("mission_id", missionID.String()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// missionView is the JSON shape of one mission
type missionView struct {
	ID          uuid.UUID  `json:"id"`
	InsightID   *uuid.UUID `json:"insightId,omitempty"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status"`
	Tags        []string   `json:"tags"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toMissionView(row *schema.Mission) missionView {
	return missionView{
		ID:          row.ID,
		InsightID:   row.InsightID,
		Title:       row.Title,
		Summary:     row.Summary,
		Status:      row.Status,
		Tags:        row.Tags,
		DueDate:     row.DueDate,
		CompletedAt: row.CompletedAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func validMissionStatus(status string) bool {
	switch domain.MissionStatus(status) {
	case domain.MissionBacklog, domain.MissionPlanned, domain.MissionInProgress,
		domain.MissionDone, domain.MissionDismissed:
		return true
	}
	return false
}

// queryLimit parses the limit query parameter with a default and a ceiling
func queryLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
