package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/agentplatform/internal/docstore"
	"github.com/mbd888/agentplatform/internal/idgen"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/syncutil"
	"github.com/mbd888/agentplatform/internal/tenant"
	"github.com/mbd888/agentplatform/internal/traces"
)

// Service records usage and produces billing records and invoices.
type Service struct {
	tenants *tenant.Manager
	gateway PaymentGateway
	locks   *syncutil.KeyedMutex
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a billing service on top of the tenant manager's
// scoped data access.
func NewService(tenants *tenant.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tenants: tenants,
		locks:   syncutil.NewKeyedMutex(0),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithGateway enables pushing invoices to a payment provider.
func (s *Service) WithGateway(g PaymentGateway) *Service {
	s.gateway = g
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordUsage appends one usage fact. Quotas are not checked here.
func (s *Service) RecordUsage(ctx context.Context, tenantID string, usageType UsageType, amount float64, meta map[string]any) (*UsageRecord, error) {
	if !ValidUsageType(usageType) {
		return nil, fmt.Errorf("%w: unknown usage type %q", ErrInvalidUsage, usageType)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", ErrInvalidUsage)
	}
	if _, ok := s.tenants.Get(tenantID); !ok {
		return nil, ErrTenantNotFound
	}

	rec := &UsageRecord{
		TenantID:  tenantID,
		UsageType: usageType,
		Amount:    amount,
		Unit:      usageType.unit(),
		Timestamp: s.now(),
		Metadata:  meta,
	}
	id, err := s.tenants.InsertTenantData(ctx, tenantID, UsageCollection, usageDoc(rec))
	if err != nil {
		return nil, fmt.Errorf("billing: record usage: %w", err)
	}
	rec.ID = id
	metrics.UsageRecordedTotal.WithLabelValues(string(usageType)).Inc()
	return rec, nil
}

// RecordAPICall records a single api_call fact.
func (s *Service) RecordAPICall(ctx context.Context, tenantID string, meta map[string]any) error {
	_, err := s.RecordUsage(ctx, tenantID, UsageAPICall, 1, meta)
	return err
}

// CalculateBilling aggregates usage in [start, end) into a persisted
// BillingRecord. Calculations for one tenant are serialized.
func (s *Service) CalculateBilling(ctx context.Context, tenantID string, cycle Cycle, start, end time.Time) (*BillingRecord, error) {
	ctx, span := traces.StartSpan(ctx, "billing.CalculateBilling", traces.TenantID(tenantID))
	defer span.End()

	rec, err := s.calculate(ctx, tenantID, cycle, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "calculate billing failed")
		return nil, err
	}
	return rec, nil
}

func (s *Service) calculate(ctx context.Context, tenantID string, cycle Cycle, start, end time.Time) (*BillingRecord, error) {
	if !ValidCycle(cycle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCycle, cycle)
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	unlock, err := s.locks.Lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := s.tenants.Get(tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	plan := PlanFor(t.Tier)

	summary, err := s.usageSummary(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	base := roundCents(plan.BaseFee(cycle))
	usage := plan.UsageFee(summary.APICalls, summary.StorageGB, summary.Users)
	rec := &BillingRecord{
		TenantID:  tenantID,
		Cycle:     cycle,
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
		Tier:      string(plan.Tier),
		APICalls:  summary.APICalls,
		StorageGB: summary.StorageGB,
		Users:     summary.Users,
		BaseFee:   base,
		UsageFee:  usage,
		TotalFee:  roundCents(base + usage),
		Status:    "pending",
		CreatedAt: s.now(),
	}
	rec.ID = idgen.WithPrefix("bill_")
	if _, err := s.tenants.InsertTenantData(ctx, tenantID, RecordsCollection, billingDoc(rec)); err != nil {
		return nil, fmt.Errorf("billing: save billing record: %w", err)
	}
	s.logger.Info("billing calculated", "tenant_id", tenantID, "billing_record_id", rec.ID,
		"cycle", cycle, "total_fee", rec.TotalFee)
	return rec, nil
}

// GetUsageSummary totals usage facts in [start, end).
func (s *Service) GetUsageSummary(ctx context.Context, tenantID string, start, end time.Time) (*UsageSummary, error) {
	if _, ok := s.tenants.Get(tenantID); !ok {
		return nil, ErrTenantNotFound
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	return s.usageSummary(ctx, tenantID, start, end)
}

// usageSummary sums api calls, takes the latest storage reading in the
// window and counts current users.
func (s *Service) usageSummary(ctx context.Context, tenantID string, start, end time.Time) (*UsageSummary, error) {
	docs, err := s.tenants.FindTenantData(ctx, tenantID, UsageCollection, docstore.Filter{
		"timestamp": map[string]any{"$gte": start.UTC(), "$lt": end.UTC()},
	}, docstore.FindOptions{SortBy: "timestamp"})
	if err != nil {
		return nil, fmt.Errorf("billing: load usage: %w", err)
	}

	sum := &UsageSummary{
		TenantID:  tenantID,
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
		ByType:    map[UsageType]float64{},
		Records:   len(docs),
	}
	var latestStorage time.Time
	for _, d := range docs {
		u := usageFromDoc(d)
		sum.ByType[u.UsageType] += u.Amount
		switch u.UsageType {
		case UsageAPICall:
			sum.APICalls += int64(u.Amount)
		case UsageStorage:
			if !u.Timestamp.Before(latestStorage) {
				latestStorage = u.Timestamp
				sum.StorageGB = u.Amount
			}
		}
	}

	stats, err := s.tenants.Statistics(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("billing: count users: %w", err)
	}
	sum.Users = stats.CurrentUsers
	return sum, nil
}

// GetBillingRecord loads one billing record.
func (s *Service) GetBillingRecord(ctx context.Context, tenantID, id string) (*BillingRecord, error) {
	doc, err := s.tenants.FindOneTenantData(ctx, tenantID, RecordsCollection, docstore.Filter{docstore.IDField: id})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrBillingRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return billingFromDoc(doc), nil
}

// ListBillingRecords returns the tenant's billing records, newest first.
func (s *Service) ListBillingRecords(ctx context.Context, tenantID string, limit int) ([]*BillingRecord, error) {
	docs, err := s.tenants.FindTenantData(ctx, tenantID, RecordsCollection, nil,
		docstore.FindOptions{SortBy: "created_at", Desc: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*BillingRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, billingFromDoc(d))
	}
	return out, nil
}

// CreateInvoice bills an existing billing record, adding TaxRate.
func (s *Service) CreateInvoice(ctx context.Context, tenantID, billingRecordID string, dueDate time.Time) (*Invoice, error) {
	rec, err := s.GetBillingRecord(ctx, tenantID, billingRecordID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if dueDate.IsZero() {
		dueDate = now.AddDate(0, 0, 30)
	}
	tax := roundCents(rec.TotalFee * TaxRate)
	inv := &Invoice{
		ID:              idgen.WithPrefix("inv_"),
		TenantID:        tenantID,
		BillingRecordID: rec.ID,
		Number:          fmt.Sprintf("INV-%s-%s", tenantID, now.Format("20060102150405")),
		Amount:          rec.TotalFee,
		TaxAmount:       tax,
		TotalAmount:     roundCents(rec.TotalFee + tax),
		Status:          InvoicePending,
		IssueDate:       now,
		DueDate:         dueDate.UTC(),
		Metadata:        map[string]any{},
	}
	if _, err := s.tenants.InsertTenantData(ctx, tenantID, InvoiceCollection, invoiceDoc(inv)); err != nil {
		return nil, fmt.Errorf("billing: save invoice: %w", err)
	}
	s.logger.Info("invoice created", "tenant_id", tenantID, "invoice_id", inv.ID, "total_amount", inv.TotalAmount)
	return inv, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	doc, err := s.tenants.FindOneTenantData(ctx, tenantID, InvoiceCollection, docstore.Filter{docstore.IDField: invoiceID})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return invoiceFromDoc(doc), nil
}

// ListInvoices returns the tenant's invoices, newest first, optionally
// filtered by status.
func (s *Service) ListInvoices(ctx context.Context, tenantID string, status InvoiceStatus) ([]*Invoice, error) {
	filter := docstore.Filter{}
	if status != "" {
		filter["status"] = string(status)
	}
	docs, err := s.tenants.FindTenantData(ctx, tenantID, InvoiceCollection, filter,
		docstore.FindOptions{SortBy: "issue_date", Desc: true})
	if err != nil {
		return nil, err
	}
	out := make([]*Invoice, 0, len(docs))
	for _, d := range docs {
		out = append(out, invoiceFromDoc(d))
	}
	return out, nil
}

// MarkInvoicePaid settles a pending or overdue invoice and its billing record.
func (s *Service) MarkInvoicePaid(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	unlock, err := s.locks.Lock(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inv, err := s.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoicePending && inv.Status != InvoiceOverdue {
		return nil, fmt.Errorf("%w: status is %s", ErrInvoiceNotPayable, inv.Status)
	}

	now := s.now()
	if _, err := s.tenants.UpdateTenantData(ctx, tenantID, InvoiceCollection,
		docstore.Filter{docstore.IDField: invoiceID},
		docstore.Document{"status": string(InvoicePaid), "paid_date": now}); err != nil {
		return nil, err
	}
	if _, err := s.tenants.UpdateTenantData(ctx, tenantID, RecordsCollection,
		docstore.Filter{docstore.IDField: inv.BillingRecordID},
		docstore.Document{"status": "paid", "paid_at": now}); err != nil {
		return nil, err
	}
	inv.Status = InvoicePaid
	inv.PaidDate = &now
	s.logger.Info("invoice paid", "tenant_id", tenantID, "invoice_id", invoiceID)
	return inv, nil
}

// MarkOverdue flags pending invoices past their due date, across all
// tenants, and returns how many changed.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	var errs []error
	for _, t := range s.tenants.List("", "") {
		n, err := s.tenants.UpdateTenantData(ctx, t.ID, InvoiceCollection, docstore.Filter{
			"status":   string(InvoicePending),
			"due_date": map[string]any{"$lt": now},
		}, docstore.Document{"status": string(InvoiceOverdue)})
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// SyncInvoice pushes an invoice to the payment gateway and stores the
// external id in the invoice metadata.
func (s *Service) SyncInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	if s.gateway == nil {
		return nil, ErrNoPaymentGateway
	}
	t, ok := s.tenants.Get(tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	customer, _ := t.Metadata[CustomerIDKey].(string)
	if customer == "" {
		return nil, ErrNoCustomer
	}
	inv, err := s.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	externalID, err := s.gateway.PushInvoice(ctx, customer, inv)
	if err != nil {
		return nil, fmt.Errorf("billing: push invoice: %w", err)
	}
	meta := make(map[string]any, len(inv.Metadata)+1)
	for k, v := range inv.Metadata {
		meta[k] = v
	}
	meta["external_id"] = externalID
	inv.Metadata = meta
	if _, err := s.tenants.UpdateTenantData(ctx, tenantID, InvoiceCollection,
		docstore.Filter{docstore.IDField: invoiceID},
		docstore.Document{"metadata": inv.Metadata}); err != nil {
		return nil, err
	}
	return inv, nil
}
