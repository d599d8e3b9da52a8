// Package billing records tenant usage and turns it into billing records
// and invoices.
//
// Usage facts are append-only and never checked against quotas here; quota
// enforcement happens where resources are consumed (tenant.Manager and the
// quota middleware). All records live in tenant-scoped collections.
package billing

import (
	"errors"
	"math"
	"time"
)

// Errors
var (
	ErrTenantNotFound        = errors.New("billing: tenant not found")
	ErrInvalidUsage          = errors.New("billing: invalid usage record")
	ErrInvalidWindow         = errors.New("billing: end_date must be after start_date")
	ErrInvalidCycle          = errors.New("billing: unknown billing cycle")
	ErrBillingRecordNotFound = errors.New("billing: billing record not found")
	ErrInvoiceNotFound       = errors.New("billing: invoice not found")
	ErrInvoiceNotPayable     = errors.New("billing: invoice is not payable")
	ErrNoPaymentGateway      = errors.New("billing: no payment gateway configured")
	ErrNoCustomer            = errors.New("billing: tenant has no payment customer id")
)

// Collections, relative to the tenant namespace.
const (
	UsageCollection   = "usage_records"
	RecordsCollection = "billing_records"
	InvoiceCollection = "invoices"
)

// UsageType classifies a usage fact.
type UsageType string

const (
	UsageAPICall UsageType = "api_call"
	UsageStorage UsageType = "storage"
	UsageUser    UsageType = "user"
	UsageFeature UsageType = "feature"
)

// ValidUsageType reports whether t is a known usage type.
func ValidUsageType(t UsageType) bool {
	switch t {
	case UsageAPICall, UsageStorage, UsageUser, UsageFeature:
		return true
	}
	return false
}

func (t UsageType) unit() string {
	if t == UsageStorage {
		return "gb"
	}
	return "count"
}

// Cycle is a billing period kind.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
	CycleOneTime Cycle = "one_time"
)

// ValidCycle reports whether c is a known cycle.
func ValidCycle(c Cycle) bool {
	return c == CycleMonthly || c == CycleYearly || c == CycleOneTime
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// TaxRate is applied to a billing record's total when invoicing.
const TaxRate = 0.1

// UsageRecord is one append-only usage fact.
type UsageRecord struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	UsageType UsageType      `json:"usage_type"`
	Amount    float64        `json:"amount"`
	Unit      string         `json:"unit"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BillingRecord aggregates usage over [StartDate, EndDate).
// BaseFee + UsageFee == TotalFee.
type BillingRecord struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Cycle     Cycle      `json:"billing_cycle"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	Tier      string     `json:"tier"`
	APICalls  int64      `json:"api_calls"`
	StorageGB float64    `json:"storage_gb"`
	Users     int64      `json:"users"`
	BaseFee   float64    `json:"base_fee"`
	UsageFee  float64    `json:"usage_fee"`
	TotalFee  float64    `json:"total_fee"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// Invoice bills one BillingRecord. Amount + TaxAmount == TotalAmount.
type Invoice struct {
	ID              string         `json:"invoice_id"`
	TenantID        string         `json:"tenant_id"`
	BillingRecordID string         `json:"billing_record_id"`
	Number          string         `json:"invoice_number"`
	Amount          float64        `json:"amount"`
	TaxAmount       float64        `json:"tax_amount"`
	TotalAmount     float64        `json:"total_amount"`
	Status          InvoiceStatus  `json:"status"`
	IssueDate       time.Time      `json:"issue_date"`
	DueDate         time.Time      `json:"due_date"`
	PaidDate        *time.Time     `json:"paid_date,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// UsageSummary totals usage facts over a window.
type UsageSummary struct {
	TenantID  string                `json:"tenant_id"`
	StartDate time.Time             `json:"start_date"`
	EndDate   time.Time             `json:"end_date"`
	APICalls  int64                 `json:"api_calls"`
	StorageGB float64               `json:"storage_gb"`
	Users     int64                 `json:"users"`
	ByType    map[UsageType]float64 `json:"by_type"`
	Records   int                   `json:"records"`
}

// roundCents rounds a currency amount to two decimals.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
