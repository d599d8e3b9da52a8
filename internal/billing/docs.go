package billing

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/docstore"
)

func usageDoc(u *UsageRecord) docstore.Document {
	doc := docstore.Document{
		"usage_type": string(u.UsageType),
		"amount":     u.Amount,
		"unit":       u.Unit,
		"timestamp":  u.Timestamp,
	}
	if len(u.Metadata) > 0 {
		doc["metadata"] = u.Metadata
	}
	return doc
}

func usageFromDoc(d docstore.Document) *UsageRecord {
	f := declarative.Fields(d)
	amount, _ := f.Float(0, "amount")
	return &UsageRecord{
		ID:        d.ID(),
		TenantID:  f.String("tenant_id"),
		UsageType: UsageType(f.String("usage_type")),
		Amount:    amount,
		Unit:      f.String("unit"),
		Timestamp: timeField(f, "timestamp"),
		Metadata:  f.Map("metadata"),
	}
}

func billingDoc(b *BillingRecord) docstore.Document {
	doc := docstore.Document{
		docstore.IDField: b.ID,
		"billing_cycle":  string(b.Cycle),
		"start_date":     b.StartDate,
		"end_date":       b.EndDate,
		"tier":           b.Tier,
		"api_calls":      b.APICalls,
		"storage_gb":     b.StorageGB,
		"users":          b.Users,
		"base_fee":       b.BaseFee,
		"usage_fee":      b.UsageFee,
		"total_fee":      b.TotalFee,
		"status":         b.Status,
	}
	if b.PaidAt != nil {
		doc["paid_at"] = *b.PaidAt
	}
	return doc
}

func billingFromDoc(d docstore.Document) *BillingRecord {
	f := declarative.Fields(d)
	apiCalls, _ := f.Int(0, "api_calls")
	users, _ := f.Int(0, "users")
	storage, _ := f.Float(0, "storage_gb")
	base, _ := f.Float(0, "base_fee")
	usage, _ := f.Float(0, "usage_fee")
	total, _ := f.Float(0, "total_fee")
	paid, _ := f.Time("paid_at")
	return &BillingRecord{
		ID:        d.ID(),
		TenantID:  f.String("tenant_id"),
		Cycle:     Cycle(f.String("billing_cycle")),
		StartDate: timeField(f, "start_date"),
		EndDate:   timeField(f, "end_date"),
		Tier:      f.String("tier"),
		APICalls:  int64(apiCalls),
		StorageGB: storage,
		Users:     int64(users),
		BaseFee:   base,
		UsageFee:  usage,
		TotalFee:  total,
		Status:    f.String("status"),
		CreatedAt: timeField(f, "created_at"),
		PaidAt:    paid,
	}
}

func invoiceDoc(inv *Invoice) docstore.Document {
	doc := docstore.Document{
		docstore.IDField:    inv.ID,
		"billing_record_id": inv.BillingRecordID,
		"invoice_number":    inv.Number,
		"amount":            inv.Amount,
		"tax_amount":        inv.TaxAmount,
		"total_amount":      inv.TotalAmount,
		"status":            string(inv.Status),
		"issue_date":        inv.IssueDate,
		"due_date":          inv.DueDate,
		"metadata":          inv.Metadata,
	}
	if inv.PaidDate != nil {
		doc["paid_date"] = *inv.PaidDate
	}
	return doc
}

func invoiceFromDoc(d docstore.Document) *Invoice {
	f := declarative.Fields(d)
	amount, _ := f.Float(0, "amount")
	tax, _ := f.Float(0, "tax_amount")
	total, _ := f.Float(0, "total_amount")
	paid, _ := f.Time("paid_date")
	return &Invoice{
		ID:              d.ID(),
		TenantID:        f.String("tenant_id"),
		BillingRecordID: f.String("billing_record_id"),
		Number:          f.String("invoice_number"),
		Amount:          amount,
		TaxAmount:       tax,
		TotalAmount:     total,
		Status:          InvoiceStatus(f.String("status")),
		IssueDate:       timeField(f, "issue_date"),
		DueDate:         timeField(f, "due_date"),
		PaidDate:        paid,
		Metadata:        f.Map("metadata"),
	}
}

func timeField(f declarative.Fields, key string) time.Time {
	ts, err := f.Time(key)
	if err != nil || ts == nil {
		return time.Time{}
	}
	return *ts
}
