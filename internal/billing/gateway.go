package billing

import (
	"context"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// CustomerIDKey is the tenant metadata key holding the payment customer id.
const CustomerIDKey = "stripe_customer_id"

// PaymentGateway pushes invoices to an external payment provider.
type PaymentGateway interface {
	PushInvoice(ctx context.Context, customerID string, inv *Invoice) (string, error)
}

// StripeGateway creates one invoice item per invoice and finalizes a Stripe
// invoice around it.
type StripeGateway struct {
	api      *client.API
	currency string
}

// NewStripeGateway creates a gateway using secretKey.
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{
		api:      client.New(secretKey, nil),
		currency: string(stripe.CurrencyUSD),
	}
}

func (g *StripeGateway) PushInvoice(ctx context.Context, customerID string, inv *Invoice) (string, error) {
	item := &stripe.InvoiceItemParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(int64(math.Round(inv.TotalAmount * 100))),
		Currency:    stripe.String(g.currency),
		Description: stripe.String(fmt.Sprintf("%s (billing record %s)", inv.Number, inv.BillingRecordID)),
	}
	if _, err := g.api.InvoiceItems.New(item); err != nil {
		return "", fmt.Errorf("stripe invoice item: %w", err)
	}

	params := &stripe.InvoiceParams{
		Params:                      stripe.Params{Context: ctx},
		Customer:                    stripe.String(customerID),
		PendingInvoiceItemsBehavior: stripe.String("include"),
		AutoAdvance:                 stripe.Bool(true),
	}
	params.AddMetadata("invoice_number", inv.Number)
	params.AddMetadata("tenant_id", inv.TenantID)
	created, err := g.api.Invoices.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe invoice: %w", err)
	}
	return created.ID, nil
}
