package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
)

// PaymentLinkParams describes a one-off quick-pay link for a fixed amount.
type PaymentLinkParams struct {
	Name           string
	AmountMinor    int64
	Currency       string
	LocationID     string
	RedirectURL    string
	Note           string
	IdempotencyKey string
}

func (p PaymentLinkParams) toSquareRequest(idempotencyKey string) *sqcheckout.CreatePaymentLinkRequest {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "Platform commission"
	}
	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: ptrString(idempotencyKey),
		QuickPay: &sq.QuickPay{
			Name:       name,
			PriceMoney: moneyPtr(p.AmountMinor, p.Currency),
			LocationID: p.LocationID,
		},
	}
	if trimmed := strings.TrimSpace(p.RedirectURL); trimmed != "" {
		req.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: ptrString(trimmed)}
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.PaymentNote = ptrString(trimmed)
	}
	return req
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "INR"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
