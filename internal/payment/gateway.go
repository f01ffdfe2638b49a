// Package payment defines the gateway collaborator boundary. The core
// treats the gateway as an opaque success oracle; wire protocols live
// behind this interface.
package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Result struct {
	Success       bool
	TransactionID string
	Status        string
	RawResponse   []byte
}

type Gateway interface {
	Charge(ctx context.Context, amount decimal.Decimal, currency, method string) (*Result, error)
	Verify(ctx context.Context, transactionID string) (*Result, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error)
}

// StubGateway approves everything. Useful for development and tests.
type StubGateway struct{}

func (StubGateway) Charge(ctx context.Context, amount decimal.Decimal, currency, method string) (*Result, error) {
	return &Result{
		Success:       true,
		TransactionID: "txn_" + uuid.NewString(),
		Status:        "completed",
		RawResponse:   []byte(`{"stub":true}`),
	}, nil
}

func (StubGateway) Verify(ctx context.Context, transactionID string) (*Result, error) {
	return &Result{Success: true, TransactionID: transactionID, Status: "completed"}, nil
}

func (StubGateway) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error) {
	return &Result{Success: true, TransactionID: transactionID, Status: "refunded"}, nil
}
