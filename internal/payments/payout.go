package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PayoutRequest struct {
	// Reference is stable across retries of the same payout. Implementations
	// must treat a repeated Reference as the same transfer and return its
	// original transfer reference instead of paying again.
	Reference string
	OrderID   string
	SellerID  string
	Gross     decimal.Decimal
	Fee       decimal.Decimal
	Net       decimal.Decimal
}

// Payouter sends the seller their share of a delivered order and returns the
// transfer reference.
type Payouter interface {
	Payout(ctx context.Context, req PayoutRequest) (string, error)
}

// SimulatedPayouter records the payout in the log only. The transfer
// reference is derived from the request reference, so a retried payout
// reports the same transfer.
type SimulatedPayouter struct {
	Log *zap.Logger
}

func (p SimulatedPayouter) Payout(ctx context.Context, req PayoutRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Reference == "" {
		return "", errors.New("payout reference is required")
	}
	ref := "po_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.Reference)).String()
	if p.Log != nil {
		p.Log.Info("payout sent",
			zap.String("reference", req.Reference),
			zap.String("orderID", req.OrderID),
			zap.String("sellerID", req.SellerID),
			zap.String("gross", req.Gross.StringFixed(2)),
			zap.String("fee", req.Fee.StringFixed(2)),
			zap.String("net", req.Net.StringFixed(2)),
			zap.String("ref", ref))
	}
	return ref, nil
}
