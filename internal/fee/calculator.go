// Package fee turns the amount a donor wants the recipient to receive into the
// amount actually charged when the donor chooses to cover processing fees.
package fee

import (
	"github.com/shopspring/decimal"

	"sadaqah/internal/domain"
	kyderrors "sadaqah/pkg/errors"
)

var one = decimal.NewFromInt(1)

// ComputeGross solves gross so that gross - (fixedFee + feeRate*gross) == net,
// rounded once to cents. Without coverFees gross equals net.
func ComputeGross(net decimal.Decimal, coverFees bool, feeRate, fixedFee decimal.Decimal) (domain.ChargeAmount, error) {
	if !net.IsPositive() {
		return domain.ChargeAmount{}, kyderrors.New(kyderrors.KindInvalidAmount, "amount must be greater than 0")
	}
	if !coverFees {
		return domain.ChargeAmount{Net: net, Gross: net, Fee: decimal.Zero}, nil
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) || fixedFee.IsNegative() {
		return domain.ChargeAmount{}, kyderrors.New(kyderrors.KindInvalidRequest, "fee schedule out of range")
	}

	gross := net.Add(fixedFee).Div(one.Sub(feeRate)).Round(2)
	if gross.LessThan(net) {
		gross = net
	}
	return domain.ChargeAmount{Net: net, Gross: gross, Fee: gross.Sub(net)}, nil
}

// Calculator carries a configured fee schedule.
type Calculator struct {
	Rate  decimal.Decimal
	Fixed decimal.Decimal
}

func NewCalculator(rate, fixed decimal.Decimal) *Calculator {
	return &Calculator{Rate: rate, Fixed: fixed}
}

func (c *Calculator) Compute(net decimal.Decimal, coverFees bool) (domain.ChargeAmount, error) {
	return ComputeGross(net, coverFees, c.Rate, c.Fixed)
}

// RecipientNet is what the recipient keeps from gross after the processor's cut.
func (c *Calculator) RecipientNet(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(one.Sub(c.Rate)).Sub(c.Fixed)
}
