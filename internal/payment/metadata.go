package payment

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"sadaqah/internal/domain"
	kyderrors "sadaqah/pkg/errors"
)

// Metadata keys written on every intent and read back on reconciliation.
const (
	MetaRecipientID = "recipient_id"
	MetaNetAmount   = "net_amount"
	MetaCoverFees   = "cover_fees"
	MetaFeeAmount   = "fee_amount"
)

func DonationMetadata(recipientID string, charge domain.ChargeAmount, coverFees bool) map[string]string {
	return map[string]string{
		MetaRecipientID: strings.TrimSpace(recipientID),
		MetaNetAmount:   charge.Net.StringFixed(2),
		MetaCoverFees:   strconv.FormatBool(coverFees),
		MetaFeeAmount:   charge.Fee.StringFixed(2),
	}
}

// DonationInfo is what reconciliation recovers from intent metadata.
type DonationInfo struct {
	RecipientID string
	Net         decimal.Decimal
	CoverFees   bool
}

// ParseDonationMetadata reads back DonationMetadata. When net_amount is absent
// gross is used, which is correct for donations without covered fees.
func ParseDonationMetadata(md map[string]string, gross decimal.Decimal) (DonationInfo, error) {
	info := DonationInfo{
		RecipientID: strings.TrimSpace(md[MetaRecipientID]),
		Net:         gross,
	}
	if info.RecipientID == "" {
		return info, kyderrors.New(kyderrors.KindMalformedEvent, "intent metadata has no recipient_id")
	}
	if raw := strings.TrimSpace(md[MetaNetAmount]); raw != "" {
		net, err := decimal.NewFromString(raw)
		if err != nil {
			return info, kyderrors.E(kyderrors.KindMalformedEvent, "intent metadata net_amount is not a number", err)
		}
		info.Net = net
	}
	if raw := strings.TrimSpace(md[MetaCoverFees]); raw != "" {
		cover, err := strconv.ParseBool(raw)
		if err != nil {
			return info, kyderrors.E(kyderrors.KindMalformedEvent, "intent metadata cover_fees is not a boolean", err)
		}
		info.CoverFees = cover
	}
	return info, nil
}

// FromMinorUnits converts a provider integer amount back to currency units.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
