package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxReceiptLength = 40

var (
	membershipMultiplier = decimal.RequireFromString("0.9")
	hundred              = decimal.NewFromInt(100)
)

// ComputeFinalTotal returns the amount the customer is charged. Active members
// get 10% off items and shipping combined.
func ComputeFinalTotal(itemsPrice, shippingPrice decimal.Decimal, membershipActive bool) decimal.Decimal {
	base := itemsPrice.Add(shippingPrice)
	if membershipActive {
		return base.Mul(membershipMultiplier)
	}
	return base
}

// ShippingFee is free for a user's first order and fixed afterwards.
func ShippingFee(confirmedOrders int, fixedFee decimal.Decimal) decimal.Decimal {
	if confirmedOrders == 0 {
		return decimal.Zero
	}
	return fixedFee
}

// ToMinorUnits converts an amount to the smallest currency unit, rounding
// half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// ReceiptID builds the merchant reference sent with a gateway order:
// "r" + the last 8 digits of the unix milliseconds + "_" + the last 8
// characters of the user id.
func ReceiptID(userID string, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	receipt := "r" + lastN(ms, 8) + "_" + lastN(sanitizeReceipt(userID), 8)
	if len(receipt) > maxReceiptLength {
		receipt = receipt[:maxReceiptLength]
	}
	return receipt
}

func sanitizeReceipt(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
