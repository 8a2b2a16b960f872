package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayment returns the hex HMAC-SHA256 the gateway attaches to a payment
// callback, computed over "<gatewayOrderID>|<gatewayPaymentID>".
func SignPayment(secret, gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(paymentMAC(secret, gatewayOrderID, gatewayPaymentID))
}

// VerifySignature compares signature with the expected MAC in constant time.
func VerifySignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(paymentMAC(secret, gatewayOrderID, gatewayPaymentID), got)
}

func paymentMAC(secret, gatewayOrderID, gatewayPaymentID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return mac.Sum(nil)
}
