package domain

import "time"

// Challenge is the single outstanding OTP for an email.
// PK: email. Revision changes on every write and guards conditional updates.
// TTL is a Unix timestamp used only as the DynamoDB expiry attribute; it trails
// ExpiresAt so an expired challenge is still readable (and reported as expired).
type Challenge struct {
	Email     string    `json:"email" dynamodbav:"email"`
	CodeHash  string    `json:"-" dynamodbav:"code_hash"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
	Attempts  int       `json:"attempts" dynamodbav:"attempts"`
	Revision  string    `json:"-" dynamodbav:"revision"`
	TTL       int64     `json:"-" dynamodbav:"ttl"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// DeliveryStatus is the result of handing a code to a dispatcher.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryResult is returned by dispatchers instead of an error; a failed
// delivery never fails the issuing call.
type DeliveryResult struct {
	Status DeliveryStatus
	Reason string
}

func Sent() DeliveryResult { return DeliveryResult{Status: DeliverySent} }

func Failed(reason string) DeliveryResult {
	return DeliveryResult{Status: DeliveryFailed, Reason: reason}
}
