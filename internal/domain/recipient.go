package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Recipient is a resolved delivery target. Recipients are derived on each
// dispatch, never stored as their own entity: the ID is a deterministic
// function of the email (and scope), so re-resolving the same segment
// always yields the same IDs. That determinism is what makes retried and
// redelivered jobs attributable to the same recipient without any lock.
type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NormalizeEmail lower-cases and trims an address. All ID derivation and
// deduplication goes through this first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IndividualRecipientID derives the stable ID for a single-recipient
// campaign: the first 8 hex chars of md5(email).
func IndividualRecipientID(email string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])[:8]
}

// SegmentRecipientID derives the stable ID for a member of a concrete
// segment, scoped so the same address in two segments gets distinct IDs.
func SegmentRecipientID(segmentID, email string) string {
	sum := md5.Sum([]byte(segmentID + ":" + NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])[:12]
}

// GlobalRecipientID derives the stable ID used by the pseudo-segments,
// which union emails across segments and so have no single scope.
func GlobalRecipientID(email string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])[:12]
}
