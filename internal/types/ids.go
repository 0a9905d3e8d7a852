package types

import "github.com/google/uuid"

// SubmissionID identifies one submission attempt across client and server logs.
// UUIDv7 so ids sort by creation time.
type SubmissionID string

// NewSubmissionID generates a UUIDv7 submission identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSubmissionID() SubmissionID {
	return SubmissionID(uuid.Must(uuid.NewV7()).String())
}

// ParseSubmissionID validates and converts a string to SubmissionID.
// Rejects malformed UUIDs so untrusted headers never reach the logs verbatim.
func ParseSubmissionID(s string) (SubmissionID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return SubmissionID(s), nil
}
