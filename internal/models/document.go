package models

import "time"

// RunRecord is the Firestore record for one processing run. It tracks the
// overall status and metadata of the source document so runs can be audited
// across machines.
type RunRecord struct {
	SourceHash       string    `firestore:"sourceHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}
