package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/redactor/constants"
)

// File represents one uploaded image within a batch.
type File struct {
	ID               uuid.UUID            `json:"id"`
	BatchID          uuid.UUID            `json:"batch_id"`
	Filename         string               `json:"filename"`
	Position         int                  `json:"position"`
	Status           constants.FileStatus `json:"status"`
	Payload          *ExtractionPayload   `json:"extraction_payload,omitempty"`
	RedactedFilename *string              `json:"redacted_filename,omitempty"`
	ErrorMessage     *string              `json:"error_message,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// FileOutcome is the terminal write for a file: status plus whatever the stages produced.
type FileOutcome struct {
	Status           constants.FileStatus
	Payload          *ExtractionPayload
	RedactedFilename string
	ErrorMessage     string
}

// OriginalKey is the blob key of the uploaded bytes.
func (f *File) OriginalKey() string {
	return OriginalKey(f.BatchID, f.ID, f.Filename)
}

// RedactedKey is the blob key of the redacted output, empty until the redact stage ran.
func (f *File) RedactedKey() string {
	if f.RedactedFilename == nil || *f.RedactedFilename == "" {
		return ""
	}
	return RedactedKey(f.BatchID, f.ID, *f.RedactedFilename)
}

func OriginalKey(batchID, fileID uuid.UUID, filename string) string {
	return "originals/" + batchID.String() + "/" + fileID.String() + "/" + filename
}

func RedactedKey(batchID, fileID uuid.UUID, filename string) string {
	return "redacted/" + batchID.String() + "/" + fileID.String() + "/" + filename
}
