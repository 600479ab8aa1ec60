package constants

// BatchStatus is the canonical status for rows in batches.
type BatchStatus string

// Stable values (store these exact strings in DB).
const (
	BatchStatusQueued          BatchStatus = "queued"
	BatchStatusProcessing      BatchStatus = "processing"
	BatchStatusComplete        BatchStatus = "complete"
	BatchStatusPartiallyFailed BatchStatus = "partially_failed"
	BatchStatusFailed          BatchStatus = "failed"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusComplete, BatchStatusPartiallyFailed, BatchStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known batch statuses.
func (s BatchStatus) Valid() bool {
	return s == BatchStatusQueued || s == BatchStatusProcessing || s.IsTerminal()
}

// API is the client-facing spelling returned by the status endpoint.
func (s BatchStatus) API() string {
	if s == BatchStatusComplete {
		return "completed"
	}
	return string(s)
}

// FileStatus is the canonical status for rows in files.
type FileStatus string

const (
	FileStatusQueued     FileStatus = "queued"
	FileStatusProcessing FileStatus = "processing"
	FileStatusComplete   FileStatus = "complete"
	FileStatusUnusable   FileStatus = "unusable" // classified nothing because the classifier failed
	FileStatusFailed     FileStatus = "failed"
)

func (s FileStatus) IsTerminal() bool {
	switch s {
	case FileStatusComplete, FileStatusUnusable, FileStatusFailed:
		return true
	}
	return false
}

func (s FileStatus) Valid() bool {
	return s == FileStatusQueued || s == FileStatusProcessing || s.IsTerminal()
}
