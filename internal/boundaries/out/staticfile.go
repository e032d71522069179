package out

import "github.com/snadboy/revpd/internal/domain"

// StaticFile is the driven port over the on-disk static-route document
// (§4.4, §6.2). The Static Route Store usecase owns all mutation ordering;
// this port only knows how to durably persist and reload one document.
type StaticFile interface {
	// Load reads and parses the document. A missing file is not an error:
	// implementations return an empty slice.
	Load() ([]domain.StaticRecord, error)

	// Save atomically replaces the document's contents (write-temp, flush,
	// rename-on-same-directory). Callers must not observe a partial file
	// regardless of when the process is interrupted.
	Save(records []domain.StaticRecord) error

	// Watch notifies onChange whenever the file is written, created or
	// renamed into place, so the store can pick up externally-made edits;
	// Save's own write notifies it too. The returned stop func releases
	// the watch.
	Watch(onChange func()) (stop func() error, err error)
}
