package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// archivePrefix is where the archiver parks aged rebalance history; the
// handler refuses to read outside it.
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage rebalance archive: listing the
// monthly JSONL objects the archiver produced and streaming one back for
// offline analysis.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler over the given blob reader.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archives"),
	}
}

// listArchivesResponse wraps the archive listing response.
type listArchivesResponse struct {
	Archives []domain.BlobInfo `json:"archives"`
}

// ListArchives returns metadata for the archived history objects. The
// optional prefix narrows the listing to one month, e.g.
// "archive/rebalances/2025-06".
// GET /api/archives?prefix=
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = archivePrefix
	}
	if !strings.HasPrefix(prefix, archivePrefix) {
		writeError(w, http.StatusBadRequest, "prefix must start with "+archivePrefix)
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: infos})
}

// GetArchive streams one archived JSONL object back to the caller.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r, "path")
	if !strings.HasPrefix(path, archivePrefix) || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
