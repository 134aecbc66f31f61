package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/campa/internal/core"
)

// multipartOverhead leaves room for the form boundaries around the file.
const multipartOverhead = 1 << 16

// openUpload returns the "file" part of a multipart request.
func (s *Server) openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, errFileTooLarge
		}
		return nil, nil, errors.Join(errBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	if header.Size > maxSize {
		file.Close()
		return nil, nil, errFileTooLarge
	}
	return file, header, nil
}

// handleImport runs an import and answers when it has finished.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.openUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	res, summary := s.service.Import(r.Context(), identity(r), core.ImportSource{
		FileName: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	writeResult(w, res, map[string]any{"summary": summary})
}

// handleStartImport starts an import in the background and returns its id.
// Progress is streamed from /api/import/{importID}/progress.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.openUpload(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	importID, err := s.service.StartImport(r.Context(), identity(r), header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"importId": importID})
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via lastEventId query parameter for reconnection.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	// The event ID is the progress percentage, so a reconnecting client
	// skips what it has already seen
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	progressCh, err := s.service.SubscribeImport(importID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				s.writeCompleteEvent(w, r, importID)
				flusher.Flush()
				return
			}

			percent := progress.Percent()
			if lastEventIDStr != "" && percent <= lastEventID && !terminal(progress.Phase) {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// writeCompleteEvent sends the final result once the progress channel is
// closed.
func (s *Server) writeCompleteEvent(w http.ResponseWriter, r *http.Request, importID string) {
	data := []byte("{}")
	if res, _, err := s.service.ImportResult(r.Context(), importID); err == nil {
		if b, err := core.MarshalResult(res); err == nil {
			data = b
		}
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

func terminal(p core.ImportPhase) bool {
	return p == core.PhaseComplete || p == core.PhaseFailed || p == core.PhaseCancelled
}

// handleImportResult waits for the import to finish and returns its result
// and summary.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	res, summary, err := s.service.ImportResult(r.Context(), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeResult(w, res, map[string]any{"summary": summary})
}

// handleCancelImport cancels an in-progress import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleImportHistory returns recent imports, newest first.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.ImportHistory(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, history)
}

// handleExport downloads the records entered in [from, to] as CSV. An
// empty period answers with the result message instead of a file. With
// archive=true the file goes to the archive instead.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.parsePeriod(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if archive, _ := strconv.ParseBool(r.URL.Query().Get("archive")); archive {
		s.archiveExport(w, r, start, end)
		return
	}

	var buf bytes.Buffer
	res := s.service.Export(r.Context(), identity(r), start, end, &buf)
	if _, ok := res.(core.Success); !ok || buf.Len() == 0 {
		writeResult(w, res, nil)
		return
	}

	filename := fmt.Sprintf("vehiculos_%s.csv", time.Now().In(s.service.Location()).Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	buf.WriteTo(w)
}

// handleArchiveExport writes the export to the configured archive instead
// of returning it.
func (s *Server) handleArchiveExport(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	start, end, err := s.periodFrom(req.From, req.To)
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.archiveExport(w, r, start, end)
}

func (s *Server) archiveExport(w http.ResponseWriter, r *http.Request, start, end time.Time) {
	if s.archive == nil {
		respondError(w, r, errNoArchive)
		return
	}

	res, err := s.service.ArchiveExport(r.Context(), identity(r), start, end, s.archive)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeResult(w, res, nil)
}
