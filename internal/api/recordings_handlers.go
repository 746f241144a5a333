package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"guacplayer/internal/observability/metrics"
	"guacplayer/internal/recordings"
)

const videoContentType = "video/mp4"

type recordingFileResponse struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

type recordingInfo struct {
	UUID      string                  `json:"uuid"`
	Path      string                  `json:"path"`
	VideoFile *string                 `json:"video_file"`
	Files     []recordingFileResponse `json:"files"`
	SizeBytes int64                   `json:"size_bytes"`
	CreatedAt float64                 `json:"created_at"`
	Metadata  map[string]any          `json:"metadata"`
}

type recordingInfoResponse struct {
	Success bool          `json:"success"`
	Data    recordingInfo `json:"data"`
}

type recordingFilesResponse struct {
	Success bool                    `json:"success"`
	UUID    string                  `json:"uuid"`
	Files   []recordingFileResponse `json:"files"`
}

// unixSeconds renders a timestamp as fractional seconds since the epoch.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func newFileResponses(files []recordings.FileDescriptor) []recordingFileResponse {
	out := make([]recordingFileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, recordingFileResponse{Name: f.Name, Path: f.Path, Size: f.Size, Modified: unixSeconds(f.Modified)})
	}
	return out
}

func recordingID(r *http.Request) string {
	return chi.URLParam(r, "uuid")
}

func (h *Handler) RecordingInfo(w http.ResponseWriter, r *http.Request) {
	id := recordingID(r)
	info, found, err := h.Recordings.Info(r.Context(), id)
	if err != nil {
		h.logger(r).Error("load recording info", "recording_id", id, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	if !found {
		WriteRequestError(w, NotFoundError("recording not found"))
		return
	}
	data := recordingInfo{
		UUID:      info.ID,
		Path:      info.Path,
		Files:     newFileResponses(info.Files),
		SizeBytes: info.SizeBytes,
		CreatedAt: unixSeconds(info.CreatedAt),
		Metadata:  info.Metadata,
	}
	if info.VideoFile != "" {
		video := info.VideoFile
		data.VideoFile = &video
	}
	writeJSON(w, http.StatusOK, recordingInfoResponse{Success: true, Data: data})
}

func (h *Handler) RecordingFiles(w http.ResponseWriter, r *http.Request) {
	id := recordingID(r)
	if !h.recordingExists(w, r, id) {
		return
	}
	files, err := h.Recordings.ListFiles(r.Context(), id)
	if err != nil {
		h.logger(r).Error("list recording files", "recording_id", id, "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	writeJSON(w, http.StatusOK, recordingFilesResponse{Success: true, UUID: id, Files: newFileResponses(files)})
}

// RecordingStream serves the primary video inline with Range support.
func (h *Handler) RecordingStream(w http.ResponseWriter, r *http.Request) {
	h.serveRecording(w, r, "stream", "inline", "")
}

// RecordingDownload serves the primary video as an attachment named
// {uuid}.mp4.
func (h *Handler) RecordingDownload(w http.ResponseWriter, r *http.Request) {
	id := recordingID(r)
	h.serveRecording(w, r, "download", "attachment", id+".mp4")
}

func (h *Handler) recordingExists(w http.ResponseWriter, r *http.Request, id string) bool {
	_, found, err := h.Recordings.Resolve(id)
	if err != nil {
		h.logger(r).Error("resolve recording", "recording_id", id, "error", err)
		WriteRequestError(w, InternalError())
		return false
	}
	if !found {
		WriteRequestError(w, NotFoundError("recording not found"))
		return false
	}
	return true
}

func (h *Handler) serveRecording(w http.ResponseWriter, r *http.Request, mode, disposition, filename string) {
	id := recordingID(r)
	logger := h.logger(r).With("recording_id", id, "mode", mode)
	if !h.recordingExists(w, r, id) {
		h.Metrics.ObserveRecordingDelivery(mode, "not_found", 0)
		return
	}
	asset, found, err := h.Recordings.Open(r.Context(), id)
	if err != nil {
		h.Metrics.ObserveRecordingDelivery(mode, "error", 0)
		logger.Error("open recording video", "error", err)
		WriteRequestError(w, InternalError())
		return
	}
	if !found {
		h.Metrics.ObserveRecordingDelivery(mode, "not_found", 0)
		WriteRequestError(w, NotFoundError("video file not found"))
		return
	}
	defer asset.Close()

	params := map[string]string(nil)
	if filename != "" {
		params = map[string]string{"filename": filename}
	}
	w.Header().Set("Content-Type", videoContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, params))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	recorder := metrics.NewResponseRecorder(w)
	http.ServeContent(recorder, r, asset.Name, asset.ModTime, asset)

	written := recorder.BytesWritten()
	switch ctxErr := r.Context().Err(); {
	case errors.Is(ctxErr, context.Canceled) || errors.Is(ctxErr, context.DeadlineExceeded):
		h.Metrics.ObserveRecordingDelivery(mode, "aborted", written)
		logger.Debug("client ended recording transfer early", "bytes", written)
	case recorder.Status() >= http.StatusBadRequest:
		h.Metrics.ObserveRecordingDelivery(mode, "rejected", written)
		logger.Info("recording request rejected", "status", recorder.Status())
	default:
		h.Metrics.ObserveRecordingDelivery(mode, "complete", written)
		logger.Debug("recording delivered", "status", recorder.Status(), "bytes", written)
	}
}
