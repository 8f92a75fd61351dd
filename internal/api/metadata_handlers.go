package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/metadata"
)

type urlRequest struct {
	URL string `json:"url"`
}

type acceptedResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// createMetadata handles POST /v1/metadata: collect synchronously, respond
// with the stored record. Upstream failures are distinguishable from server
// errors via 502.
func (s *Server) createMetadata(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	record, err := s.service.CreateOrRefresh(r.Context(), req.URL)
	if err != nil {
		s.respondCollectionError(w, req.URL, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// getMetadata handles GET /v1/metadata?url=: return the cached record on a
// hit; on a miss acknowledge with 202 while collection proceeds in the
// background. The response shape is identical whether or not this request
// was the one that scheduled the job.
func (s *Server) getMetadata(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if err := validateURL(rawURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, hit, err := s.service.Resolve(r.Context(), rawURL)
	if err != nil {
		s.logger.Error("resolve failed", zap.String("url", rawURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to look up metadata")
		return
	}
	if hit {
		writeJSON(w, http.StatusOK, record)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{
		Message: "Request accepted. Metadata is being collected in the background.",
		URL:     rawURL,
	})
}

func (s *Server) respondCollectionError(w http.ResponseWriter, url string, err error) {
	var statusErr *metadata.UpstreamStatusError
	if errors.As(err, &statusErr) {
		s.logger.Warn("upstream returned error status",
			zap.String("url", url),
			zap.Int("status", statusErr.StatusCode),
		)
		writeError(w, http.StatusBadGateway, statusErr.Error())
		return
	}
	var fetchErr *metadata.FetchError
	if errors.As(err, &fetchErr) {
		s.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not reach the target URL")
		return
	}
	s.logger.Error("collection failed", zap.String("url", url), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to store metadata")
}
