package httpadapter

import (
	"net/http"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnsupportedType):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrUnknownTool):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrPipelineNotFound),
		domain.IsKind(err, domain.ErrSegmentNotFound),
		domain.IsKind(err, domain.ErrAgentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
