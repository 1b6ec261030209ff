package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/httputil"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

// StatusFor maps a business error code to an HTTP status
func StatusFor(code apperr.Code) int {
	if code == apperr.CodeInsufficientCredits {
		return http.StatusPaymentRequired
	}
	switch apperr.ClassOf(code) {
	case apperr.ClassValidation:
		return http.StatusBadRequest
	case apperr.ClassNotFound:
		return http.StatusNotFound
	case apperr.ClassAuthorization:
		return http.StatusForbidden
	case apperr.ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// prefersArabic reports whether Accept-Language ranks Arabic first
func prefersArabic(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Accept-Language"))
	if header == "" {
		return false
	}
	first := strings.SplitN(header, ",", 2)[0]
	first = strings.TrimSpace(strings.SplitN(first, ";", 2)[0])
	return strings.EqualFold(first, "ar") || strings.HasPrefix(strings.ToLower(first), "ar-")
}

// localize returns a copy of e with the Arabic text as the primary message
func localize(e *apperr.Error) *apperr.Error {
	out := *e
	out.Message, out.MessageLocalized = e.MessageLocalized, e.Message
	return &out
}

type errorWriter struct {
	logger *observability.Logger
}

func newErrorWriter(logger *observability.Logger) *errorWriter {
	return &errorWriter{logger: logger}
}

// write renders err. Business errors keep their code and fields; anything
// else is logged and hidden behind a 500.
func (ew *errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		ew.logger.WithError(err).WithFields(map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": observability.GetRequestID(r.Context()),
		}).Error("Request failed")
		httputil.WriteInternalError(w)
		return
	}

	if prefersArabic(r) {
		appErr = localize(appErr)
		w.Header().Set("Content-Language", "ar")
	}
	httputil.WriteJSON(w, StatusFor(appErr.Code), appErr)
}
