package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/sqlite"
)

// Error codes surfaced in response envelopes.
const (
	codeValidation = "VALIDATION_ERROR"
	codeRuleFound  = "RULE_NOT_FOUND"
	codeNotFound   = "NOT_FOUND"
	codeInternal   = "INTERNAL_ERROR"
)

// writeDoc writes the response document with request_id and success stamped
// in. payload keys ride at the top level of the envelope.
func writeDoc(w http.ResponseWriter, status int, requestID string, payload map[string]any) {
	doc := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		doc[k] = v
	}
	doc["request_id"] = requestID
	if _, ok := doc["success"]; !ok {
		doc["success"] = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		log.Printf("[api_gateway] encode response: %v", err)
	}
}

// writeError maps an error to its envelope. Validation errors become 400,
// missing rows 404, everything else 500 with the detail kept out of the body.
func writeError(w http.ResponseWriter, requestID string, err error) {
	var ve *query.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErrorCode(w, http.StatusBadRequest, requestID, codeValidation, ve.Error())
	case errors.Is(err, sqlite.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, requestID, codeRuleFound, "rule not found")
	default:
		log.Printf("[api_gateway] internal error (request %s): %v", requestID, err)
		writeErrorCode(w, http.StatusInternalServerError, requestID, codeInternal, "internal error")
	}
}

func writeErrorCode(w http.ResponseWriter, status int, requestID, code, message string) {
	writeDoc(w, status, requestID, map[string]any{
		"success":    false,
		"error_code": code,
		"message":    message,
	})
}

// requestIDFrom picks up the caller's request id when it has the expected
// shape, otherwise mints a fresh one.
func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); logger.ValidRequestID(id) {
		return id
	}
	return logger.NewRequestID(timeNow())
}

// decodeBody decodes a JSON request body into dst, mapping failures to
// validation errors.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return query.Validationf("malformed request body: %v", err)
	}
	return nil
}
