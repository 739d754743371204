package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alphabill-org/blockengine/logger"
	"github.com/alphabill-org/blockengine/types"
)

// ErrorResponse is the body of the non-2xx responses.
type ErrorResponse struct {
	_   struct{} `cbor:",toarray"`
	Err string   `json:"error"`
}

func acceptsCBOR(r *http.Request) bool {
	return strings.Contains(r.Header.Get(headerAccept), applicationCBOR)
}

// writeResponse replies to the request with the response encoded as CBOR or JSON, depending on the Accept header.
func writeResponse(w http.ResponseWriter, r *http.Request, response any, statusCode int, log *slog.Logger) {
	if acceptsCBOR(r) {
		w.Header().Set(headerContentType, applicationCBOR)
		w.WriteHeader(statusCode)
		if err := types.Cbor.Encode(w, response); err != nil {
			log.WarnContext(r.Context(), "failed to write CBOR response", logger.Error(err))
		}
		return
	}
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WarnContext(r.Context(), "failed to write JSON response", logger.Error(err))
	}
}

/*
writeError replies to the request with the error message and HTTP code.
It does not otherwise end the request; the caller should ensure no further
writes are done to w.
*/
func writeError(w http.ResponseWriter, r *http.Request, e error, code int, log *slog.Logger) {
	if code >= http.StatusInternalServerError {
		log.WarnContext(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), logger.Error(e))
	}
	writeResponse(w, r, &ErrorResponse{Err: e.Error()}, code, log)
}
