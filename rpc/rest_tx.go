package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/blockengine/txbuffer"
	"github.com/alphabill-org/blockengine/types"
)

const pathTransactions = "/transactions"

type (
	txBuffer interface {
		Add(ctx context.Context, tx *types.Transaction) ([]byte, error)
	}

	// SubmitTxResponse is returned when the transaction was accepted into the buffer.
	SubmitTxResponse struct {
		_    struct{}    `cbor:",toarray"`
		TxID types.Bytes `json:"txId"`
	}
)

/*
TxEndpoints registers the transaction submit endpoint. The request body is
the transaction, CBOR encoded when the Content-Type is "application/cbor" and
JSON otherwise.
*/
func TxEndpoints(buf txBuffer, log *slog.Logger) RegistrarFunc {
	return func(r *mux.Router) {
		r.HandleFunc(pathTransactions, postTransaction(buf, log)).Methods(http.MethodPost, http.MethodOptions)
	}
}

func postTransaction(buf txBuffer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx := &types.Transaction{}
		var err error
		if strings.Contains(r.Header.Get(headerContentType), applicationCBOR) {
			err = types.Cbor.GetDecoder(r.Body).Decode(tx)
		} else {
			err = json.NewDecoder(r.Body).Decode(tx)
		}
		if err != nil {
			writeError(w, r, fmt.Errorf("decoding transaction: %w", err), http.StatusBadRequest, log)
			return
		}

		txID, err := buf.Add(r.Context(), tx)
		if err != nil {
			writeError(w, r, err, txErrorStatus(err), log)
			return
		}
		writeResponse(w, r, &SubmitTxResponse{TxID: txID}, http.StatusAccepted, log)
	}
}

func txErrorStatus(err error) int {
	switch {
	case errors.Is(err, txbuffer.ErrTxInBuffer):
		return http.StatusConflict
	case errors.Is(err, txbuffer.ErrTxBufferFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, txbuffer.ErrInvalidTx), errors.Is(err, txbuffer.ErrTxIsNil):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
