package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	testobserve "github.com/alphabill-org/blockengine/internal/testutils/observability"
	testsig "github.com/alphabill-org/blockengine/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/blockengine/internal/testutils/transaction"
	"github.com/alphabill-org/blockengine/txbuffer"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/validation"
)

func post(t *testing.T, h http.Handler, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(body))
	req.Header.Set(headerContentType, contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTxEndpoints(t *testing.T) {
	chainID := []byte{0, 0, 0, 1}
	key := testsig.NewKey(t)
	obs := testobserve.Default(t)
	buf, err := txbuffer.New(2, chainID, validation.DefaultLimits(), obs)
	require.NoError(t, err)
	h := NewRESTServer("", DefaultMaxBodySize, obs, nil, TxEndpoints(buf, obs.Logger())).Handler

	t.Run("JSON", func(t *testing.T) {
		tx := testtransaction.New(t, chainID, key)
		body, err := json.Marshal(tx)
		require.NoError(t, err)
		resp := decodeJSON[SubmitTxResponse](t, post(t, h, body, applicationJson), http.StatusAccepted)
		require.Equal(t, types.Bytes(tx.ID()), resp.TxID)

		e := decodeJSON[ErrorResponse](t, post(t, h, body, applicationJson), http.StatusConflict)
		require.Contains(t, e.Err, txbuffer.ErrTxInBuffer.Error())
	})

	t.Run("CBOR", func(t *testing.T) {
		tx := testtransaction.New(t, chainID, key, testtransaction.WithNonce(1))
		body, err := types.Cbor.Marshal(tx)
		require.NoError(t, err)
		resp := decodeJSON[SubmitTxResponse](t, post(t, h, body, applicationCBOR), http.StatusAccepted)
		require.Equal(t, types.Bytes(tx.ID()), resp.TxID)
		require.Equal(t, 2, buf.Len())
	})

	t.Run("buffer full", func(t *testing.T) {
		body, err := json.Marshal(testtransaction.New(t, chainID, key, testtransaction.WithNonce(2)))
		require.NoError(t, err)
		e := decodeJSON[ErrorResponse](t, post(t, h, body, applicationJson), http.StatusServiceUnavailable)
		require.Contains(t, e.Err, txbuffer.ErrTxBufferFull.Error())
	})

	t.Run("invalid transaction", func(t *testing.T) {
		tx := testtransaction.New(t, []byte{9}, key, testtransaction.WithNonce(3))
		body, err := json.Marshal(tx)
		require.NoError(t, err)
		e := decodeJSON[ErrorResponse](t, post(t, h, body, applicationJson), http.StatusBadRequest)
		require.Contains(t, e.Err, txbuffer.ErrInvalidTx.Error())

		e = decodeJSON[ErrorResponse](t, post(t, h, []byte("{"), applicationJson), http.StatusBadRequest)
		require.Contains(t, e.Err, "decoding transaction")
	})

}
