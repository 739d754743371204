package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/chain"
	"github.com/alphabill-org/blockengine/network"
	"github.com/alphabill-org/blockengine/node"
	"github.com/alphabill-org/blockengine/tree/mt"
	"github.com/alphabill-org/blockengine/types"
)

const (
	pathStatus      = "/status"
	pathBlocks      = "/blocks"
	pathLatestBlock = "/blocks/latest"
	pathBlock       = "/blocks/{height:[0-9]+}"
	pathBlockByID   = "/blocks/id/{id}"
	pathEvents      = "/blocks/{height:[0-9]+}/events"
	pathTxProof     = "/blocks/{height:[0-9]+}/transactions/{index:[0-9]+}/proof"
	pathValidators  = "/validators"
	pathAccount     = "/accounts/{address}"
	pathStateProof  = "/state/{key}/proof"
)

type (
	// chainNode is the read-only view of the node the endpoints are served from.
	chainNode interface {
		Status() (*node.Status, error)
		Chain() *chain.Chain
		Account(address []byte) (*node.Account, error)
		Validators(height uint64) (*bft.Params, error)
		StateProof(key []byte) (*node.StateProof, error)
	}

	Options struct {
		serveLimits network.ServeLimits
	}

	Option func(*Options)
)

func defaultOptions() *Options {
	return &Options{
		serveLimits: network.DefaultServeLimits(),
	}
}

// WithServeLimits sets the limits of the block range query.
func WithServeLimits(limits network.ServeLimits) Option {
	return func(o *Options) {
		o.serveLimits = limits
	}
}

/*
ChainEndpoints registers the read-only chain query endpoints. Responses are
JSON encoded unless the client accepts "application/cbor".
*/
func ChainEndpoints(nd chainNode, log *slog.Logger, opts ...Option) RegistrarFunc {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return func(r *mux.Router) {
		r.HandleFunc(pathStatus, getStatus(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathLatestBlock, getLatestBlock(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathEvents, getEvents(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathTxProof, getTxProof(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathBlock, getBlockByHeight(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathBlockByID, getBlockByID(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathBlocks, getBlocks(nd, o.serveLimits, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathValidators, getValidators(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathAccount, getAccount(nd, log)).Methods(http.MethodGet, http.MethodOptions)
		r.HandleFunc(pathStateProof, getStateProof(nd, log)).Methods(http.MethodGet, http.MethodOptions)
	}
}

func getStatus(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := nd.Status()
		if err != nil {
			writeError(w, r, err, http.StatusInternalServerError, log)
			return
		}
		writeResponse(w, r, status, http.StatusOK, log)
	}
}

func getLatestBlock(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := nd.Chain().LastBlock()
		if b == nil {
			writeError(w, r, chain.ErrNotInitialized, http.StatusServiceUnavailable, log)
			return
		}
		writeResponse(w, r, b, http.StatusOK, log)
	}
}

func getBlockByHeight(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := heightVar(r)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		b, err := nd.Chain().GetBlockByHeight(height)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		writeResponse(w, r, b, http.StatusOK, log)
	}
}

func getBlockByID(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := hexVar(r, "id")
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		b, err := nd.Chain().GetBlockByID(id)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		writeResponse(w, r, b, http.StatusOK, log)
	}
}

/*
getBlocks serves a range of blocks: "from" (default 0) is the first height,
"limit" (default 1) the maximum number of blocks and "descending" the
direction. The response is cut at the serve limits.
*/
func getBlocks(nd chainNode, limits network.ServeLimits, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := network.BlocksRequest{Limit: 1}
		q := r.URL.Query()
		var err error
		if v := q.Get("from"); v != "" {
			if req.FromHeight, err = strconv.ParseUint(v, 10, 64); err != nil {
				writeError(w, r, fmt.Errorf("invalid 'from' parameter: %w", err), http.StatusBadRequest, log)
				return
			}
		}
		if v := q.Get("limit"); v != "" {
			if req.Limit, err = strconv.Atoi(v); err != nil {
				writeError(w, r, fmt.Errorf("invalid 'limit' parameter: %w", err), http.StatusBadRequest, log)
				return
			}
		}
		if v := q.Get("descending"); v != "" {
			if req.Descending, err = strconv.ParseBool(v); err != nil {
				writeError(w, r, fmt.Errorf("invalid 'descending' parameter: %w", err), http.StatusBadRequest, log)
				return
			}
		}
		blocks, err := network.ServeBlocks(nd.Chain(), req, limits)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		writeResponse(w, r, blocks, http.StatusOK, log)
	}
}

func getEvents(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := heightVar(r)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		events, err := nd.Chain().GetEvents(height)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		writeResponse(w, r, events, http.StatusOK, log)
	}
}

func getTxProof(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height, err := heightVar(r)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		idx, err := strconv.Atoi(mux.Vars(r)["index"])
		if err != nil {
			writeError(w, r, fmt.Errorf("invalid transaction index: %w", err), http.StatusBadRequest, log)
			return
		}
		b, err := nd.Chain().GetBlockByHeight(height)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		proof, err := b.TransactionProof(idx)
		if err != nil {
			writeError(w, r, err, errorStatus(err), log)
			return
		}
		writeResponse(w, r, proof, http.StatusOK, log)
	}
}

// getValidators returns the validator params in effect at "height", the next block by default.
func getValidators(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		height := nd.Chain().Height() + 1
		if v := r.URL.Query().Get("height"); v != "" {
			var err error
			if height, err = strconv.ParseUint(v, 10, 64); err != nil {
				writeError(w, r, fmt.Errorf("invalid 'height' parameter: %w", err), http.StatusBadRequest, log)
				return
			}
		}
		params, err := nd.Validators(height)
		if err != nil {
			writeError(w, r, err, http.StatusNotFound, log)
			return
		}
		writeResponse(w, r, params, http.StatusOK, log)
	}
}

func getAccount(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address, err := hexVar(r, "address")
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		acc, err := nd.Account(address)
		if err != nil {
			writeError(w, r, err, http.StatusInternalServerError, log)
			return
		}
		writeResponse(w, r, acc, http.StatusOK, log)
	}
}

func getStateProof(nd chainNode, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := hexVar(r, "key")
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest, log)
			return
		}
		proof, err := nd.StateProof(key)
		if err != nil {
			writeError(w, r, err, http.StatusInternalServerError, log)
			return
		}
		writeResponse(w, r, proof, http.StatusOK, log)
	}
}

func heightVar(r *http.Request) (uint64, error) {
	v := mux.Vars(r)["height"]
	height, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", v, err)
	}
	return height, nil
}

// hexVar decodes path variable, "0x" prefix is optional.
func hexVar(r *http.Request, name string) (types.Bytes, error) {
	v := mux.Vars(r)[name]
	b, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return b, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, chain.ErrBlockNotFound), errors.Is(err, network.ErrBlocksNotFound), errors.Is(err, mt.ErrIndexOutOfBounds):
		return http.StatusNotFound
	case errors.Is(err, network.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
