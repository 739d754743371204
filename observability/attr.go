package observability

import (
	"encoding/hex"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
)

const (
	BlockIDKey attribute.Key = "block.id"
	PeerIDKey  attribute.Key = "peer.id"
	ModuleKey  attribute.Key = "module"
)

func Height(height uint64) attribute.KeyValue {
	return attribute.Int64("height", int64(height)) /* #nosec G115 height doesn't exceed int64 max value */
}

func BlockID(id []byte) attribute.KeyValue {
	return BlockIDKey.String(hex.EncodeToString(id))
}

func PeerID(id peer.ID) attribute.KeyValue {
	return PeerIDKey.String(id.String())
}

func Module(name string) attribute.KeyValue {
	return ModuleKey.String(name)
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return attribute.String("status", status)
}
