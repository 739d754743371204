package validation

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/types"
)

const (
	DefaultMaxTransactionsPerBlock = 1024
	DefaultMaxParamsSize           = 14 * 1024
	DefaultMaxAssetDataSize        = 64 * 1024
	MaxNameLength                  = 32
	BlockVersion                   = 2
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Limits are the consensus constants of the structural validation.
type Limits struct {
	MaxTransactionsPerBlock int
	MaxParamsSize           int
	MaxAssetDataSize        int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTransactionsPerBlock: DefaultMaxTransactionsPerBlock,
		MaxParamsSize:           DefaultMaxParamsSize,
		MaxAssetDataSize:        DefaultMaxAssetDataSize,
	}
}

// ValidateTransactionSchema checks the transaction with default limits.
func ValidateTransactionSchema(tx *types.Transaction) error {
	return DefaultLimits().ValidateTransactionSchema(tx)
}

// ValidateBlockSchema checks the block with default limits.
func ValidateBlockSchema(block *types.Block) error {
	return DefaultLimits().ValidateBlockSchema(block)
}

func (l Limits) ValidateTransactionSchema(tx *types.Transaction) error {
	v := &violations{}
	l.validateTransaction(v, "", tx)
	return v.err()
}

func (l Limits) validateTransaction(v *violations, path string, tx *types.Transaction) {
	if tx == nil {
		v.add(path, "transaction is nil")
		return
	}
	checkName(v, path+"module", tx.Module)
	checkName(v, path+"command", tx.Command)
	v.checkLen(path+"senderPublicKey", tx.SenderPublicKey, crypto.CompressedSecp256K1PublicKeySize)
	if len(tx.Params) > l.MaxParamsSize {
		v.add(path+"params", "size %d exceeds maximum %d", len(tx.Params), l.MaxParamsSize)
	}
	if len(tx.Signatures) != 1 {
		v.add(path+"signatures", "expected exactly one signature, got %d", len(tx.Signatures))
	}
	for i, sig := range tx.Signatures {
		v.checkLen(fmt.Sprintf("%ssignatures[%d]", path, i), sig, crypto.SignatureSize)
	}
}

/*
ValidateBlockSchema checks everything about the block which doesn't depend
on the chain state: field lengths, limits, asset ordering and that the
transaction and assets roots match the content of the block.
*/
func (l Limits) ValidateBlockSchema(block *types.Block) error {
	v := &violations{}
	if block == nil {
		v.add("", "block is nil")
		return v.err()
	}
	h := block.Header
	if h == nil {
		v.add("header", "header is nil")
		return v.err()
	}
	genesis := h.Height == 0
	if h.Version != BlockVersion {
		v.add("header.version", "unsupported version %d", h.Version)
	}
	v.checkLen("header.previousBlockID", h.PreviousBlockID, crypto.HashSize)
	v.checkLen("header.transactionRoot", h.TransactionRoot, crypto.HashSize)
	v.checkLen("header.stateRoot", h.StateRoot, crypto.HashSize)
	v.checkLen("header.assetsRoot", h.AssetsRoot, crypto.HashSize)
	v.checkLen("header.validatorsHash", h.ValidatorsHash, crypto.HashSize)
	if genesis {
		if len(h.GeneratorAddress) != 0 {
			v.add("header.generatorAddress", "genesis block must not have generator")
		}
		if len(h.Signature) != 0 {
			v.add("header.signature", "genesis block must not be signed")
		}
		if len(block.Transactions) != 0 {
			v.add("transactions", "genesis block must not have transactions")
		}
	} else {
		v.checkLen("header.generatorAddress", h.GeneratorAddress, crypto.AddressSize)
		v.checkLen("header.signature", h.Signature, crypto.SignatureSize)
	}
	if c := h.AggregateCommit; c != nil && !c.IsEmpty() {
		if c.Height >= h.Height {
			v.add("header.aggregateCommit.height", "certified height %d is not below block height %d", c.Height, h.Height)
		}
		if len(c.CertificateSignature) == 0 {
			v.add("header.aggregateCommit.certificateSignature", "missing certificate signature")
		}
	}

	if len(block.Transactions) > l.MaxTransactionsPerBlock {
		v.add("transactions", "number of transactions %d exceeds maximum %d", len(block.Transactions), l.MaxTransactionsPerBlock)
	}
	txValid := true
	for i, tx := range block.Transactions {
		n := len(v.list)
		l.validateTransaction(v, fmt.Sprintf("transactions[%d].", i), tx)
		txValid = txValid && n == len(v.list)
	}

	assetsValid := true
	for i, a := range block.Assets {
		path := fmt.Sprintf("assets[%d]", i)
		if a == nil {
			v.add(path, "asset is nil")
			assetsValid = false
			continue
		}
		checkName(v, path+".module", a.Module)
		if len(a.Data) > l.MaxAssetDataSize {
			v.add(path+".data", "size %d exceeds maximum %d", len(a.Data), l.MaxAssetDataSize)
		}
		if i > 0 && block.Assets[i-1] != nil && a.Module <= block.Assets[i-1].Module {
			v.add(path+".module", "assets must be sorted by module name without duplicates")
		}
	}

	// roots can only be calculated over well formed content
	if txValid && !bytes.Equal(h.TransactionRoot, block.CalculateTransactionRoot()) {
		v.add("header.transactionRoot", "does not match block transactions")
	}
	if assetsValid && !bytes.Equal(h.AssetsRoot, block.CalculateAssetsRoot()) {
		v.add("header.assetsRoot", "does not match block assets")
	}
	return v.err()
}

func checkName(v *violations, path, name string) {
	switch {
	case name == "":
		v.add(path, "must not be empty")
	case len(name) > MaxNameLength:
		v.add(path, "length %d exceeds maximum %d", len(name), MaxNameLength)
	case !nameRegex.MatchString(name):
		v.add(path, "must be alphanumeric")
	}
}
