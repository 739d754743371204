package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/tree/mt"
)

var (
	errBlockIsNil       = errors.New("block is nil")
	errBlockHeaderIsNil = errors.New("block header is nil")
)

type (
	Block struct {
		_            struct{}       `cbor:",toarray"`
		Header       *BlockHeader   `json:"header"`
		Transactions []*Transaction `json:"transactions"`
		Assets       []*Asset       `json:"assets"`
	}

	BlockHeader struct {
		_                struct{}         `cbor:",toarray"`
		Version          uint32           `json:"version"`
		Height           uint64           `json:"height,string"`
		Timestamp        uint64           `json:"timestamp,string"`
		PreviousBlockID  Bytes            `json:"previousBlockID"`
		GeneratorAddress Bytes            `json:"generatorAddress"`
		TransactionRoot  Bytes            `json:"transactionRoot"`
		StateRoot        Bytes            `json:"stateRoot"`
		AssetsRoot       Bytes            `json:"assetsRoot"`
		ValidatorsHash   Bytes            `json:"validatorsHash"`
		AggregateCommit  *AggregateCommit `json:"aggregateCommit"`
		Signature        Bytes            `json:"signature"`
	}

	// Asset is module specific data attached to the block by the generator.
	Asset struct {
		_      struct{} `cbor:",toarray"`
		Module string   `json:"module"`
		Data   Bytes    `json:"data"`
	}

	// AggregateCommit certifies that validators holding the weight marked in
	// AggregationBits attest Height. Bit i of AggregationBits refers to i-th
	// validator of the validator list in effect at Height.
	AggregateCommit struct {
		_                    struct{} `cbor:",toarray"`
		Height               uint64   `json:"height,string"`
		AggregationBits      Bytes    `json:"aggregationBits"`
		CertificateSignature Bytes    `json:"certificateSignature"`
	}
)

// ID returns block ID, ie hash of the block header.
func (b *Block) ID() []byte {
	if b == nil || b.Header == nil {
		return nil
	}
	return b.Header.ID()
}

func (b *Block) Height() uint64 {
	if b == nil || b.Header == nil {
		return 0
	}
	return b.Header.Height
}

func (b *Block) IsValid() error {
	if b == nil {
		return errBlockIsNil
	}
	if b.Header == nil {
		return errBlockHeaderIsNil
	}
	return nil
}

// CalculateTransactionRoot returns merkle root over IDs of the block transactions.
func (b *Block) CalculateTransactionRoot() []byte {
	return merkleRoot(b.transactionLeaves())
}

// CalculateAssetsRoot returns merkle root over the encoded assets.
func (b *Block) CalculateAssetsRoot() []byte {
	leaves := make([][]byte, len(b.Assets))
	for i, a := range b.Assets {
		leaves[i] = a.Hash()
	}
	return merkleRoot(leaves)
}

func (b *Block) transactionLeaves() [][]byte {
	leaves := make([][]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.ID()
	}
	return leaves
}

/*
TransactionProof returns the inclusion proof of the transaction at index idx,
the proof is bound to the block by the header's transaction root.
*/
func (b *Block) TransactionProof(idx int) (*TxProof, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}
	path, err := mt.Path(b.transactionLeaves(), idx)
	if err != nil {
		return nil, err
	}
	return &TxProof{
		BlockID: b.ID(),
		Height:  b.Height(),
		TxID:    b.Transactions[idx].ID(),
		Root:    b.Header.TransactionRoot,
		Path:    path,
	}, nil
}

// GetAsset returns asset of the module or nil when the block has none.
func (b *Block) GetAsset(module string) *Asset {
	for _, a := range b.Assets {
		if a.Module == module {
			return a
		}
	}
	return nil
}

func (b *Block) Bytes() ([]byte, error) {
	return Cbor.Marshal(b)
}

// DecodeBlock decodes block from its canonical encoding.
func DecodeBlock(data []byte) (*Block, error) {
	b := &Block{}
	if err := Cbor.DecodeCanonical(data, b); err != nil {
		return nil, fmt.Errorf("decoding block: %w", err)
	}
	return b, nil
}

// ID is the hash of the encoded header with signature excluded.
func (h *BlockHeader) ID() []byte {
	unsigned := *h
	unsigned.Signature = nil
	return crypto.Hash(mustEncode(&unsigned))
}

// SigningBytes returns chain ID followed by the encoding of the header without signature.
func (h *BlockHeader) SigningBytes(chainID []byte) []byte {
	unsigned := *h
	unsigned.Signature = nil
	b := mustEncode(&unsigned)
	return append(append(make([]byte, 0, len(chainID)+len(b)), chainID...), b...)
}

// Sign signs the header with given signer.
func (h *BlockHeader) Sign(chainID []byte, signer crypto.Signer) error {
	sig, err := signer.SignBytes(h.SigningBytes(chainID))
	if err != nil {
		return fmt.Errorf("signing block header: %w", err)
	}
	h.Signature = sig
	return nil
}

// Hash is the leaf value of the asset in the assets root.
func (a *Asset) Hash() []byte {
	return crypto.Hash(mustEncode(a))
}

// IsEmpty returns true when the commit does not certify anything.
func (c *AggregateCommit) IsEmpty() bool {
	return c == nil || (c.Height == 0 && len(c.AggregationBits) == 0 && len(c.CertificateSignature) == 0)
}

// EmptyHash is the root of an empty list.
var EmptyHash = crypto.Hash(nil)

func merkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return EmptyHash
	}
	return mt.Root(leaves)
}

// TxProof proves that the transaction is included into the block.
type TxProof struct {
	_       struct{}       `cbor:",toarray"`
	BlockID Bytes          `json:"blockId"`
	Height  uint64         `json:"height,string"`
	TxID    Bytes          `json:"txId"`
	Root    Bytes          `json:"transactionRoot"`
	Path    []*mt.PathItem `json:"path"`
}

// Verify checks that the path leads from the transaction ID to the transaction root.
func (p *TxProof) Verify() error {
	if p == nil {
		return errors.New("proof is nil")
	}
	if !bytes.Equal(mt.RootFromPath(p.TxID, p.Path), p.Root) {
		return fmt.Errorf("transaction %X is not included into block %X", []byte(p.TxID), []byte(p.BlockID))
	}
	return nil
}
