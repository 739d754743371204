package bft

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/types"
	"github.com/alphabill-org/blockengine/util"
)

type (
	Validator struct {
		_                 struct{}    `cbor:",toarray"`
		Address           types.Bytes `json:"address" yaml:"address"`
		GeneratorKey      types.Bytes `json:"generatorKey" yaml:"generatorKey"`
		BFTWeight         uint64      `json:"bftWeight,string" yaml:"bftWeight"`
		GeneratorEligible bool        `json:"generatorEligible" yaml:"generatorEligible"`
	}

	// Params is the validator set in effect starting from FromHeight. The
	// order of Validators is the order used by aggregation bits of the
	// aggregate commit.
	Params struct {
		_                    struct{}     `cbor:",toarray"`
		FromHeight           uint64       `json:"fromHeight,string" yaml:"fromHeight"`
		Validators           []*Validator `json:"validators" yaml:"validators"`
		CertificateThreshold uint64       `json:"certificateThreshold,string" yaml:"certificateThreshold"`
		InitRoundSeed        types.Bytes  `json:"initRoundSeed" yaml:"initRoundSeed"`
	}
)

// IsValid checks the internal consistency of the validator set.
func (p *Params) IsValid() error {
	if p == nil {
		return errors.New("params are nil")
	}
	if len(p.Validators) == 0 {
		return errors.New("validator list is empty")
	}
	seen := make(map[string]struct{}, len(p.Validators))
	eligible := 0
	for i, v := range p.Validators {
		if v == nil {
			return fmt.Errorf("validator %d is nil", i)
		}
		if len(v.Address) != crypto.AddressSize {
			return fmt.Errorf("validator %d: invalid address length %d", i, len(v.Address))
		}
		if _, ok := seen[string(v.Address)]; ok {
			return fmt.Errorf("duplicate validator address %X", v.Address)
		}
		seen[string(v.Address)] = struct{}{}
		if v.GeneratorEligible {
			if len(v.GeneratorKey) != crypto.CompressedSecp256K1PublicKeySize {
				return fmt.Errorf("validator %X: invalid generator key length %d", v.Address, len(v.GeneratorKey))
			}
			eligible++
		}
	}
	if eligible == 0 {
		return errors.New("no generator eligible validators")
	}
	total, err := p.TotalWeight()
	if err != nil {
		return err
	}
	if total == 0 {
		return errors.New("total BFT weight is zero")
	}
	if p.CertificateThreshold > total {
		return fmt.Errorf("certificate threshold %d exceeds total weight %d", p.CertificateThreshold, total)
	}
	return nil
}

// TotalWeight returns the sum of BFT weights of all the validators.
func (p *Params) TotalWeight() (uint64, error) {
	var total uint64
	for _, v := range p.Validators {
		sum, err := util.AddUint64(total, v.BFTWeight)
		if err != nil {
			return 0, fmt.Errorf("total BFT weight: %w", err)
		}
		total = sum
	}
	return total, nil
}

// Validator returns the validator with given address or nil.
func (p *Params) Validator(address []byte) *Validator {
	for _, v := range p.Validators {
		if bytes.Equal(v.Address, address) {
			return v
		}
	}
	return nil
}

// WeightOf returns BFT weight of the validator, zero for unknown address.
func (p *Params) WeightOf(address []byte) uint64 {
	if v := p.Validator(address); v != nil {
		return v.BFTWeight
	}
	return 0
}

/*
ValidatorsHash commits to the validator set the next block is generated
with: hash of the encoded validator list and certificate threshold.
*/
func ValidatorsHash(p *Params) ([]byte, error) {
	data, err := types.Cbor.Marshal([]any{p.Validators, p.CertificateThreshold})
	if err != nil {
		return nil, fmt.Errorf("encoding validators: %w", err)
	}
	return crypto.Hash(data), nil
}
