package bft

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/blockengine/types"
)

var ErrInvalidAggregationBits = errors.New("invalid aggregation bits")

/*
InsufficientWeightError is returned when the validators who signed the
aggregate commit do not hold enough BFT weight. The certificate must be
ignored, the error is never fatal.
*/
type InsufficientWeightError struct {
	Height   uint64
	Weight   uint64
	Required uint64
	Total    uint64
}

func (e *InsufficientWeightError) Error() string {
	return fmt.Sprintf("aggregate commit for height %d: signers weight %d, required more than %d of total %d",
		e.Height, e.Weight, e.Required, e.Total)
}

// CommitVerifier checks the certificate signature of the aggregate commit.
type CommitVerifier interface {
	VerifyAggregateCommit(params *Params, commit *types.AggregateCommit) error
}

type CommitVerifierFunc func(params *Params, commit *types.AggregateCommit) error

func (f CommitVerifierFunc) VerifyAggregateCommit(params *Params, commit *types.AggregateCommit) error {
	return f(params, commit)
}

// supermajority returns true when weight*3 > total*2.
func supermajority(weight, total uint64) bool {
	w := new(uint256.Int).Mul(uint256.NewInt(weight), uint256.NewInt(3))
	t := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(2))
	return w.Gt(t)
}

/*
IsFinalityCandidate walks the window down from the height over contiguous
heights, counting the weight of every distinct generator once. The height
is a candidate as soon as the counted weight exceeds 2/3 of the total
weight of params.
*/
func IsFinalityCandidate(params *Params, window *Window, height uint64) (bool, error) {
	total, err := params.TotalWeight()
	if err != nil {
		return false, err
	}
	idx := window.index(height)
	if idx < 0 {
		return false, nil
	}
	seen := make(map[string]struct{})
	var sum uint64
	for i := idx; i >= 0; i-- {
		e := window.Entries[i]
		if i < idx && e.Height+1 != window.Entries[i+1].Height {
			break
		}
		if _, ok := seen[string(e.Generator)]; ok {
			continue
		}
		seen[string(e.Generator)] = struct{}{}
		sum += params.WeightOf(e.Generator)
		if supermajority(sum, total) {
			return true, nil
		}
	}
	return false, nil
}

// SignersWeight returns the summed BFT weight of validators whose bit is set in bits.
func SignersWeight(params *Params, bits []byte) (uint64, error) {
	if len(bits) != (len(params.Validators)+7)/8 {
		return 0, fmt.Errorf("%w: expected %d bytes for %d validators, got %d",
			ErrInvalidAggregationBits, (len(params.Validators)+7)/8, len(params.Validators), len(bits))
	}
	var weight uint64
	for i, v := range params.Validators {
		if bits[i/8]&(1<<(7-i%8)) != 0 {
			weight += v.BFTWeight
		}
	}
	// bits past the validator list must be zero
	for i := len(params.Validators); i < len(bits)*8; i++ {
		if bits[i/8]&(1<<(7-i%8)) != 0 {
			return 0, fmt.Errorf("%w: bit %d set but there are %d validators", ErrInvalidAggregationBits, i, len(params.Validators))
		}
	}
	return weight, nil
}

/*
VerifyAggregateCommit checks that the signers of the commit hold more than
2/3 of the total weight (and at least CertificateThreshold when it is set).
The certificate signature is checked by verifier when it is not nil.
*/
func VerifyAggregateCommit(params *Params, commit *types.AggregateCommit, verifier CommitVerifier) error {
	if commit == nil || commit.IsEmpty() {
		return nil
	}
	total, err := params.TotalWeight()
	if err != nil {
		return err
	}
	weight, err := SignersWeight(params, commit.AggregationBits)
	if err != nil {
		return err
	}
	if !supermajority(weight, total) || weight < params.CertificateThreshold {
		return &InsufficientWeightError{Height: commit.Height, Weight: weight, Required: max(total*2/3, params.CertificateThreshold), Total: total}
	}
	if verifier != nil {
		if err := verifier.VerifyAggregateCommit(params, commit); err != nil {
			return fmt.Errorf("verifying certificate signature: %w", err)
		}
	}
	return nil
}

// NextFinalizedHeight returns the new finalized height, finality never retreats.
func NextFinalizedHeight(current, candidate uint64) uint64 {
	return max(current, candidate)
}

// SetAggregationBit marks validator with given index as a signer.
func SetAggregationBit(bits []byte, index int) {
	bits[index/8] |= 1 << (7 - index%8)
}
