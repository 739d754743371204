package bft

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/blockengine/types"
)

func addr(b byte) []byte {
	return bytes.Repeat([]byte{b}, 20)
}

func testParams(weights ...uint64) *Params {
	p := &Params{FromHeight: 1, InitRoundSeed: []byte("seed")}
	for i, w := range weights {
		p.Validators = append(p.Validators, &Validator{
			Address:           addr(byte(i + 1)),
			GeneratorKey:      append([]byte{2}, bytes.Repeat([]byte{byte(i + 1)}, 32)...),
			BFTWeight:         w,
			GeneratorEligible: true,
		})
	}
	return p
}

func testWindow(t *testing.T, generators ...byte) *Window {
	w := &Window{}
	for i, g := range generators {
		require.NoError(t, w.Add(uint64(i+1), addr(g), 100))
	}
	return w
}

func TestParams_IsValid(t *testing.T) {
	require.NoError(t, testParams(1, 1, 1).IsValid())

	var p *Params
	require.EqualError(t, p.IsValid(), "params are nil")
	require.EqualError(t, (&Params{}).IsValid(), "validator list is empty")

	p = testParams(1, 1)
	p.Validators[1].Address = p.Validators[0].Address
	require.ErrorContains(t, p.IsValid(), "duplicate validator address")

	p = testParams(0, 0)
	require.EqualError(t, p.IsValid(), "total BFT weight is zero")

	p = testParams(1, 1)
	p.CertificateThreshold = 3
	require.EqualError(t, p.IsValid(), "certificate threshold 3 exceeds total weight 2")

	p = testParams(1)
	p.Validators[0].GeneratorEligible = false
	require.EqualError(t, p.IsValid(), "no generator eligible validators")

	p = testParams(1)
	p.Validators[0].Address = []byte{1}
	require.EqualError(t, p.IsValid(), "validator 0: invalid address length 1")

	p = testParams(1<<63, 1<<63)
	require.ErrorContains(t, p.IsValid(), "overflow")
}

func TestWindow_Add(t *testing.T) {
	w := &Window{}
	for h := uint64(5); h < 10; h++ {
		require.NoError(t, w.Add(h, addr(1), 3))
	}
	require.Len(t, w.Entries, 3)
	require.EqualValues(t, 7, w.Entries[0].Height)
	require.EqualValues(t, 9, w.Tip())
	require.EqualError(t, w.Add(11, addr(1), 3), "header window: expected height 10, got 11")
	require.EqualValues(t, -1, w.index(6))
	require.EqualValues(t, 2, w.index(9))
}

func TestIsFinalityCandidate(t *testing.T) {
	params := testParams(10, 10, 10, 10)

	// generators 1,2,3 in a row: 30 of 40 weight > 2/3
	w := testWindow(t, 1, 2, 3, 1)
	ok, err := IsFinalityCandidate(params, w, 3)
	require.NoError(t, err)
	require.True(t, ok)

	// at height 2 only 20 of 40 is collected
	ok, err = IsFinalityCandidate(params, w, 2)
	require.NoError(t, err)
	require.False(t, ok)

	// same generator counts once
	w = testWindow(t, 1, 1, 1, 1, 2)
	ok, err = IsFinalityCandidate(params, w, 5)
	require.NoError(t, err)
	require.False(t, ok)

	// exactly 2/3 is not enough
	params = testParams(1, 1, 1)
	w = testWindow(t, 1, 2)
	ok, err = IsFinalityCandidate(params, w, 2)
	require.NoError(t, err)
	require.False(t, ok)

	// height outside of window
	ok, err = IsFinalityCandidate(params, w, 10)
	require.NoError(t, err)
	require.False(t, ok)

	// unknown generators carry no weight
	w = testWindow(t, 7, 8, 9)
	ok, err = IsFinalityCandidate(params, w, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyAggregateCommit(t *testing.T) {
	params := testParams(10, 10, 10, 10)
	commit := func(signers ...int) *types.AggregateCommit {
		bits := make([]byte, 1)
		for _, s := range signers {
			SetAggregationBit(bits, s)
		}
		return &types.AggregateCommit{Height: 5, AggregationBits: bits, CertificateSignature: []byte{1}}
	}

	require.NoError(t, VerifyAggregateCommit(params, nil, nil))
	require.NoError(t, VerifyAggregateCommit(params, &types.AggregateCommit{}, nil))
	require.NoError(t, VerifyAggregateCommit(params, commit(0, 1, 3), nil))

	err := VerifyAggregateCommit(params, commit(0, 1), nil)
	var iwErr *InsufficientWeightError
	require.ErrorAs(t, err, &iwErr)
	require.EqualValues(t, 20, iwErr.Weight)
	require.EqualValues(t, 40, iwErr.Total)
	require.EqualValues(t, 5, iwErr.Height)

	// certificate threshold above 2/3
	params.CertificateThreshold = 40
	require.ErrorAs(t, VerifyAggregateCommit(params, commit(0, 1, 2), nil), &iwErr)
	require.NoError(t, VerifyAggregateCommit(params, commit(0, 1, 2, 3), nil))
	params.CertificateThreshold = 0

	// bits of non existing validators
	require.ErrorIs(t, VerifyAggregateCommit(params, commit(0, 1, 2, 6), nil), ErrInvalidAggregationBits)
	c := commit(0, 1, 2)
	c.AggregationBits = []byte{0xE0, 0}
	require.ErrorIs(t, VerifyAggregateCommit(params, c, nil), ErrInvalidAggregationBits)

	// signature verifier
	sigErr := errors.New("bad signature")
	called := false
	verifier := CommitVerifierFunc(func(p *Params, c *types.AggregateCommit) error {
		called = true
		return sigErr
	})
	require.ErrorIs(t, VerifyAggregateCommit(params, commit(0, 1, 2), verifier), sigErr)
	require.True(t, called)

	// verifier is not called when weight is insufficient
	called = false
	require.ErrorAs(t, VerifyAggregateCommit(params, commit(0), verifier), &iwErr)
	require.False(t, called)
}

func TestNextFinalizedHeight(t *testing.T) {
	require.EqualValues(t, 5, NextFinalizedHeight(5, 3))
	require.EqualValues(t, 7, NextFinalizedHeight(5, 7))
	require.EqualValues(t, 5, NextFinalizedHeight(5, 5))
}

func TestActiveValidators(t *testing.T) {
	params := testParams(1, 1, 1, 1, 1)
	params.Validators[2].GeneratorEligible = false

	active := ActiveValidators(params, 0)
	require.Len(t, active, 4)
	for _, v := range active {
		require.True(t, v.GeneratorEligible)
	}
	// deterministic
	require.Equal(t, active, ActiveValidators(params, 0))

	// independent of the order of the validator list
	reversed := *params
	reversed.Validators = append([]*Validator{}, params.Validators...)
	for i, j := 0, len(reversed.Validators)-1; i < j; i, j = i+1, j-1 {
		reversed.Validators[i], reversed.Validators[j] = reversed.Validators[j], reversed.Validators[i]
	}
	require.Equal(t, active, ActiveValidators(&reversed, 0))

	// order changes from round to round
	changed := false
	for r := uint64(1); r < 10 && !changed; r++ {
		other := ActiveValidators(params, r)
		require.ElementsMatch(t, active, other)
		changed = !slicesEqual(active, other)
	}
	require.True(t, changed)
}

func slicesEqual(a, b []*Validator) bool {
	for i := range a {
		if !bytes.Equal(a[i].Address, b[i].Address) {
			return false
		}
	}
	return true
}

func TestGeneratorForSlot(t *testing.T) {
	cfg, err := NewConfig(WithBlockTime(10), WithBlocksPerRound(3), WithGenesisTimestamp(1000))
	require.NoError(t, err)
	params := testParams(1, 1, 1)

	active := ActiveValidators(params, 0)
	for slot := uint64(0); slot < 6; slot++ {
		v, err := GeneratorForSlot(cfg, params, 1, 1000+slot*10+5)
		require.NoError(t, err)
		require.Equal(t, active[slot%3], v)
	}
	// round is derived from height
	v, err := GeneratorForSlot(cfg, params, 4, 1000)
	require.NoError(t, err)
	require.Equal(t, ActiveValidators(params, 1)[0], v)

	params.Validators = nil
	_, err = GeneratorForSlot(cfg, params, 1, 1000)
	require.EqualError(t, err, "no active validators")
}

func TestConfig(t *testing.T) {
	_, err := NewConfig(WithBlockTime(0), WithBlocksPerRound(0), WithMaxHeaderWindow(0))
	require.ErrorContains(t, err, "block time must be positive")
	require.ErrorContains(t, err, "blocks per round must be positive")
	require.ErrorContains(t, err, "header window size must be positive")

	cfg, err := NewConfig(WithGenesisTimestamp(100), WithBlockTime(10), WithBlocksPerRound(5))
	require.NoError(t, err)
	require.EqualValues(t, 0, cfg.Slot(50))
	require.EqualValues(t, 0, cfg.Slot(109))
	require.EqualValues(t, 1, cfg.Slot(110))
	require.EqualValues(t, 0, cfg.Round(0))
	require.EqualValues(t, 0, cfg.Round(5))
	require.EqualValues(t, 1, cfg.Round(6))

	ts, err := NextSlotTimestamp(cfg, 105)
	require.NoError(t, err)
	require.EqualValues(t, 110, ts)
}

func TestValidatorsHash(t *testing.T) {
	p1 := testParams(1, 2)
	h1, err := ValidatorsHash(p1)
	require.NoError(t, err)
	require.Len(t, h1, 32)

	p2 := testParams(1, 2)
	p2.FromHeight = 100
	h2, err := ValidatorsHash(p2)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "from height is not part of the hash")

	p2.Validators[0].BFTWeight = 5
	h2, err = ValidatorsHash(p2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}
