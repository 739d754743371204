package bft

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/blockengine/crypto"
	"github.com/alphabill-org/blockengine/util"
)

var roundSeedDomain = []byte("blockengine/round-seed")

// RoundSeed returns the seed of the round derived from the initial round seed.
func RoundSeed(initRoundSeed []byte, round uint64) []byte {
	return crypto.Hash(initRoundSeed, util.Uint64ToBytes(round))
}

/*
ActiveValidators returns generator eligible validators of the round in
generator slot order: ascending by hash of the domain separated round seed
and validator address, address ascending on equal hash.
*/
func ActiveValidators(params *Params, round uint64) []*Validator {
	seed := RoundSeed(params.InitRoundSeed, round)
	type ranked struct {
		v    *Validator
		rank *uint256.Int
	}
	var list []ranked
	for _, v := range params.Validators {
		if !v.GeneratorEligible {
			continue
		}
		list = append(list, ranked{v: v, rank: new(uint256.Int).SetBytes(crypto.Hash(roundSeedDomain, seed, v.Address))})
	}
	slices.SortFunc(list, func(a, b ranked) int {
		if c := a.rank.Cmp(b.rank); c != 0 {
			return c
		}
		return bytes.Compare(a.v.Address, b.v.Address)
	})
	res := make([]*Validator, len(list))
	for i, r := range list {
		res[i] = r.v
	}
	return res
}

// GeneratorForSlot returns the validator expected to generate block of the height at timestamp.
func GeneratorForSlot(cfg *Config, params *Params, height, timestamp uint64) (*Validator, error) {
	active := ActiveValidators(params, cfg.Round(height))
	if len(active) == 0 {
		return nil, errors.New("no active validators")
	}
	slot := cfg.Slot(timestamp)
	return active[slot%uint64(len(active))], nil
}

// NextSlotTimestamp returns the start time of the first slot after timestamp.
func NextSlotTimestamp(cfg *Config, timestamp uint64) (uint64, error) {
	ts := cfg.GenesisTimestamp + (cfg.Slot(timestamp)+1)*cfg.BlockTime
	if ts <= timestamp {
		return 0, fmt.Errorf("slot timestamp overflow at %d", timestamp)
	}
	return ts, nil
}
