package bft

import (
	"fmt"

	"github.com/alphabill-org/blockengine/types"
)

type (
	HeaderEntry struct {
		_         struct{}    `cbor:",toarray"`
		Height    uint64      `json:"height,string"`
		Generator types.Bytes `json:"generator"`
	}

	// Window is the list of the most recent block generators in ascending height order.
	Window struct {
		_       struct{}       `cbor:",toarray"`
		Entries []*HeaderEntry `json:"entries"`
	}
)

/*
Add appends generator of the height to the window evicting the oldest
entries when the window grows over max. Heights must be added in order
without gaps.
*/
func (w *Window) Add(height uint64, generator []byte, max int) error {
	if n := len(w.Entries); n > 0 && w.Entries[n-1].Height+1 != height {
		return fmt.Errorf("header window: expected height %d, got %d", w.Entries[n-1].Height+1, height)
	}
	w.Entries = append(w.Entries, &HeaderEntry{Height: height, Generator: generator})
	if over := len(w.Entries) - max; over > 0 {
		w.Entries = w.Entries[over:]
	}
	return nil
}

// Tip returns the highest height in the window, zero for empty window.
func (w *Window) Tip() uint64 {
	if len(w.Entries) == 0 {
		return 0
	}
	return w.Entries[len(w.Entries)-1].Height
}

func (w *Window) index(height uint64) int {
	if len(w.Entries) == 0 {
		return -1
	}
	first := w.Entries[0].Height
	if height < first || height > w.Tip() {
		return -1
	}
	return int(height - first)
}
