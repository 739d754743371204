package synchronizer

import "fmt"

type State int32

const (
	Idle State = iota
	DeterminingStrategy
	RunningBlockSync
	RunningFastChainSwitch
	Aborting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DeterminingStrategy:
		return "determiningStrategy"
	case RunningBlockSync:
		return "blockSync"
	case RunningFastChainSwitch:
		return "fastChainSwitch"
	case Aborting:
		return "aborting"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

type strategy int

const (
	blockSync strategy = iota
	fastChainSwitch
)

func (s strategy) String() string {
	if s == fastChainSwitch {
		return "fastChainSwitch"
	}
	return "blockSync"
}

func (s strategy) state() State {
	if s == fastChainSwitch {
		return RunningFastChainSwitch
	}
	return RunningBlockSync
}
