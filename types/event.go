package types

const (
	// EventNameCommandExecutionResult is emitted for every transaction, Data is encoded bool.
	EventNameCommandExecutionResult = "commandExecutionResult"
	EventModuleSystem               = "system"
)

// Event is emitted by modules during block execution.
type Event struct {
	_        struct{} `cbor:",toarray"`
	Module   string   `json:"module"`
	Name     string   `json:"name"`
	Height   uint64   `json:"height,string"`
	Index    uint32   `json:"index"`
	TopicIDs []Bytes  `json:"topics"`
	Data     Bytes    `json:"data"`
}

// TxResult is the outcome of one transaction of a block.
type TxResult struct {
	_       struct{} `cbor:",toarray"`
	TxID    Bytes    `json:"txId"`
	Success bool     `json:"success"`
	// Message is the reason of the failure, empty for successful transactions.
	Message string `json:"message,omitempty"`
}
