package kafka

// Message is one consumed queue record, decoupled from the client library so
// handlers and tests never touch kgo types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}
