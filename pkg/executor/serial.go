package executor

// Serial runs tasks one at a time in submission order. It is the executor
// for stream-sticky work, where at most one message of a stream may be in
// flight.
type Serial struct {
	*pool
}

// NewSerial creates a serial executor. capacity bounds the queue; zero or
// negative means unbounded.
func NewSerial(capacity int) *Serial {
	return &Serial{pool: newPool(1, capacity)}
}
