package core

// Frame is one serialized text message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full outbound buffer is reported as an error and the frame is lost.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
