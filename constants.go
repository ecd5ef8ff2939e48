package server

// ProtocolVersion is stamped on every outbound message. Clients drop frames
// from a version they do not understand.
const ProtocolVersion = 1

const (
	// DefaultTickRate is the simulation rate in Hz.
	DefaultTickRate = 60
	// DefaultSendRate is the snapshot broadcast rate in Hz.
	DefaultSendRate = 20
)
