// Package message defines the envelope exchanged between the gateway and the
// backend services over the RPC frame protocol.
//
// The envelope is serialized by the codec layer and carried as the body of a
// protocol frame.
package message

// RPCMessage carries a single RPC request or response.
//
//   - On request:  ServiceMethod names the target ("Forward.NewMessage"), Payload holds the JSON args.
//   - On response: Payload holds the JSON reply, Error is set when the transport or handler failed.
//
// RequestID is propagated end to end so a call can be followed across service logs.
type RPCMessage struct {
	ServiceMethod string
	RequestID     string
	Error         string
	Payload       []byte
}

// Failed reports whether the message carries a transport or handler error.
func (m *RPCMessage) Failed() bool {
	return m.Error != ""
}
