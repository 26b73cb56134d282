// Package stream defines what the dispatch loop consumes from a push transport:
// connection signals, decoded data events and stream metadata.
package stream

import (
	"slices"
	"time"

	"github.com/pkg/errors"
)

// UserDataMarket is the market name of the account user-data stream.
const UserDataMarket = "!userData"

// ErrTransportStopping is returned by consumers that stop because the transport is shutting down.
var ErrTransportStopping = errors.New("stream transport is stopping")

// SignalKind is the kind of a connection signal.
type SignalKind int

const (
	// Connect is emitted after a stream (re)connects.
	Connect SignalKind = iota + 1
	// Disconnect is emitted when a stream connection drops.
	Disconnect
)

func (k SignalKind) String() string {
	switch k {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Signal is a connection state change of one stream.
type Signal struct {
	Kind     SignalKind
	StreamID string
	Time     time.Time
}

// StreamInfo describes a subscribed stream.
type StreamInfo struct {
	ID       string
	Markets  []string
	Channels []string
}

// IsUserData reports whether the stream carries account user data.
func (i StreamInfo) IsUserData() bool {
	return slices.Contains(i.Markets, UserDataMarket)
}

// Transport delivers signals and events without blocking.
type Transport interface {
	// PopSignal returns the oldest pending signal, if any.
	PopSignal() (Signal, bool)
	// PopEvent returns the oldest pending data event, if any.
	PopEvent() (Event, bool)
	// IsStopping reports whether the transport is shutting down.
	IsStopping() bool
	// StreamInfo returns the metadata of a stream.
	StreamInfo(id string) (StreamInfo, bool)
	// Stop closes every stream.
	Stop()
}
