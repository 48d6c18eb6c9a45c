// Package registry binds service instances to the coordination service and
// follows membership changes under a key prefix.
//
// Key layout:
//
//	<base-path>/<service-name>/<instance-name>  ->  host:port
//
// A Registrar owns one lease and publishes keys under it; if renewal stops the
// keys expire with the lease. A Discoverer lists a prefix, then watches it
// from the listed revision so no change between the two calls is missed.
package registry

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	ErrRegistrationFailed   = errors.New("registry: registration failed")
	ErrDiscoveryUnavailable = errors.New("registry: discovery unavailable")
	ErrLeaseNotFound        = errors.New("registry: lease not found")
	ErrCompacted            = errors.New("registry: watch revision compacted")
	ErrClosed               = errors.New("registry: closed")
)

type LeaseID int64

type EventType uint8

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	if t == EventDelete {
		return "delete"
	}
	return "put"
}

type KeyValue struct {
	Key   string
	Value string
}

// Event is one membership change. For deletes Value holds the last value the
// key had, when the backend can supply it.
type Event struct {
	Type     EventType
	Key      string
	Value    string
	Revision int64
}

type WatchResponse struct {
	Events []Event
	Err    error
}

// Backend is the subset of a coordination service the fabric relies on.
type Backend interface {
	Grant(ctx context.Context, ttl int64) (LeaseID, error)
	// KeepAlive renews lease until ctx is done. The returned channel receives
	// one value per renewal and is closed when renewal stops for any reason.
	KeepAlive(ctx context.Context, lease LeaseID) (<-chan struct{}, error)
	Revoke(ctx context.Context, lease LeaseID) error
	Put(ctx context.Context, key, value string, lease LeaseID) error
	// List returns every key under prefix and the store revision it was read at.
	List(ctx context.Context, prefix string) ([]KeyValue, int64, error)
	// Watch streams changes under prefix starting at fromRevision. The channel
	// closes when ctx is done or the watch fails.
	Watch(ctx context.Context, prefix string, fromRevision int64) <-chan WatchResponse
}

// InstanceKey builds <base>/<service>/<instance>.
func InstanceKey(base, service, instance string) string {
	return path.Join("/", base, service, instance)
}

// ServicePath strips the trailing instance segment from an instance key.
func ServicePath(instanceKey string) string {
	i := strings.LastIndexByte(instanceKey, '/')
	if i <= 0 {
		return ""
	}
	return instanceKey[:i]
}
