package domain

import "time"

// EventType identifies the kind of domain event flowing between the Host
// Observer / Static Route Store and the Service Registry.
type EventType string

const (
	// EventSync carries a full container snapshot for a host, replacing
	// whatever the Registry previously knew about that host.
	EventSync EventType = "container.sync"
	// EventContainerChanged carries a single container's new shape.
	EventContainerChanged EventType = "container.changed"
	// EventContainerRemoved announces a container no longer exists.
	EventContainerRemoved EventType = "container.removed"
	// EventStaticChanged carries the full static-record set after a
	// successful Static Route Store mutation or external file reload.
	EventStaticChanged EventType = "static.changed"
	// EventHostState announces a Host Observer's connection-state change.
	EventHostState EventType = "host.state"
)

// Event is a domain event published on the internal event bus.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Host      string
	Data      any
}

// SyncPayload is the Data for EventSync.
type SyncPayload struct {
	Host       string
	Containers []Container
}

// ContainerChangedPayload is the Data for EventContainerChanged.
type ContainerChangedPayload struct {
	Container Container
}

// ContainerRemovedPayload is the Data for EventContainerRemoved.
type ContainerRemovedPayload struct {
	Host        string
	ContainerID string
}

// StaticChangedPayload is the Data for EventStaticChanged.
type StaticChangedPayload struct {
	Records []StaticRecord
}

// HostStatePayload is the Data for EventHostState.
type HostStatePayload struct {
	Host   string
	State  ConnectionState
	Reason string
}
