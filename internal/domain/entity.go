package domain

import "fmt"

type EntityType string

const (
	EntityTypeDocument        EntityType = "document"
	EntityTypeActivityConfig  EntityType = "activity_config"
	EntityTypeComponentConfig EntityType = "component_config"
)

// EntityRef identifies one synchronized resource. It is part of every
// session key and of the relay topic the resource broadcasts on.
type EntityRef struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
}

func NewEntityRef(entityType EntityType, entityID string) EntityRef {
	return EntityRef{
		EntityType: entityType,
		EntityID:   entityID,
	}
}

func (r EntityRef) IsZero() bool {
	return r.EntityType == "" || r.EntityID == ""
}

// Topic derives the broker topic for this entity. The mapping is
// deterministic so every server process lands on the same topic.
func (r EntityRef) Topic() string {
	return fmt.Sprintf("diffsync.%s.%s", r.EntityType, r.EntityID)
}

func (r EntityRef) Key() string {
	return fmt.Sprintf("%s:%s", r.EntityType, r.EntityID)
}

type EndpointKind string

const (
	EndpointKindClient EndpointKind = "client"
	EndpointKindServer EndpointKind = "server"
)

// EndpointRef identifies one side of a sync relationship. ServerID names
// the server process currently holding the endpoint's live connection,
// which is what lets the relay route across processes.
type EndpointRef struct {
	Kind     EndpointKind `json:"kind"`
	ClientID string       `json:"client_id,omitempty"`
	ServerID string       `json:"server_id"`
}

func ClientEndpoint(clientID, serverID string) EndpointRef {
	return EndpointRef{
		Kind:     EndpointKindClient,
		ClientID: clientID,
		ServerID: serverID,
	}
}

func ServerEndpoint(serverID string) EndpointRef {
	return EndpointRef{
		Kind:     EndpointKindServer,
		ServerID: serverID,
	}
}

// Key returns the durable identity of the endpoint. For client endpoints
// the client id alone identifies it: a client that reconnects through a
// different server process resumes the same shadow row.
func (e EndpointRef) Key() string {
	if e.Kind == EndpointKindClient {
		return fmt.Sprintf("%s:%s", e.Kind, e.ClientID)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.ServerID)
}

// Equal compares endpoint identity, not connection placement.
func (e EndpointRef) Equal(other EndpointRef) bool {
	return e.Key() == other.Key()
}
