// Package models defines the core data structures for wallet entities
// and the offline mutation queue.
package models

import "encoding/json"

// Credential represents a verifiable credential held in the wallet.
type Credential struct {
	// ID is the unique identifier for the credential.
	ID string `json:"id"`
	// Type indicates the kind of credential ("education", "employment", etc.).
	Type string `json:"type"`
	// Status is the current lifecycle status of the credential.
	Status string `json:"status"`
	// Issuer identifies the party that issued the credential.
	Issuer string `json:"issuer"`
	// Subject identifies the party the credential is about.
	Subject string `json:"subject"`
	// Claims holds the credential's claim data, opaque to the engine.
	Claims map[string]any `json:"claims,omitempty"`
	// IssuedAt is the issuance time in unix milliseconds.
	IssuedAt int64 `json:"issuedAt,omitempty"`
}

// HandshakeRequest represents a pending credential-sharing request
// between two wallet holders.
type HandshakeRequest struct {
	// ID is the unique identifier for the request.
	ID string `json:"id"`
	// Requester identifies the party asking for credentials.
	Requester string `json:"requester"`
	// Status is the request state ("pending", "accepted", "declined").
	Status string `json:"status"`
	// Fields lists the credential fields the requester asked for.
	Fields []string `json:"fields,omitempty"`
	// Message is an optional note attached by the requester.
	Message string `json:"message,omitempty"`
}

// Profile represents the wallet holder's profile.
type Profile struct {
	// ID is the unique identifier for the profile.
	ID string `json:"id"`
	// DisplayName is the name shown when sharing credentials.
	DisplayName string `json:"displayName"`
	// Email is the holder's contact address.
	Email string `json:"email,omitempty"`
	// PublicKey is the holder's published key material, opaque here.
	PublicKey string `json:"publicKey,omitempty"`
}

// CredentialStatus defines the set of valid credential status values.
type CredentialStatus string

const (
	// CredentialActive marks a credential usable for sharing.
	CredentialActive CredentialStatus = "active"
	// CredentialRevoked marks a credential withdrawn by its issuer.
	CredentialRevoked CredentialStatus = "revoked"
	// CredentialExpired marks a credential past its validity period.
	CredentialExpired CredentialStatus = "expired"
)

// MutationType identifies the remote effect a queue item replays.
type MutationType string

const (
	// MutationCreate creates the resource remotely.
	MutationCreate MutationType = "create"
	// MutationUpdate updates the resource remotely.
	MutationUpdate MutationType = "update"
	// MutationDelete deletes the resource remotely.
	MutationDelete MutationType = "delete"
	// MutationShare shares the resource with another party.
	MutationShare MutationType = "share"
	// MutationVerify requests remote verification of the resource.
	MutationVerify MutationType = "verify"
)

// ResourceKind identifies which wallet entity a mutation targets.
type ResourceKind string

const (
	// ResourceCredential targets a credential.
	ResourceCredential ResourceKind = "credential"
	// ResourceHandshake targets a handshake request.
	ResourceHandshake ResourceKind = "handshake"
	// ResourceProfile targets the holder profile.
	ResourceProfile ResourceKind = "profile"
)

// QueueItem is a recorded pending remote mutation awaiting dispatch.
type QueueItem struct {
	// ID is assigned at enqueue time and unique within the queue.
	ID string `json:"id"`
	// Type is the mutation to replay.
	Type MutationType `json:"type"`
	// Resource is the entity kind the mutation targets.
	Resource ResourceKind `json:"resource"`
	// Data is the payload needed to replay the mutation.
	Data json.RawMessage `json:"data"`
	// Timestamp is the enqueue time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// RetryCount is the number of failed dispatch attempts so far.
	RetryCount int `json:"retryCount"`
	// LastError describes the most recent dispatch failure, if any.
	LastError string `json:"lastError,omitempty"`
}

// SyncStatus is a point-in-time snapshot of the queue's state,
// derived for the UI layer and never stored as a whole.
type SyncStatus struct {
	// IsOnline reports the last observed connectivity state.
	IsOnline bool `json:"isOnline"`
	// LastSync is the unix-millisecond time of the last completed drain
	// pass, or zero if none has completed.
	LastSync int64 `json:"lastSync,omitempty"`
	// PendingItems is the number of items awaiting dispatch.
	PendingItems int `json:"pendingItems"`
	// FailedItems is the number of items that exhausted their retries.
	FailedItems int `json:"failedItems"`
	// IsProcessingQueue reports whether a drain pass is running.
	IsProcessingQueue bool `json:"isProcessingQueue"`
}
