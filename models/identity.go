package models

import "time"

// ProviderKind identifies the cloud storage backend family a vault lives on.
type ProviderKind string

const (
	ProviderDrive   ProviderKind = "drive"
	ProviderGraph   ProviderKind = "graph"
	ProviderDropbox ProviderKind = "dropbox"
	ProviderWebDAV  ProviderKind = "webdav"
	ProviderMemory  ProviderKind = "memory"
)

// VaultIdentity uniquely addresses a vault on one backend account.
// Immutable once the vault is created.
type VaultIdentity struct {
	RemotePath   string       `json:"remote_path"`
	ProviderKind ProviderKind `json:"provider_kind"`
	AccountID    string       `json:"account_id"`
}

// Key returns a stable string form of the identity, used as the primary key
// for local persistence.
func (id VaultIdentity) Key() string {
	return string(id.ProviderKind) + "|" + id.AccountID + "|" + id.RemotePath
}

// VaultMetadata describes a vault as seen on (or last confirmed with) the
// remote backend. RemoteRevisionTag is the provider's opaque concurrency
// token; it is never parsed, only compared for equality.
type VaultMetadata struct {
	Identity          VaultIdentity `json:"identity"`
	DisplayName       string        `json:"display_name"`
	FormatVersion     uint8         `json:"format_version"`
	SizeBytes         int64         `json:"size_bytes"`
	RemoteRevisionTag string        `json:"remote_revision_tag"`
	LastModifiedUtc   time.Time     `json:"last_modified_utc"`
	Deleted           bool          `json:"deleted,omitempty"`
}
