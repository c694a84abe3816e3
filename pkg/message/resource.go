package message

// ResourceKind discriminates resource variants on the wire
type ResourceKind string

const (
	// ResourceBlob names a blob in the run's blobstore
	ResourceBlob ResourceKind = "blob"
	// ResourceFilesystem names a path local to the process resolving it
	ResourceFilesystem ResourceKind = "filesystem"
)

// Resource is a handle for lazily obtaining a reader or writer of bytes.
// It is pure data; the worker resolving it decides how to open it.
type Resource struct {
	Kind ResourceKind `json:"kind"`
	Key  string       `json:"key,omitempty"`
	Path string       `json:"path,omitempty"`
}

// BlobResource references blobstore content by key
func BlobResource(key string) Resource {
	return Resource{Kind: ResourceBlob, Key: key}
}

// FilesystemResource references a local filesystem path
func FilesystemResource(path string) Resource {
	return Resource{Kind: ResourceFilesystem, Path: path}
}
