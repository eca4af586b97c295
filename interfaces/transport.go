package interfaces

import "context"

// Invocation asks one node to run an operation.
type Invocation struct {
	// App is the application name the operation belongs to.
	App string `json:"app_name"`
	// Operation selects the function to run.
	Operation Operation `json:"func_name"`
	// Session identifies the multi-party session. All nodes taking part in
	// the same session receive the same value.
	Session string `json:"session_id,omitempty"`
	// ClientID namespaces blobs referenced by InFiles and OutFiles.
	ClientID string `json:"client_id"`
	// InFiles and OutFiles name blobs the operation reads and writes.
	InFiles  []string `json:"in_files,omitempty"`
	OutFiles []string `json:"out_files,omitempty"`
	// Args are operation-specific JSON payloads.
	Args [][]byte `json:"args,omitempty"`
}

// NodeInvoker runs operations on a numbered node.
type NodeInvoker interface {
	Invoke(ctx context.Context, node int, inv Invocation) ([]byte, error)
}

// NodeBlobs reads and writes blobs on a numbered node.
type NodeBlobs interface {
	PutBlob(ctx context.Context, node int, clientID, key string, data []byte) error
	GetBlob(ctx context.Context, node int, clientID, key string) ([]byte, error)
}
