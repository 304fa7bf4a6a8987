package core

import "context"

// DocumentExtractor turns raw file bytes into plain text, dispatching on MIME type.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}
