package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for vector store and embedding failures.
var (
	ErrUnreachable = errors.New("vector store unreachable")
	ErrRequest     = errors.New("vector store request error")
	ErrTimeout     = errors.New("vector store timeout")
	ErrEmbedding   = errors.New("embedding request error")
)

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
