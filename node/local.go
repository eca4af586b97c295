package node

import (
	"context"
	"fmt"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// Local addresses in-process nodes by identifier. It satisfies
// interfaces.NodeInvoker and interfaces.NodeBlobs.
type Local map[int]*Node

func (l Local) node(id int) (*Node, error) {
	n, ok := l[id]
	if !ok {
		return nil, fmt.Errorf("%w: no node %d", interfaces.ErrInvalidParameters, id)
	}
	return n, nil
}

func (l Local) Invoke(ctx context.Context, id int, inv interfaces.Invocation) ([]byte, error) {
	n, err := l.node(id)
	if err != nil {
		return nil, err
	}
	return n.Execute(ctx, inv)
}

func (l Local) PutBlob(ctx context.Context, id int, clientID, key string, data []byte) error {
	n, err := l.node(id)
	if err != nil {
		return err
	}
	return n.PutBlob(ctx, clientID, key, data)
}

func (l Local) GetBlob(ctx context.Context, id int, clientID, key string) ([]byte, error) {
	n, err := l.node(id)
	if err != nil {
		return nil, err
	}
	return n.GetBlob(ctx, clientID, key)
}
