package node

import "errors"

// Domain errors for the node package.
//
//	if errors.Is(err, node.ErrNodeNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNodeNotFound is returned when a node ID does not exist.
	ErrNodeNotFound = errors.New("node: not found")

	// ErrNodeExists is returned when creating a node whose ID is taken.
	ErrNodeExists = errors.New("node: already exists")

	// ErrInvalidMessage is returned for an undecodable message or one
	// without node_id.
	ErrInvalidMessage = errors.New("node: invalid message")
)
