package core

import "context"

// TaskStore persists finalized tasks by id.
type TaskStore interface {
	SaveTask(ctx context.Context, task Task) error
	LoadTask(ctx context.Context, id string) (Task, error)
}

// ChainStore persists finalized evidence chains by id.
type ChainStore interface {
	SaveChain(ctx context.Context, chain EvidenceChain) error
	LoadChain(ctx context.Context, id string) (EvidenceChain, error)
}

// Store is the persistence collaborator. Implementations return an error
// wrapping ErrNotFound for unknown ids.
type Store interface {
	TaskStore
	ChainStore
}
