// Package capability resolves an already-authenticated actor into the set of
// action capabilities it holds.
package capability

import (
	"context"

	"github.com/mtlprog/tasklog/internal/domain"
)

// Well-known actor identities.
const (
	ActorSystem = "SYSTEM"
	ActorUser   = "USER"
)

// Set is a set of capability names.
type Set map[domain.Capability]struct{}

// NewSet builds a Set from the given capabilities.
func NewSet(caps ...domain.Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c domain.Capability) bool {
	_, ok := s[c]
	return ok
}

// Resolver maps an actor identity to its capabilities.
type Resolver interface {
	Resolve(ctx context.Context, actorID string) (Set, error)
}

// StaticResolver is a fixed actor -> capabilities policy.
type StaticResolver struct {
	policy map[string]Set
}

// NewStaticResolver returns the default policy: SYSTEM holds every action
// capability, USER holds all but archive_task, anyone else holds nothing.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		policy: map[string]Set{
			ActorSystem: NewSet("submit_for_review", "start_progress", "complete_task", "archive_task"),
			ActorUser:   NewSet("submit_for_review", "start_progress", "complete_task"),
		},
	}
}

// Resolve returns the capabilities of actorID. Unknown actors get an empty set.
func (r *StaticResolver) Resolve(_ context.Context, actorID string) (Set, error) {
	caps, ok := r.policy[actorID]
	if !ok {
		return Set{}, nil
	}
	return caps, nil
}
