// Package authz decides which agents an actor may act on: itself plus
// everyone transitively reporting to it.
package authz

import (
	"sync"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
)

// MsgNotAuthorized is the user-facing message for cross-tree task
// operations. Callers surface it verbatim.
const MsgNotAuthorized = "Agents can only assign tasks to themselves or their reportees (direct or indirect)."

// Error is an authorization failure with a user-facing message.
type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

// ErrCrossTree is returned when a task operation reaches outside the
// actor's reachable-reportee set.
var ErrCrossTree = &Error{Msg: MsgNotAuthorized}

// Resolver computes reachable-reportee sets lazily and memoises them per
// agent-graph snapshot; any agent mutation invalidates the cache.
type Resolver struct {
	store *agents.Store

	mu       sync.Mutex
	gen      int64
	children map[string][]string
	closures map[string]map[string]bool
}

// NewResolver builds a resolver over the agent store.
func NewResolver(store *agents.Store) *Resolver {
	return &Resolver{store: store}
}

// ReachableReportees returns the actor plus all transitive reportees as a
// set. Unknown actors return agents.ErrAgentNotFound.
func (r *Resolver) ReachableReportees(actorID string) (map[string]bool, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Agents[actorID]; !ok {
		return nil, agents.ErrAgentNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != snap.Gen || r.children == nil {
		children := make(map[string][]string, len(snap.Agents))
		for id, a := range snap.Agents {
			if a.ReportsTo != "" {
				children[a.ReportsTo] = append(children[a.ReportsTo], id)
			}
		}
		r.children = children
		r.closures = make(map[string]map[string]bool)
		r.gen = snap.Gen
	}

	if cached, ok := r.closures[actorID]; ok {
		return cached, nil
	}

	set := map[string]bool{actorID: true}
	queue := []string{actorID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range r.children[cur] {
			if !set[child] {
				set[child] = true
				queue = append(queue, child)
			}
		}
	}
	r.closures[actorID] = set
	return set, nil
}

// AuthorizeTask allows an operation when the task's owner or assignee is
// reachable from the actor.
func (r *Resolver) AuthorizeTask(actorID, owner, assignee string) error {
	set, err := r.ReachableReportees(actorID)
	if err != nil {
		return err
	}
	if set[owner] || set[assignee] {
		return nil
	}
	return ErrCrossTree
}

// AuthorizeAssignment allows assigning work to assignee only when it lies
// in the actor's reachable set.
func (r *Resolver) AuthorizeAssignment(actorID, assignee string) error {
	set, err := r.ReachableReportees(actorID)
	if err != nil {
		return err
	}
	if set[assignee] {
		return nil
	}
	return ErrCrossTree
}
