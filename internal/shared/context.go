package shared

import "context"

type actorContextKey struct{}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID          int64
	Permissions []string
}

// Has reports whether the actor holds perm.
func (a Actor) Has(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasWarehouseRole reports whether the actor may run warehouse operations.
func (a Actor) HasWarehouseRole() bool {
	return a.ID > 0 && (a.Has(PermWarehouseOperate) || a.Has(PermWarehouseAdmin))
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// RequireWarehouseRole returns ErrForbidden unless the actor may operate the warehouse.
func RequireWarehouseRole(actor Actor) error {
	if !actor.HasWarehouseRole() {
		return ErrForbidden
	}
	return nil
}
