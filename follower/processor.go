package follower

import (
	"context"
	"sync"
)

// AuthzNotificationProcessor is the concrete NotificationProcessor this
// follower ships. It hands every event to gateway.ApplyEvent, which performs
// the durable mutation (including the atomic id bookkeeping), decides
// whether the event was semantically applicable, and is the single source
// of truth on conflicts. The translation of Hive-metastore-shaped events
// (table, partition, and database DDL, plus Sentry-style privilege
// grant/revoke) lives in Apply, which gateways such as
// persistence/badgerstore call; the processor's own pathMap is not written
// by ProcessEvent.
type AuthzNotificationProcessor struct {
	gateway PersistenceGateway

	mu      sync.Mutex
	pathMap map[string][]AuthzObject
}

// NewAuthzNotificationProcessor constructs a processor backed by gateway.
func NewAuthzNotificationProcessor(gateway PersistenceGateway) *AuthzNotificationProcessor {
	return &AuthzNotificationProcessor{
		gateway: gateway,
		pathMap: make(map[string][]AuthzObject),
	}
}

// ProcessEvent applies event's authorization effect and returns whether it
// was semantically applicable. The durable write (and any storage-layer
// conflict) is handled by gateway.ApplyEvent; this method only decides
// nothing beyond what the gateway itself reports, since the gateway is the
// single source of truth for applicability.
func (p *AuthzNotificationProcessor) ProcessEvent(ctx context.Context, event Event) (bool, error) {
	return p.gateway.ApplyEvent(ctx, event)
}

// Apply computes the in-process effect of an event against the given
// pathMap. It is exported for PersistenceGateway implementations (such as
// persistence/badgerstore) that want to reuse the same translation logic
// rather than re-deriving it, keeping the "what a Hive-metastore event
// means" knowledge in one place.
func Apply(pathMap map[string][]AuthzObject, payload Payload) (applied bool) {
	switch payload.Kind {
	case KindDropDatabase, KindDropTable, KindDropPartition:
		return dropPath(pathMap, payload.Path)

	case KindCreateDatabase, KindCreateTable, KindAddPartition:
		if _, exists := pathMap[payload.Path]; exists {
			return false
		}
		pathMap[payload.Path] = nil
		return true

	case KindAlterTable:
		objs, exists := pathMap[payload.OldPath]
		if !exists {
			return false
		}
		delete(pathMap, payload.OldPath)
		pathMap[payload.Path] = objs
		return true

	case KindGrantPrivilege:
		return grant(pathMap, payload.Path, payload.Principal, payload.Permissions)

	case KindRevokePrivilege:
		return revoke(pathMap, payload.Path, payload.Principal, payload.Permissions)

	case KindCreateRole, KindDropRole:
		// Role lifecycle events carry no path mutation; they are recorded
		// for audit purposes only and always take the no-op-advance path.
		return false

	default:
		return false
	}
}

func dropPath(pathMap map[string][]AuthzObject, path string) bool {
	if _, exists := pathMap[path]; !exists {
		return false
	}
	delete(pathMap, path)
	for p := range pathMap {
		if isNestedUnder(p, path) {
			delete(pathMap, p)
		}
	}
	return true
}

func isNestedUnder(path, parent string) bool {
	if len(path) <= len(parent) {
		return false
	}
	return path[:len(parent)] == parent && path[len(parent)] == '.'
}

func grant(pathMap map[string][]AuthzObject, path, principal string, perms []Permission) bool {
	objs := pathMap[path]
	for i := range objs {
		if objs[i].Principal == principal {
			changed := false
			for _, perm := range perms {
				if _, ok := objs[i].Permissions[perm]; !ok {
					objs[i].Permissions[perm] = struct{}{}
					changed = true
				}
			}
			return changed
		}
	}

	set := make(map[Permission]struct{}, len(perms))
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
	pathMap[path] = append(objs, AuthzObject{Principal: principal, Permissions: set})
	return len(perms) > 0
}

func revoke(pathMap map[string][]AuthzObject, path, principal string, perms []Permission) bool {
	objs := pathMap[path]
	changed := false
	for i := range objs {
		if objs[i].Principal != principal {
			continue
		}
		for _, perm := range perms {
			if _, ok := objs[i].Permissions[perm]; ok {
				delete(objs[i].Permissions, perm)
				changed = true
			}
		}
	}
	return changed
}
