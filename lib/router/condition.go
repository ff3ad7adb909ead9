package router

import "github.com/ValentinKolb/dDoc/lib/store"

// NewRouteCondition is satisfied for every key whose owner is no longer the local node.
// Keys without any route are kept.
func NewRouteCondition(r Router) store.FlushCondition {
	return store.FlushConditionFunc(func(bucket, key string) bool {
		local := r.LocalNode()
		if local == nil {
			return false
		}
		owner, err := r.RouteToNodeFor(bucket, key)
		if err != nil {
			return false
		}
		return owner.Name() != local.Name()
	})
}
