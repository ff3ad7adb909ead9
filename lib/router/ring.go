package router

import (
	"sort"
	"strconv"

	"github.com/ValentinKolb/dDoc/lib/util"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

// DefaultVirtualNodes is the number of ring positions per member
const DefaultVirtualNodes = 128

// hashRing is a consistent hash ring: every member owns the keys hashing between
// the positions of its predecessors and its own virtual nodes.
type hashRing struct {
	vnodes    int
	positions *treemap.Map // uint64 position -> member name
	members   map[string]struct{}
}

// NewHashRing creates an empty ring with vnodes positions per member
func NewHashRing(vnodes int) Partitioner {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	return &hashRing{
		vnodes:    vnodes,
		positions: treemap.NewWith(utils.UInt64Comparator),
		members:   make(map[string]struct{}),
	}
}

// HashRingFactory creates rings with the default number of virtual nodes
func HashRingFactory() Partitioner {
	return NewHashRing(DefaultVirtualNodes)
}

func position(name string, i int) uint64 {
	return util.HashString(name+"#"+strconv.Itoa(i), 0)
}

func (r *hashRing) Add(name string) {
	if _, ok := r.members[name]; ok {
		return
	}
	r.members[name] = struct{}{}
	for i := 0; i < r.vnodes; i++ {
		r.positions.Put(position(name, i), name)
	}
}

func (r *hashRing) Remove(name string) {
	if _, ok := r.members[name]; !ok {
		return
	}
	delete(r.members, name)
	for i := 0; i < r.vnodes; i++ {
		pos := position(name, i)
		// a colliding position may belong to another member
		if owner, found := r.positions.Get(pos); found && owner.(string) == name {
			r.positions.Remove(pos)
		}
	}
}

func (r *hashRing) Owner(key string) (string, bool) {
	if r.positions.Empty() {
		return "", false
	}
	h := util.HashString(key, 0)
	if _, owner := r.positions.Ceiling(h); owner != nil {
		return owner.(string), true
	}
	// wrap around
	_, owner := r.positions.Min()
	return owner.(string), true
}

func (r *hashRing) Members() []string {
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *hashRing) Clone() Partitioner {
	c := NewHashRing(r.vnodes).(*hashRing)
	for name := range r.members {
		c.members[name] = struct{}{}
	}
	it := r.positions.Iterator()
	for it.Next() {
		c.positions.Put(it.Key(), it.Value())
	}
	return c
}
