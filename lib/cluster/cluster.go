package cluster

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cluster is a named group of cooperating nodes. Exactly one cluster is local to a process.
type Cluster struct {
	Name    string `json:"name" yaml:"name"`
	IsLocal bool   `json:"is_local" yaml:"is_local"`
}

func (c Cluster) String() string {
	if c.IsLocal {
		return c.Name + " (local)"
	}
	return c.Name
}

// Member is the routable identity of a node. Members are equal if their names are equal.
type Member struct {
	Name string `json:"name" yaml:"name"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Address returns host:port. Members without port are unix sockets, Host is the path.
func (m Member) Address() string {
	if m.Port == 0 {
		return m.Host
	}
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

func (m Member) String() string {
	return fmt.Sprintf("%s@%s", m.Name, m.Address())
}

// ParseMember parses "name@host:port". Without a name part the address is used as name.
func ParseMember(s string) (Member, error) {
	name, addr, found := strings.Cut(s, "@")
	if !found {
		addr = name
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Member{}, fmt.Errorf("invalid member %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Member{}, fmt.Errorf("invalid port in member %q: %w", s, err)
	}
	return Member{Name: name, Host: host, Port: port}, nil
}

// View is a snapshot of the member set of one cluster
type View struct {
	ClusterName string   `json:"cluster_name"`
	Members     []Member `json:"members"`
}

// NewView creates a view, dropping members with duplicate names and sorting by name
func NewView(clusterName string, members ...Member) View {
	seen := make(map[string]struct{}, len(members))
	unique := make([]Member, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		unique = append(unique, m)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Name < unique[j].Name })
	return View{ClusterName: clusterName, Members: unique}
}

// Contains reports whether a member with the given name is part of the view
func (v View) Contains(name string) bool {
	_, ok := v.Member(name)
	return ok
}

// Member looks up a member by name
func (v View) Member(name string) (Member, bool) {
	for _, m := range v.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// Names returns the member names in view order
func (v View) Names() []string {
	names := make([]string, len(v.Members))
	for i, m := range v.Members {
		names[i] = m.Name
	}
	return names
}

// Diff returns the members only in next (joined) and only in v (left)
func (v View) Diff(next View) (joined, left []Member) {
	for _, m := range next.Members {
		if !v.Contains(m.Name) {
			joined = append(joined, m)
		}
	}
	for _, m := range v.Members {
		if !next.Contains(m.Name) {
			left = append(left, m)
		}
	}
	return joined, left
}

// Equal reports whether both views hold the same member names
func (v View) Equal(other View) bool {
	return PercentageOfChange(v, other) == 0
}

// PercentageOfChange returns |a Δ b| / |a ∪ b| in percent (0..100).
// Members are compared by name. Two empty views have 0% change.
func PercentageOfChange(a, b View) float64 {
	union := make(map[string]int, len(a.Members)+len(b.Members))
	for _, m := range a.Members {
		union[m.Name] |= 1
	}
	for _, m := range b.Members {
		union[m.Name] |= 2
	}
	if len(union) == 0 {
		return 0
	}

	changed := 0
	for _, mask := range union {
		if mask != 3 {
			changed++
		}
	}
	return float64(changed) / float64(len(union)) * 100
}

// NodeConfiguration is what a node publishes about itself when it joins its cluster
type NodeConfiguration struct {
	Name         string    `json:"name"`
	Cluster      string    `json:"cluster"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	AdminAddress string    `json:"admin_address,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Member returns the routable identity of the configured node
func (c NodeConfiguration) Member() Member {
	return Member{Name: c.Name, Host: c.Host, Port: c.Port}
}
