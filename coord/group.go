package coord

import (
	"slices"
	"sync"

	"github.com/Swind/go-progress-engine/core"
)

// Destroyer is implemented by instances that release resources.
type Destroyer interface {
	Destroy()
}

// Group holds named instances for bulk updates and aggregates.
type Group struct {
	mu      sync.RWMutex
	members map[string]Instance
	order   []string
	logger  core.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger core.Logger) *Group {
	return &Group{
		members: make(map[string]Instance),
		logger:  core.WithComponent(logger, "progress_group"),
	}
}

// Add adds or replaces a member.
func (g *Group) Add(id string, inst Instance) {
	if inst == nil {
		g.logger.Warn("ignoring nil instance", core.F("id", id))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.members[id]; !exists {
		g.order = append(g.order, id)
	}
	g.members[id] = inst
}

// Remove drops a member and reports whether it existed.
func (g *Group) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.members[id]; !exists {
		return false
	}
	delete(g.members, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
	return true
}

// Get returns the member with the given id.
func (g *Group) Get(id string) (Instance, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	inst, ok := g.members[id]
	return inst, ok
}

// IDs returns member ids in insertion order.
func (g *Group) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

func (g *Group) snapshot() []Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Instance, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.members[id])
	}
	return out
}

// SetAll sets every member to v.
func (g *Group) SetAll(v float64, animated bool) {
	for _, inst := range g.snapshot() {
		inst.SetValue(v, animated)
	}
}

// IncrementAll adds delta to every member.
func (g *Group) IncrementAll(delta float64, animated bool) {
	for _, inst := range g.snapshot() {
		inst.SetValue(inst.Value()+delta, animated)
	}
}

// ResetAll sets every member to 0 without animation.
func (g *Group) ResetAll() {
	g.SetAll(0, false)
}

// DestroyAll destroys every member that supports it and empties the group.
func (g *Group) DestroyAll() {
	g.mu.Lock()
	members := make([]Instance, 0, len(g.order))
	for _, id := range g.order {
		members = append(members, g.members[id])
	}
	g.members = make(map[string]Instance)
	g.order = nil
	g.mu.Unlock()

	for _, inst := range members {
		if d, ok := inst.(Destroyer); ok {
			d.Destroy()
		}
	}
}

// Sum returns the total of member values.
func (g *Group) Sum() float64 {
	var sum float64
	for _, inst := range g.snapshot() {
		sum += inst.Value()
	}
	return sum
}

// Average returns the mean member value, or 0 for an empty group.
func (g *Group) Average() float64 {
	members := g.snapshot()
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, inst := range members {
		sum += inst.Value()
	}
	return sum / float64(len(members))
}

// Max returns the largest member value, or 0 for an empty group.
func (g *Group) Max() float64 {
	return g.fold(func(a, b float64) float64 { return max(a, b) })
}

// Min returns the smallest member value, or 0 for an empty group.
func (g *Group) Min() float64 {
	return g.fold(func(a, b float64) float64 { return min(a, b) })
}

func (g *Group) fold(pick func(a, b float64) float64) float64 {
	members := g.snapshot()
	if len(members) == 0 {
		return 0
	}
	out := members[0].Value()
	for _, inst := range members[1:] {
		out = pick(out, inst.Value())
	}
	return out
}
