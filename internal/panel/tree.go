package panel

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/webgis/internal/catalog"
)

// Tree errors.
var (
	ErrCycle        = errors.New("layer group hierarchy contains a cycle")
	ErrUnknownGroup = errors.New("unknown layer group")
	ErrUnknownLayer = errors.New("unknown layer")
)

// Node is a layer group with its nested groups and layers.
type Node struct {
	Group    catalog.LayerGroup
	Children []*Node
	Layers   []catalog.Layer
	Count    int
	Expanded bool
}

// Tree is the layer metadata tree. Layers without a known group sit at the
// root after the groups.
type Tree struct {
	Root    []*Node
	Orphans []catalog.Layer

	groups map[string]*Node
	parent map[string]string // group id -> parent group id
	owner  map[string]string // layer id -> group id
	// Fixture is set when the tree was built from the offline fixtures.
	Fixture bool
}

// BuildTree nests groups by parent id and places layers in their groups.
// Siblings are ordered by display order, then label. A group whose parent is
// unknown is attached at the root.
func BuildTree(groups []catalog.LayerGroup, layers []catalog.Layer) (*Tree, error) {
	t := &Tree{
		groups: make(map[string]*Node, len(groups)),
		parent: make(map[string]string, len(groups)),
		owner:  make(map[string]string, len(layers)),
	}

	for _, g := range groups {
		if _, dup := t.groups[g.ID]; dup {
			return nil, fmt.Errorf("duplicate layer group %q", g.ID)
		}
		t.groups[g.ID] = &Node{Group: g, Expanded: g.IsExpanded}
	}

	for _, g := range groups {
		if g.ParentGroupID == nil || *g.ParentGroupID == "" {
			continue
		}
		pid := *g.ParentGroupID
		if _, ok := t.groups[pid]; !ok {
			log.Warn().Str("group", g.ID).Str("parent", pid).Msg("Layer group parent not found, attaching at root")
			continue
		}
		t.parent[g.ID] = pid
	}

	if err := t.checkCycles(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		n := t.groups[g.ID]
		if pid, ok := t.parent[g.ID]; ok {
			p := t.groups[pid]
			p.Children = append(p.Children, n)
		} else {
			t.Root = append(t.Root, n)
		}
	}

	for _, l := range layers {
		if l.GroupID != nil {
			if n, ok := t.groups[*l.GroupID]; ok {
				n.Layers = append(n.Layers, l)
				t.owner[l.ID] = n.Group.ID
				continue
			}
			log.Warn().Str("layer", l.ID).Str("group", *l.GroupID).Msg("Layer group not found, placing layer at root")
		}
		t.Orphans = append(t.Orphans, l)
	}

	t.sortAll()
	t.recount()
	return t, nil
}

func (t *Tree) checkCycles() error {
	for id := range t.groups {
		seen := map[string]bool{id: true}
		for cur := id; ; {
			pid, ok := t.parent[cur]
			if !ok {
				break
			}
			if seen[pid] {
				return fmt.Errorf("%w: %s", ErrCycle, id)
			}
			seen[pid] = true
			cur = pid
		}
	}
	return nil
}

func (t *Tree) sortAll() {
	sortNodes(t.Root)
	sortLayers(t.Orphans)
	for _, n := range t.groups {
		sortNodes(n.Children)
		sortLayers(n.Layers)
	}
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Group, nodes[j].Group
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return strings.ToLower(a.Label()) < strings.ToLower(b.Label())
	})
}

func sortLayers(layers []catalog.Layer) {
	sort.SliceStable(layers, func(i, j int) bool {
		a, b := layers[i], layers[j]
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return strings.ToLower(a.Label()) < strings.ToLower(b.Label())
	})
}

func (t *Tree) recount() {
	var count func(n *Node) int
	count = func(n *Node) int {
		total := len(n.Layers)
		for _, c := range n.Children {
			total += count(c)
		}
		n.Count = total
		n.Group.LayerCount = total
		return total
	}
	for _, n := range t.Root {
		count(n)
	}
}

// Group returns the node of a group.
func (t *Tree) Group(id string) (*Node, bool) {
	n, ok := t.groups[id]
	return n, ok
}

// Expand opens a group.
func (t *Tree) Expand(id string) error {
	n, ok := t.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	n.Expanded = true
	return nil
}

// Collapse closes a group.
func (t *Tree) Collapse(id string) error {
	n, ok := t.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	n.Expanded = false
	return nil
}

// Toggle flips a group and returns the new state.
func (t *Tree) Toggle(id string) (bool, error) {
	n, ok := t.groups[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	n.Expanded = !n.Expanded
	return n.Expanded, nil
}

// Move re-parents a layer. An empty groupID moves it to the root. The new
// placement lives only in this tree.
func (t *Tree) Move(layerID, groupID string) error {
	var target *Node
	if groupID != "" {
		n, ok := t.groups[groupID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		}
		target = n
	}

	l, ok := t.takeLayer(layerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, layerID)
	}

	if target == nil {
		l.GroupID = nil
		t.Orphans = append(t.Orphans, l)
		delete(t.owner, layerID)
		sortLayers(t.Orphans)
	} else {
		gid := target.Group.ID
		l.GroupID = &gid
		target.Layers = append(target.Layers, l)
		t.owner[layerID] = gid
		sortLayers(target.Layers)
	}

	t.recount()
	return nil
}

// MoveGroup re-parents a group. Moving a group under itself or one of its
// descendants is rejected.
func (t *Tree) MoveGroup(groupID, parentID string) error {
	n, ok := t.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if parentID != "" {
		if _, ok := t.groups[parentID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, parentID)
		}
		for cur := parentID; cur != ""; cur = t.parent[cur] {
			if cur == groupID {
				return fmt.Errorf("%w: %s under %s", ErrCycle, groupID, parentID)
			}
		}
	}

	if pid, ok := t.parent[groupID]; ok {
		p := t.groups[pid]
		p.Children = removeNode(p.Children, n)
	} else {
		t.Root = removeNode(t.Root, n)
	}

	if parentID == "" {
		delete(t.parent, groupID)
		n.Group.ParentGroupID = nil
		t.Root = append(t.Root, n)
		sortNodes(t.Root)
	} else {
		t.parent[groupID] = parentID
		pid := parentID
		n.Group.ParentGroupID = &pid
		p := t.groups[parentID]
		p.Children = append(p.Children, n)
		sortNodes(p.Children)
	}

	t.recount()
	return nil
}

func (t *Tree) takeLayer(id string) (catalog.Layer, bool) {
	if gid, ok := t.owner[id]; ok {
		n := t.groups[gid]
		for i, l := range n.Layers {
			if l.ID == id {
				n.Layers = append(n.Layers[:i], n.Layers[i+1:]...)
				return l, true
			}
		}
	}
	for i, l := range t.Orphans {
		if l.ID == id {
			t.Orphans = append(t.Orphans[:i], t.Orphans[i+1:]...)
			return l, true
		}
	}
	return catalog.Layer{}, false
}

func removeNode(nodes []*Node, n *Node) []*Node {
	for i, c := range nodes {
		if c == n {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}

// Visit is one rendered row of the tree.
type Visit struct {
	Group *Node
	Layer *catalog.Layer
	Depth int
}

// Walk calls fn for every visible row in render order: each group, then its
// nested groups and layers when expanded, and finally the root layers.
func (t *Tree) Walk(fn func(Visit)) {
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		fn(Visit{Group: n, Depth: depth})
		if !n.Expanded {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
		for i := range n.Layers {
			fn(Visit{Layer: &n.Layers[i], Depth: depth + 1})
		}
	}

	for _, n := range t.Root {
		walk(n, 0)
	}
	for i := range t.Orphans {
		fn(Visit{Layer: &t.Orphans[i]})
	}
}
