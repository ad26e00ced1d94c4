// Package mem is the in-memory storage engine behind core.Group: groups,
// variables, attributes and dimension scales held in process memory.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mem

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/NVIDIA/obsxfer/cmn/cos"
	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
)

// Group is a node of an in-memory tree. All nodes of a tree share one lock,
// so a tree may be handed to several ranks of an in-process world and
// written concurrently (the "parallel I/O" case).
type Group struct {
	mu     *sync.RWMutex
	atts   *Attrs
	groups map[string]*Group
	vars   map[string]*Variable
	name   string
	// shared: create of an existing, identical object returns it instead of
	// failing (every pool rank creates the same objects in a shared file)
	shared bool
}

// interface guard
var _ core.Group = (*Group)(nil)

type Opt func(*Group)

// Shared makes object creation idempotent.
func Shared() Opt { return func(g *Group) { g.shared = true } }

func NewRoot(opts ...Opt) *Group {
	g := newGroup(&sync.RWMutex{}, "/", false)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newGroup(mu *sync.RWMutex, name string, shared bool) *Group {
	return &Group{
		mu:     mu,
		atts:   newAttrs(mu),
		groups: make(map[string]*Group),
		vars:   make(map[string]*Variable),
		name:   name,
		shared: shared,
	}
}

func (g *Group) Name() string            { return g.name }
func (g *Group) Atts() core.Attributes   { return g.atts }
func (g *Group) IsShared() bool          { return g.shared }
func (g *Group) Lock() *sync.RWMutex     { return g.mu }
func splitPath(name string) []string     { return strings.Split(strings.Trim(name, core.PathSep), core.PathSep) }
func joinPath(parent, name string) string { return path.Join(parent, name) }

// walk resolves all but the last path component; create makes missing groups.
func (g *Group) walk(name string, create bool) (*Group, string, error) {
	parts := splitPath(name)
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return nil, "", errors.Errorf("invalid object name %q", name)
	}
	cur := g
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur.groups[p]
		if !ok {
			if !create {
				return nil, "", errors.Errorf("%s: group %q does not exist", g.name, p)
			}
			next = newGroup(g.mu, joinPath(cur.name, p), g.shared)
			cur.groups[p] = next
		}
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}

func (g *Group) HasVar(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	parent, base, err := g.walk(name, false)
	if err != nil {
		return false
	}
	_, ok := parent.vars[base]
	return ok
}

func (g *Group) OpenVar(name string) (core.Variable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	parent, base, err := g.walk(name, false)
	if err != nil {
		return nil, err
	}
	v, ok := parent.vars[base]
	if !ok {
		return nil, errors.Errorf("%s: variable %q does not exist", g.name, name)
	}
	return v, nil
}

func (g *Group) CreateVar(name string, kind dtype.Kind, dims core.Dims, params core.CreateParams) (core.Variable, error) {
	if err := dtype.Check(kind, name); err != nil {
		return nil, err
	}
	if len(dims.Max) == 0 {
		dims.Max = append([]int(nil), dims.Cur...)
	}
	if len(dims.Max) != len(dims.Cur) {
		return nil, cos.NewErrSizeMismatch("variable "+name+" dims rank", len(dims.Cur), len(dims.Max))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	parent, base, err := g.walk(name, true)
	if err != nil {
		return nil, err
	}
	if v, ok := parent.vars[base]; ok {
		if g.shared && v.kind == kind && equalInts(v.dims.Cur, dims.Cur) {
			return v, nil
		}
		return nil, errors.Errorf("%s: variable %q already exists", g.name, name)
	}
	v := newVariable(g.mu, strings.Trim(name, core.PathSep), kind, dims.Clone(), params)
	parent.vars[base] = v
	return v, nil
}

func (g *Group) OpenGroup(name string) (core.Group, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	parent, base, err := g.walk(name, false)
	if err != nil {
		return nil, err
	}
	child, ok := parent.groups[base]
	if !ok {
		return nil, errors.Errorf("%s: group %q does not exist", g.name, name)
	}
	return child, nil
}

func (g *Group) CreateGroup(name string) (core.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	parent, base, err := g.walk(name, true)
	if err != nil {
		return nil, err
	}
	if child, ok := parent.groups[base]; ok {
		if g.shared {
			return child, nil
		}
		return nil, errors.Errorf("%s: group %q already exists", g.name, name)
	}
	child := newGroup(g.mu, joinPath(parent.name, base), g.shared)
	parent.groups[base] = child
	return child, nil
}

func (g *Group) List(otype core.ObjectType, recurse bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	g.list("", otype, recurse, &out)
	sort.Strings(out)
	return out
}

func (g *Group) list(prefix string, otype core.ObjectType, recurse bool, out *[]string) {
	switch otype {
	case core.ObjVariable:
		for name := range g.vars {
			*out = append(*out, prefix+name)
		}
	case core.ObjGroup:
		for name := range g.groups {
			*out = append(*out, prefix+name)
		}
	}
	if !recurse {
		return
	}
	for name, child := range g.groups {
		child.list(prefix+name+core.PathSep, otype, recurse, out)
	}
}

func (g *Group) AttachDimensionScales(batch []core.ScaleAttachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range batch {
		parent, base, err := g.walk(a.Var, false)
		if err != nil {
			return err
		}
		v, ok := parent.vars[base]
		if !ok {
			return errors.Errorf("attach scales: variable %q does not exist", a.Var)
		}
		if len(a.Scales) != len(v.dims.Cur) {
			return cos.NewErrSizeMismatch("attach scales to "+a.Var, len(v.dims.Cur), len(a.Scales))
		}
		for axis, scaleName := range a.Scales {
			sp, sb, err := g.walk(scaleName, false)
			if err != nil {
				return err
			}
			sv, ok := sp.vars[sb]
			if !ok || !sv.isScale {
				return errors.Errorf("attach scales: %q is not a dimension scale", scaleName)
			}
			if sv.dims.Cur[0] != v.dims.Cur[axis] {
				return cos.NewErrSizeMismatch("scale "+scaleName+" vs "+a.Var+" axis", v.dims.Cur[axis], sv.dims.Cur[0])
			}
		}
		v.scales = append(v.scales[:0], a.Scales...)
	}
	return nil
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
