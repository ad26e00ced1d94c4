// Package mem is the in-memory storage engine behind core.Group: groups,
// variables, attributes and dimension scales held in process memory.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package mem

import (
	"sync"

	"github.com/NVIDIA/obsxfer/core"
	"github.com/NVIDIA/obsxfer/dtype"

	"github.com/pkg/errors"
)

type Attrs struct {
	mu    *sync.RWMutex
	vals  map[string]dtype.Vector
	names []string
}

// interface guard
var _ core.Attributes = (*Attrs)(nil)

func newAttrs(mu *sync.RWMutex) *Attrs {
	return &Attrs{mu: mu, vals: make(map[string]dtype.Vector)}
}

func (a *Attrs) Names() []string {
	a.mu.RLock()
	names := append([]string(nil), a.names...)
	a.mu.RUnlock()
	return names
}

func (a *Attrs) Get(name string) (v dtype.Vector, ok bool) {
	a.mu.RLock()
	v, ok = a.vals[name]
	a.mu.RUnlock()
	return
}

func (a *Attrs) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Set adds or overwrites an attribute.
func (a *Attrs) Set(name string, v dtype.Vector) error {
	if name == "" {
		return errors.New("attribute name is empty")
	}
	if v == nil {
		return errors.Errorf("attribute %q: nil value", name)
	}
	a.mu.Lock()
	if _, ok := a.vals[name]; !ok {
		a.names = append(a.names, name)
	}
	a.vals[name] = v
	a.mu.Unlock()
	return nil
}
