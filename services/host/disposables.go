// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"context"
	"errors"
	"sync"
)

// Disposable releases a resource at deactivation.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// DisposableFunc adapts a function to Disposable.
type DisposableFunc func(ctx context.Context) error

// Dispose calls f.
func (f DisposableFunc) Dispose(ctx context.Context) error {
	return f(ctx)
}

// Disposables is the disposal registry.
//
// Items are disposed in reverse registration order. Items added after
// Dispose are disposed immediately.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Disposables struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// NewDisposables returns an empty registry.
func NewDisposables() *Disposables {
	return &Disposables{}
}

// Add registers items. Nil items are skipped.
//
// Returns the error from disposing items immediately when the registry was
// already disposed.
func (d *Disposables) Add(ctx context.Context, items ...Disposable) error {
	d.mu.Lock()
	if !d.disposed {
		for _, item := range items {
			if item != nil {
				d.items = append(d.items, item)
			}
		}
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] == nil {
			continue
		}
		if err := items[i].Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered items.
func (d *Disposables) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Dispose releases every item, last registered first.
//
// Every item is disposed even when some fail; failures are joined.
// Subsequent calls return nil.
func (d *Disposables) Dispose(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	items := d.items
	d.items = nil
	d.mu.Unlock()

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
