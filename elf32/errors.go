// Copyright 2024 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elf32

import (
	"errors"
	"fmt"
)

var (
	ErrSizeMismatch         = errors.New("byte range exceeds its source")
	ErrUnresolved           = errors.New("value not yet resolved")
	ErrNoStringTable        = errors.New(".strtab string table not yet created")
	ErrNoSectionStringTable = errors.New("section header string table not yet created")
	ErrDuplicateTable       = errors.New("string tables already created")
	ErrFrozen               = errors.New("model already resolved")
	ErrName                 = errors.New("name is not 7-bit ASCII")
	ErrSymbolOrder          = errors.New("local symbol after global symbol")
	ErrTooManySections      = errors.New("too many sections")
)

// resolved holds a value that is computed by one of the layout phases.
// Reading it before the phase ran fails with ErrUnresolved.
type resolved[T any] struct {
	v  T
	ok bool
}

func (r *resolved[T]) set(v T) {
	r.v, r.ok = v, true
}

func (r *resolved[T]) get(what string) (v T, err error) {
	if !r.ok {
		return v, fmt.Errorf("%s: %w", what, ErrUnresolved)
	}
	return r.v, nil
}
