// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package ptr converts between values and the optional pointer fields of API payloads.
package ptr

// To returns a pointer to the given value.
func To[T any](v T) *T {
	return &v
}

// Deref dereferences p and returns the value it points to if not nil, or else returns def.
func Deref[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}
