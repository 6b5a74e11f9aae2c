// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storage holds the registry of process definitions and the records of ended process
// instances. Live instances stay in the engine.
//
// Implementations must:
//   - return ErrNotFound when a single definition or instance is looked up and does not exist
//   - return an empty slice when a lookup for many results finds nothing
package storage
