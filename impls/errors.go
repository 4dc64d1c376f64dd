// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import "github.com/pkg/errors"

// ErrActionOutOfDomain is returned by Action.Apply when the action's
// preconditions do not hold for the given hole: shape divisibility, level
// compatibility or a feature gate. It is always recoverable -- the caller
// simply does not take the branch.
//
// Actions returned by Hole.Actions under the same ParentSummary and Settings
// never fail this way; if one does, that is an engine bug.
var ErrActionOutOfDomain = errors.New("action out of domain")

// ErrSplitNotSupportedByHead is returned when splitting a composed pipeline
// at its head stage is structurally impossible for the head's kind, as
// opposed to a parameter-domain violation. Recoverable: try a different
// decomposition.
var ErrSplitNotSupportedByHead = errors.New("split not supported by head stage")
