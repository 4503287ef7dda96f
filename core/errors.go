// Copyright 2025 Cloudlint Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Domain errors shared across packages.
var (
	// ErrInvalidRegistry indicates the source registry failed structural
	// validation. This is the only error fatal to a run.
	ErrInvalidRegistry = errors.New("invalid source registry")

	// ErrDuplicateSourceID indicates two registry entries share an id.
	ErrDuplicateSourceID = errors.New("duplicate source id")

	// ErrUnknownSourceType indicates a registry entry names a type with no
	// registered fetcher.
	ErrUnknownSourceType = errors.New("unknown source type")

	// ErrStateCorrupt indicates the state file could not be decoded. The
	// state store backs the file up and continues with defaults.
	ErrStateCorrupt = errors.New("state file corrupt")

	// ErrDuplicateID indicates a promote target partition already contains
	// the recommendation's identifier. The casing is part of the reported
	// message ("Duplicate ID: <id>").
	ErrDuplicateID = errors.New("Duplicate ID")

	// ErrNotStaged indicates no staged entry exists for the given id.
	ErrNotStaged = errors.New("staged entry not found")

	// ErrMissingService indicates a recommendation has no service name and
	// cannot be routed to a knowledge-base partition.
	ErrMissingService = errors.New("recommendation has no service name")
)
