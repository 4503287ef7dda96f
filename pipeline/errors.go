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


package pipeline

import "errors"

var (
	// ErrRegistryRequired is returned when no source registry is provided.
	ErrRegistryRequired = errors.New("source registry is required")

	// ErrStateRequired is returned when no state store is provided.
	ErrStateRequired = errors.New("state store is required")

	// ErrStagingRequired is returned when no staging store is provided.
	ErrStagingRequired = errors.New("staging store is required")

	// ErrKnowledgeBaseRequired is returned when no knowledge base store is provided.
	ErrKnowledgeBaseRequired = errors.New("knowledge base store is required")

	// ErrSchemaRequired is returned when no validation schema is provided.
	ErrSchemaRequired = errors.New("validation schema is required")
)
