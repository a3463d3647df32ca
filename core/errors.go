// Copyright 2025 Poiesic Systems
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

// Document pipeline errors
var (
	// ErrUnsupportedFormat indicates the MIME type has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyContent indicates extraction produced no usable text.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrCorruptContent indicates the bytes could not be parsed as the declared format.
	ErrCorruptContent = errors.New("corrupt content")

	// ErrExtractionFailed wraps any failure while turning bytes into text.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingFailed indicates the embedding backend failed for a chunk batch.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrIndexWriteFailed indicates a vector index write did not complete.
	ErrIndexWriteFailed = errors.New("index write failed")

	// ErrIndexReadFailed indicates a vector index query failed.
	ErrIndexReadFailed = errors.New("index read failed")

	// ErrNotFound indicates a document or scope does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPersistenceFailed indicates the durable document record could not be written.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrStorageDeletion indicates the tier holding a document could not remove it.
	ErrStorageDeletion = errors.New("failed to remove document from storage")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidTier indicates an unknown Tier value.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidModelProfile indicates thresholds are not strictly increasing.
	ErrInvalidModelProfile = errors.New("invalid model profile")

	// ErrMissingConversation indicates the conversation id is empty.
	ErrMissingConversation = errors.New("conversation id cannot be empty")

	// ErrMissingUser indicates the user id is empty.
	ErrMissingUser = errors.New("user id cannot be empty")

	// ErrMissingFilename indicates the filename is empty.
	ErrMissingFilename = errors.New("filename cannot be empty")

	// ErrInvalidCheckpoint indicates a checkpoint without a processor type.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)
