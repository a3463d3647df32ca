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

// Package documents is the upload and retrieval front door.
//
// An upload is extracted to text, measured in tokens and classified into a
// tier against the target model's context budget:
//
//   - inline: the full text joins the conversation's inline context
//   - short-lived: chunks are indexed in the conversation's temporary scope for 7 days
//   - long-lived: chunks are indexed in the user's persistent scope for 30 days
//
// Every stored document gets a durable record so it can be listed, deleted
// and expired later. Retrieval runs hybrid dense and lexical search over both
// scopes and BuildContext renders the result for a prompt.
package documents
