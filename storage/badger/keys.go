package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Key prefixes for different data types
const (
	documentRecordPrefix = "docrec"
	documentConvPrefix   = "docconv"
	documentHashPrefix   = "dochash"
	documentExpiryPrefix = "docexp"
)

// makeDocumentKey generates a key for a document record by ID.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentRecordPrefix, id))
}

// makeConversationKey generates a composite key for the conversation index.
// Format: prefix:conversationID:documentID
func makeConversationKey(conversationID, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", documentConvPrefix, conversationID, id))
}

// makePartialConversationKey generates the prefix shared by a conversation's index keys.
func makePartialConversationKey(conversationID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", documentConvPrefix, conversationID))
}

// makeHashKey generates a composite key for content-hash lookup.
// Format: prefix:conversationID:hash
func makeHashKey(conversationID, hash string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", documentHashPrefix, conversationID, hash))
}

// makeExpiryKey generates a composite key for the expiry index.
// Format: prefix:expiresAt:documentID
func makeExpiryKey(expiresAt time.Time, id string) []byte {
	prefix := []byte(documentExpiryPrefix + ":")
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(expiresAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makePartialExpiryKey generates a partial key for expiry range scans.
func makePartialExpiryKey(expiresAt time.Time) []byte {
	prefix := []byte(documentExpiryPrefix + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(expiresAt.UnixMicro()))
	return buf
}

// makeCheckpointKey generates a key for processor checkpoints.
func makeCheckpointKey(processorType string) []byte {
	return []byte(fmt.Sprintf("%s:chkpt", processorType))
}
