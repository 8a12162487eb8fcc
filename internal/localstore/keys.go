package localstore

import "fmt"

// Persisted key layout shared by the change log, send queue, and draft
// contexts. Kept in one place so every consumer addresses the same rows.

// ChangesKey is the per-document ordered change log.
func ChangesKey(documentID string) string {
	return "changes-" + documentID
}

// SendQueueKey is the cross-document outbound queue of committed changes.
const SendQueueKey = "awe-send-queue"

// ContextKey is the last-saved draft context for one editing session.
func ContextKey(documentID, actionID string) string {
	return fmt.Sprintf("context-%s-%s", actionID, documentID)
}

// TypeKey is a cached document type definition.
func TypeKey(typeID string) string {
	return "type-" + typeID
}
