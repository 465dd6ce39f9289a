package cache

import "fmt"

// Key schema against the shared store:
// - docKey:     document state blob {kind, value, version}, bounded TTL
// - historyKey: bounded list of applied-operation blobs, newest first
// - sessionKey: hash userID -> participant blob
// Lock keys live in the lock package; presence mirrors in presence.

const (
	keyDocFmt     = "doc:%s:%s:%s"
	keyHistoryFmt = "history:%s:%s:%s"
	keySessionFmt = "session:%s:%s:%s"
)

func docKey(resourceType, resourceID, fieldName string) string {
	return fmt.Sprintf(keyDocFmt, resourceType, resourceID, fieldName)
}

func historyKey(resourceType, resourceID, fieldName string) string {
	return fmt.Sprintf(keyHistoryFmt, resourceType, resourceID, fieldName)
}

func sessionKey(resourceType, resourceID, fieldName string) string {
	return fmt.Sprintf(keySessionFmt, resourceType, resourceID, fieldName)
}
