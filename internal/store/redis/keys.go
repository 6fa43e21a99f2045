package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark record keys (JSON string)
	KeyPrefixBookmark = "marksync:bookmark:"
	// KeyPrefixUser is the prefix for per-user index keys
	KeyPrefixUser = "marksync:user:"
	// KeyPrefixChanges is the prefix for per-user change channels
	KeyPrefixChanges = "marksync:changes:"
	// KeySessionToken holds the persisted session credential
	KeySessionToken = "marksync:session:token"
)

// BookmarkKey returns the Redis key for a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// UserBookmarksKey returns the sorted set of a user's bookmark IDs, scored by
// creation time in milliseconds
func UserBookmarksKey(userID string) string {
	return KeyPrefixUser + userID + ":bookmarks"
}

// ChangesChannel returns the pub/sub channel carrying a user's changes
func ChangesChannel(userID string) string {
	return KeyPrefixChanges + userID
}
