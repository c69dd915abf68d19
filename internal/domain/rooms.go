package domain

// UserRoom is the implicit personal room every connection joins, used for
// direct-to-user delivery.
func UserRoom(userID string) string {
	return "user:" + userID
}

// ConversationRoom scopes relay of a conversation's events to its members.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}
