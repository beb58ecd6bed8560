package models

import (
	"sort"
	"strings"
)

// ConversationKey derives the partition key for a 1:1 conversation.
// The result is identical regardless of argument order.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
