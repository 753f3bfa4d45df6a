package private

import "gorm.io/gorm/clause"

// lockingClause requests a FOR UPDATE row lock on the conversation row
// before a status transition or read-cursor update, so concurrent
// accept/reject/read calls on the same conversation serialize.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
