package mute

import "gorm.io/gorm/clause"

// gormLockingClause requests a FOR UPDATE row lock so concurrent
// add/remove-muted-user calls for the same user serialize instead of
// losing an update.
func gormLockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
