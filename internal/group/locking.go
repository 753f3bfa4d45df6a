package group

import "gorm.io/gorm/clause"

// lockingClause requests a FOR UPDATE row lock on the group row before a
// membership-affecting operation, so concurrent add/remove/ban/unban
// calls serialize and the epoch bump never races.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
