package e2ee

import "gorm.io/gorm/clause"

// lockingClause requests a FOR UPDATE row lock on the device row before a
// bundle upload or revocation, so concurrent uploads/revokes on the same
// device serialize instead of racing on BundleVersion/Status.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
