package dynamo

// Attribute names shared by key builders, conditions and update expressions.
const (
	fieldEmail     = "email"
	fieldVerified  = "verified"
	fieldUpdatedAt = "updated_at"
	fieldRevision  = "revision"
	fieldTTL       = "ttl"
)
