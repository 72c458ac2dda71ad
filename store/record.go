package store

// Audit field names written on mapping documents when audit is enabled.
const (
	FieldCreatedAt = "createdAt"
	FieldCreatedBy = "createdBy"
	FieldUpdatedAt = "updatedAt"
	FieldUpdatedBy = "updatedBy"
)

// Record is a stored document and its identity.
//
// Data is a map[string]any or a non-empty []any whose leaves are values the
// codec package recognizes. For mapping documents Data[IDField] mirrors ID.
// A sequence has no slot for an id, so ID is the only place it lives.
type Record struct {
	ID   string
	Data any
}

// Map returns Data as a mapping, or nil if the record is a sequence.
func (r *Record) Map() map[string]any {
	m, _ := r.Data.(map[string]any)
	return m
}

// WriteOption configures Save and Upsert.
type WriteOption func(*writeOptions)

type writeOptions struct {
	auditUser string
}

// WithAuditUser sets the user recorded in createdBy or updatedBy.
func WithAuditUser(user string) WriteOption {
	return func(o *writeOptions) {
		o.auditUser = user
	}
}

// FindOption configures FindAll.
type FindOption func(*findOptions)

type findOptions struct {
	reverse bool
}

// Reverse pages through the index from the highest score down.
func Reverse() FindOption {
	return func(o *findOptions) {
		o.reverse = true
	}
}
