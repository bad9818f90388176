package ledger

// Observer receives notifications after a mutation has committed. Delivery
// is synchronous and fire-and-forget: observers must not block, and their
// behavior never affects ledger correctness.
type Observer interface {
	OnRecordAdded(e RecordEvent)
	OnRecordUpdated(e RecordEvent)
	OnRecordDeactivated(e RecordEvent)
	OnProviderAuthorized(e ProviderEvent)
	OnProviderRevoked(e ProviderEvent)
	OnAccessLogged(e AccessEvent)
}

// RecordEvent carries the record entry a notification is about. For
// OnRecordDeactivated the entry is the superseded one, already inactive.
type RecordEvent struct {
	Entry RecordEntry
	Actor Identity
}

// ProviderEvent carries an authorization-set change.
type ProviderEvent struct {
	Provider Identity
	Actor    Identity // the owner who made the change
}

// AccessEvent carries an explicitly logged access.
type AccessEvent struct {
	Entry AuditEntry
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the notifications you care about.
type NopObserver struct{}

func (NopObserver) OnRecordAdded(RecordEvent)           {}
func (NopObserver) OnRecordUpdated(RecordEvent)         {}
func (NopObserver) OnRecordDeactivated(RecordEvent)     {}
func (NopObserver) OnProviderAuthorized(ProviderEvent)  {}
func (NopObserver) OnProviderRevoked(ProviderEvent)     {}
func (NopObserver) OnAccessLogged(AccessEvent)          {}
