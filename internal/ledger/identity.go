package ledger

// Identity is an opaque principal identifier: a public-key-derived address,
// a user id, whatever the caller's authentication layer produces. The ledger
// only ever compares and stores identities; it never inspects their contents.
type Identity string

// NoIdentity is the zero Identity. It is never a valid principal.
const NoIdentity Identity = ""

// Valid reports whether the identity is non-empty.
func (id Identity) Valid() bool { return id != NoIdentity }

func (id Identity) String() string { return string(id) }
