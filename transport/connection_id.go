package transport

import "github.com/google/uuid"

// connectionIDLength is the size this endpoint issues its own connection
// IDs at. RFC 9000 §5.1 allows 0-20 bytes and requires accepting any length
// the peer chooses; 8 bytes is a conservative middle ground that still
// leaves room for a stateless-reset token scheme that hashes it.
const connectionIDLength = 8

// NewConnectionID generates a fresh connection ID for this endpoint to
// issue, spec.md §6. Grounded on the teacher's common/uuid.New: a random
// v4 UUID's bytes make an unguessable identifier, here truncated to
// connectionIDLength since QUIC connection IDs are capped at 20 bytes and
// callers rarely want the full 16.
func NewConnectionID() []byte {
	id := uuid.New()
	b, _ := id.MarshalBinary()
	return b[:connectionIDLength]
}

// connIDs tracks the connection IDs this endpoint has issued to its peer
// (via NEW_CONNECTION_ID) so a later RETIRE_CONNECTION_ID can be checked
// against a real outstanding set instead of accepted blindly.
type connIDs struct {
	issued  map[string][]byte
	nextSeq uint64
}

func newConnIDs() *connIDs {
	return &connIDs{issued: make(map[string][]byte)}
}

// Issue generates and records a new connection ID, returning it along with
// the sequence number to send in the NEW_CONNECTION_ID frame.
func (c *connIDs) Issue() (id []byte, seq uint64) {
	id = NewConnectionID()
	seq = c.nextSeq
	c.nextSeq++
	c.issued[string(id)] = id
	return id, seq
}

// Retire removes id from the outstanding set, reporting whether it had
// been issued. Retiring an unknown ID is a peer protocol violation the
// caller should turn into a connection close.
func (c *connIDs) Retire(id []byte) bool {
	key := string(id)
	if _, ok := c.issued[key]; !ok {
		return false
	}
	delete(c.issued, key)
	return true
}

// Outstanding reports how many issued connection IDs have not been
// retired yet.
func (c *connIDs) Outstanding() int { return len(c.issued) }
