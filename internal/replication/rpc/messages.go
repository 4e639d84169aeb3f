package rpc

// Op identifies the kind of storage mutation a ZoneUpdate carries.
type Op int

const (
	OpPut Op = iota
	OpDelete
	OpDeleteRecursive
)

// ZoneUpdate is one replicated storage mutation, sent primary -> follower.
// Category/Key/Value mirror storage/engine.Category and the raw key/value
// bytes storage/key and storage/codec produce, so a follower can replay a
// ZoneUpdate with a single Txn.Put/Delete/DeleteRecursive call without
// re-deriving anything.
type ZoneUpdate struct {
	TrxID    uint64
	Op       Op
	Category string
	Key      []byte
	Value    []byte
}

// StreamRequest is sent follower -> primary: once to open the stream
// (carrying auth and the follower's last-applied trxid, so the primary
// knows where to resume), and periodically afterward as a
// low-trxid-bearing ack.
type StreamRequest struct {
	FollowerID  string
	AuthHash    string
	AuthSeed    string
	SinceTrxID  uint64
	AckedTrxID  uint64
}
