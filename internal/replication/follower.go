package replication

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nsblast/nsblast/internal/replication/rpc"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/xlog"
)

// ackInterval is how often a follower sends a liveness ack back upstream.
const ackInterval = 10 * time.Second

// Follower connects to a primary and applies its replication stream.
type Follower struct {
	ID         string
	Address    string
	AuthHash   string
	AuthSeed   string
	eng        *engine.Engine
	lastApplied uint64
}

// NewFollower returns a Follower writing updates into eng.
func NewFollower(id, address, authHash, authSeed string, eng *engine.Engine) *Follower {
	return &Follower{ID: id, Address: address, AuthHash: authHash, AuthSeed: authSeed, eng: eng}
}

// Run dials the primary and applies its stream until ctx is cancelled or
// the stream errors (the caller is expected to retry/reconnect on error,
// matching the notifier/slave packages' own retry conventions).
func (f *Follower) Run(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, f.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return xlog.New("dial primary").Base(err).WithKind(xlog.KindInternal)
	}
	defer conn.Close()

	client := rpc.NewReplicationServiceClient(conn)
	stream, err := client.Replicate(ctx)
	if err != nil {
		return xlog.New("open replicate stream").Base(err).WithKind(xlog.KindInternal)
	}

	if err := stream.Send(&rpc.StreamRequest{
		FollowerID: f.ID,
		AuthHash:   f.AuthHash,
		AuthSeed:   f.AuthSeed,
		SinceTrxID: f.lastApplied,
	}); err != nil {
		return xlog.New("send initial follower request").Base(err).WithKind(xlog.KindInternal)
	}

	ticker := time.NewTicker(ackInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stream.Send(&rpc.StreamRequest{FollowerID: f.ID, AckedTrxID: f.lastApplied})
			}
		}
	}()

	for {
		update, err := stream.Recv()
		if err != nil {
			return xlog.New("receive replication update").Base(err).WithKind(xlog.KindInternal)
		}
		if err := f.apply(update); err != nil {
			xlog.New("apply replication update").Base(err).AtError().WriteToLog()
			continue
		}
		f.lastApplied = update.TrxID
	}
}

func (f *Follower) apply(update *rpc.ZoneUpdate) error {
	txn, err := f.eng.Begin(true)
	if err != nil {
		return err
	}
	cat := engine.Category(update.Category)
	switch update.Op {
	case rpc.OpPut:
		err = txn.Put(cat, update.Key, update.Value, false)
	case rpc.OpDelete:
		err = txn.Delete(cat, update.Key)
	case rpc.OpDeleteRecursive:
		_, err = txn.DeleteRecursive(cat, update.Key)
	}
	if err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}
