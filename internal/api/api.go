// Package api implements the operations spec.md §6's REST admin surface
// needs ("consumed, not specified here") as a plain Go interface over the
// storage engine (C4) and slave client (C8), with no HTTP, JSON, or
// authentication of its own — those stay the external collaborator
// spec.md §1 names. cmd/nsblastd wires a minimal net/http mux on top.
package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/nsblast/nsblast/internal/slave"
	"github.com/nsblast/nsblast/internal/storage/codec"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/wire"
	"github.com/nsblast/nsblast/internal/xlog"
)

// ZoneInfo summarizes a served zone for listing.
type ZoneInfo struct {
	Apex   string
	Serial uint32
}

// BackupInfo describes one stored backup (spec.md §3's BackupMetadata).
type BackupInfo struct {
	UUID      string
	CreatedAt time.Time
	Path      string
	Verified  bool
}

// AdminService is the set of operations the external REST layer needs:
// zone and RRset CRUD, backup lifecycle, and zone-transfer triggering.
// SOA records are passed as a full wire.RR carrying TYPE=SOA rdata;
// everything else the builder needs is decoded from it.
type AdminService interface {
	ListZones(tenant string) ([]ZoneInfo, error)
	GetZone(tenant, apex string) (*ZoneInfo, error)
	CreateZone(tenant, apex string, soa wire.RR) error
	UpdateZone(tenant, apex string, soa wire.RR) error
	DeleteZone(tenant, apex string) error

	ListRRsets(tenant, fqdn string) ([]wire.RR, error)
	GetRRset(tenant, fqdn string, t wire.Type) ([]wire.RR, error)
	CreateRRset(tenant, fqdn string, rrs []wire.RR) error
	DeleteRRset(tenant, fqdn string, t wire.Type) error

	ListBackups() ([]BackupInfo, error)
	CreateBackup() (BackupInfo, error)
	VerifyBackup(id string) (bool, error)
	RestoreBackup(id string) error
	DeleteBackup(id string) error

	TriggerTransfer(tenant, apex string, masters []string) error
}

// Service is the default AdminService, backed directly by the storage
// engine and a slave client for on-demand zone transfers.
type Service struct {
	Eng       *engine.Engine
	Slave     *slave.Client
	BackupDir string

	backups map[string]BackupInfo
}

// NewService returns an AdminService reading/writing eng, recording
// created backups under backupDir.
func NewService(eng *engine.Engine, slaveClient *slave.Client, backupDir string) *Service {
	return &Service{Eng: eng, Slave: slaveClient, BackupDir: backupDir, backups: make(map[string]BackupInfo)}
}

func (s *Service) ListZones(tenant string) ([]ZoneInfo, error) {
	txn, err := s.Eng.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	var out []ZoneInfo
	err = txn.Iterate(engine.CategoryMasterZone, key.ZonePrefix(tenant), func(k, v []byte) (bool, error) {
		_, apex, err := key.DecodeZone(k)
		if err != nil {
			return false, err
		}
		e, err := codec.Parse(v)
		if err != nil {
			return false, err
		}
		out = append(out, ZoneInfo{Apex: apex, Serial: soaSerial(e)})
		return true, nil
	})
	return out, err
}

func (s *Service) GetZone(tenant, apex string) (*ZoneInfo, error) {
	txn, err := s.Eng.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	v, ok, err := txn.Get(engine.CategoryMasterZone, key.EncodeZone(tenant, apex))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xlog.New("zone not found: ", apex).WithKind(xlog.KindNotFound)
	}
	e, err := codec.Parse(v)
	if err != nil {
		return nil, err
	}
	return &ZoneInfo{Apex: apex, Serial: soaSerial(e)}, nil
}

func (s *Service) CreateZone(tenant, apex string, soa wire.RR) error {
	txn, err := s.Eng.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	zk := key.EncodeZone(tenant, apex)

	b := codec.NewEntryBuilder()
	if err := addSOA(b, soa); err != nil {
		return err
	}
	entry, err := b.Finish()
	if err != nil {
		return err
	}
	if err := txn.Put(engine.CategoryMasterZone, zk, entry, true); err != nil {
		return xlog.New("zone already exists: ", apex).Base(err).WithKind(xlog.KindOf(err))
	}
	if err := txn.Put(engine.CategoryEntry, key.EncodeEntry(tenant, apex), entry, true); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Service) UpdateZone(tenant, apex string, soa wire.RR) error {
	txn, err := s.Eng.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	zk := key.EncodeZone(tenant, apex)
	v, ok, err := txn.Get(engine.CategoryMasterZone, zk)
	if err != nil {
		return err
	}
	if !ok {
		return xlog.New("zone not found: ", apex).WithKind(xlog.KindNotFound)
	}
	e, err := codec.Parse(v)
	if err != nil {
		return err
	}
	rb, err := codec.Rebuild(e)
	if err != nil {
		return err
	}
	rb.DropType(wire.TypeSOA)
	if err := addSOA(rb, soa); err != nil {
		return err
	}
	entry, err := rb.Finish()
	if err != nil {
		return err
	}
	if err := txn.Put(engine.CategoryMasterZone, zk, entry, false); err != nil {
		return err
	}
	if err := txn.Put(engine.CategoryEntry, key.EncodeEntry(tenant, apex), entry, false); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Service) DeleteZone(tenant, apex string) error {
	txn, err := s.Eng.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := txn.Delete(engine.CategoryMasterZone, key.EncodeZone(tenant, apex)); err != nil {
		return err
	}
	if _, err := txn.DeleteRecursive(engine.CategoryEntry, key.EntryPrefix(tenant, apex)); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Service) ListRRsets(tenant, fqdn string) ([]wire.RR, error) {
	txn, err := s.Eng.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	v, ok, err := txn.Get(engine.CategoryEntry, key.EncodeEntry(tenant, fqdn))
	if err != nil || !ok {
		return nil, err
	}
	e, err := codec.Parse(v)
	if err != nil {
		return nil, err
	}
	return e.All()
}

func (s *Service) GetRRset(tenant, fqdn string, t wire.Type) ([]wire.RR, error) {
	txn, err := s.Eng.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	v, ok, err := txn.Get(engine.CategoryEntry, key.EncodeEntry(tenant, fqdn))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xlog.New("rrset not found: ", fqdn).WithKind(xlog.KindNotFound)
	}
	e, err := codec.Parse(v)
	if err != nil {
		return nil, err
	}
	rrs, err := e.RRs(t)
	if err != nil {
		return nil, err
	}
	if len(rrs) == 0 {
		return nil, xlog.New("rrset not found: ", fqdn, " ", t.String()).WithKind(xlog.KindNotFound)
	}
	return rrs, nil
}

func (s *Service) CreateRRset(tenant, fqdn string, rrs []wire.RR) error {
	if len(rrs) == 0 {
		return xlog.New("create rrset requires at least one record").WithKind(xlog.KindConstraint)
	}
	txn, err := s.Eng.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	ek := key.EncodeEntry(tenant, fqdn)
	v, ok, err := txn.Get(engine.CategoryEntry, ek)
	if err != nil {
		return err
	}

	var eb *codec.EntryBuilder
	if ok {
		e, err := codec.Parse(v)
		if err != nil {
			return err
		}
		for _, rr := range rrs {
			if existing, err := e.RRs(rr.Type); err == nil && len(existing) > 0 {
				return xlog.New("rrset already exists: ", fqdn, " ", rr.Type.String()).WithKind(xlog.KindAlreadyExists)
			}
		}
		eb, err = codec.Rebuild(e)
		if err != nil {
			return err
		}
	} else {
		eb = codec.NewEntryBuilder()
	}
	for _, rr := range rrs {
		eb.CreateRR(rr)
	}
	entry, err := eb.Finish()
	if err != nil {
		return err
	}
	if err := txn.Put(engine.CategoryEntry, ek, entry, !ok); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Service) DeleteRRset(tenant, fqdn string, t wire.Type) error {
	txn, err := s.Eng.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	ek := key.EncodeEntry(tenant, fqdn)
	v, ok, err := txn.Get(engine.CategoryEntry, ek)
	if err != nil {
		return err
	}
	if !ok {
		return xlog.New("rrset not found: ", fqdn).WithKind(xlog.KindNotFound)
	}
	e, err := codec.Parse(v)
	if err != nil {
		return err
	}
	rb, err := codec.Rebuild(e)
	if err != nil {
		return err
	}
	rb.DropType(t)
	entry, err := rb.Finish()
	if err != nil {
		return err
	}
	if err := txn.Put(engine.CategoryEntry, ek, entry, false); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Service) ListBackups() ([]BackupInfo, error) {
	out := make([]BackupInfo, 0, len(s.backups))
	for _, b := range s.backups {
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) CreateBackup() (BackupInfo, error) {
	id := uuid.New().String()
	dest := s.BackupDir + "/" + id + ".bolt"
	if _, err := s.Eng.Backup(dest); err != nil {
		return BackupInfo{}, err
	}
	info := BackupInfo{UUID: id, CreatedAt: time.Now(), Path: dest}
	s.backups[id] = info
	return info, nil
}

func (s *Service) VerifyBackup(id string) (bool, error) {
	info, ok := s.backups[id]
	if !ok {
		return false, xlog.New("backup not found: ", id).WithKind(xlog.KindNotFound)
	}
	verified, err := engine.Open(info.Path)
	if err != nil {
		return false, nil
	}
	verified.Close()
	info.Verified = true
	s.backups[id] = info
	return true, nil
}

// RestoreBackup is left to the operator: swapping the live engine's db
// file for a backup requires stopping the engine first, a process-level
// action cmd/nsblastd's shutdown/restart sequence owns, not this service.
func (s *Service) RestoreBackup(id string) error {
	if _, ok := s.backups[id]; !ok {
		return xlog.New("backup not found: ", id).WithKind(xlog.KindNotFound)
	}
	return xlog.New("restore requires an offline engine restart, not performed by AdminService").WithKind(xlog.KindDenied)
}

func (s *Service) DeleteBackup(id string) error {
	if _, ok := s.backups[id]; !ok {
		return xlog.New("backup not found: ", id).WithKind(xlog.KindNotFound)
	}
	delete(s.backups, id)
	return nil
}

func (s *Service) TriggerTransfer(tenant, apex string, masters []string) error {
	if s.Slave == nil {
		return xlog.New("no slave client configured").WithKind(xlog.KindConstraint)
	}
	return s.Slave.Refresh(slave.Config{Tenant: tenant, Apex: apex, Masters: masters})
}

func addSOA(b *codec.EntryBuilder, soa wire.RR) error {
	s := wire.SOA{RR: soa}
	mname, err := s.MName()
	if err != nil {
		return err
	}
	rname, err := s.RName()
	if err != nil {
		return err
	}
	return b.CreateSOA(soa.Name, mname, rname, soa.TTL, s.Serial(), s.Refresh(), s.Retry(), s.Expire(), s.Minimum())
}

func soaSerial(e *codec.Entry) uint32 {
	rrs, err := e.RRs(wire.TypeSOA)
	if err != nil || len(rrs) != 1 {
		return 0
	}
	return wire.SOA{RR: rrs[0]}.Serial()
}
