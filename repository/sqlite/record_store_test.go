package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/repository/sqlite"
)

type RecordStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *sqlite.RecordStore
}

func TestRecordStoreSuite(t *testing.T) {
	suite.Run(t, new(RecordStoreSuite))
}

func (s *RecordStoreSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := sqlite.Open(filepath.Join(s.T().TempDir(), "records.db"), sqlite.WithPollInterval(10*time.Millisecond))
	s.Require().NoError(err)
	s.store = store
	s.T().Cleanup(func() { _ = store.Close() })
}

func (s *RecordStoreSuite) TestPutOverwritesAndFilters() {
	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionTasks, "t1", repository.Fields{"id": "t1", "owner": "p1", "points": 10}))
	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionTasks, "t2", repository.Fields{"id": "t2", "owner": "p2", "points": 20}))
	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionTasks, "t1", repository.Fields{"id": "t1", "owner": "p1", "points": 15}))

	recs, err := s.store.Get(s.ctx, repository.CollectionTasks, repository.Query{}.Eq("owner", "p1"))
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.EqualValues(15, recs[0].Fields["points"])

	recs, err = s.store.Get(s.ctx, repository.CollectionTasks, repository.Query{OrderBy: "points", Desc: true})
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("t2", recs[0].ID)
}

func (s *RecordStoreSuite) TestDelete() {
	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionEvidence, "e1", repository.Fields{"id": "e1"}))
	s.Require().NoError(s.store.Delete(s.ctx, repository.CollectionEvidence, "e1"))
	recs, err := s.store.Get(s.ctx, repository.CollectionEvidence, repository.Query{})
	s.Require().NoError(err)
	s.Empty(recs)
}

func (s *RecordStoreSuite) TestRejectsEmptyID() {
	err := s.store.Put(s.ctx, repository.CollectionTasks, "", repository.Fields{})
	s.ErrorIs(err, domain.ErrInvalidPayload)
}

func (s *RecordStoreSuite) TestSettlementUniqueness() {
	entry := func(id string) repository.Fields {
		return repository.Fields{"id": id, "actor_id": "kid", "task_id": "t1", "reason": string(domain.ReasonTaskSettlement), "delta": 10}
	}
	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionLedgerEntries, "l1", entry("l1")))
	err := s.store.Put(s.ctx, repository.CollectionLedgerEntries, "l2", entry("l2"))
	s.True(domain.IsDomainError(err, domain.ErrCodeConflict))

	deduction := repository.Fields{"id": "l3", "actor_id": "kid", "task_id": "", "reason": string(domain.ReasonManualDeduction), "delta": -1}
	s.NoError(s.store.Put(s.ctx, repository.CollectionLedgerEntries, "l3", deduction))
}

func (s *RecordStoreSuite) TestSubscribeSeesChanges() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	snaps, err := s.store.Subscribe(ctx, repository.CollectionTasks, repository.Query{})
	s.Require().NoError(err)
	s.Empty((<-snaps).Records)

	s.Require().NoError(s.store.Put(s.ctx, repository.CollectionTasks, "t1", repository.Fields{"id": "t1"}))
	select {
	case snap := <-snaps:
		s.Len(snap.Records, 1)
	case <-time.After(2 * time.Second):
		s.Fail("no snapshot after change")
	}
}

func (s *RecordStoreSuite) TestReopenKeepsData() {
	path := filepath.Join(s.T().TempDir(), "reopen.db")
	first, err := sqlite.Open(path)
	s.Require().NoError(err)
	s.Require().NoError(first.Put(s.ctx, repository.CollectionTasks, "t1", repository.Fields{"id": "t1"}))
	s.Require().NoError(first.Close())

	second, err := sqlite.Open(path)
	s.Require().NoError(err)
	defer second.Close()
	recs, err := second.Get(s.ctx, repository.CollectionTasks, repository.Query{})
	s.Require().NoError(err)
	s.Len(recs, 1)
	s.NoError(second.Ping(s.ctx))
}
