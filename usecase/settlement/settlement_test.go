package settlement_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/testutil"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase/notification"
	"github.com/fastygo/taskledger/usecase/settlement"
)

type SettlementSuite struct {
	suite.Suite
	ctx      context.Context
	remote   *testutil.Remote
	notifier *notification.Dispatcher
	uc       *settlement.UseCase
}

func TestSettlementSuite(t *testing.T) {
	suite.Run(t, new(SettlementSuite))
}

func (s *SettlementSuite) SetupTest() {
	s.ctx = context.Background()
	s.remote = testutil.NewRemote(s.T(), 3)
	s.notifier = notification.New(s.remote.Bridge, s.remote.Events, time.Hour, nil)
	s.uc = settlement.New(s.remote.Bridge, s.remote.Events, s.notifier, nil)
}

func (s *SettlementSuite) sum(actor string) int {
	total := 0
	for _, e := range s.uc.Entries(actor) {
		total += e.Delta
	}
	return total
}

func (s *SettlementSuite) TestSettleIsIdempotent() {
	first, created, err := s.uc.Settle(s.ctx, "p1", "t1", 25)
	s.Require().NoError(err)
	s.True(created)
	s.Equal(domain.SettlementID("p1", "t1"), first.ID)

	again, created, err := s.uc.Settle(s.ctx, "p1", "t1", 25)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)

	s.Equal(25, s.uc.BalanceOf("p1"))
	s.Len(s.uc.Entries("p1"), 1)
	s.True(s.uc.Settled("p1", "t1"))

	s.remote.Settle()
	records, err := s.remote.Store.Get(s.ctx, repository.CollectionLedgerEntries, repository.Query{}.Eq("task_id", "t1"))
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *SettlementSuite) TestConcurrentSettlementsPayOnce() {
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			_, _, err := s.uc.Settle(s.ctx, "p1", "t1", 40)
			return err
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(40, s.uc.BalanceOf("p1"))
	s.Len(s.uc.Entries("p1"), 1)
}

func (s *SettlementSuite) TestSettleValidation() {
	_, _, err := s.uc.Settle(s.ctx, "", "t1", 10)
	s.True(domain.IsDomainError(err, domain.ErrCodeValidation))
	s.Equal(domain.OpSettle, domain.OpOf(err))

	_, _, err = s.uc.Settle(s.ctx, "p1", "t1", 0)
	s.True(domain.IsDomainError(err, domain.ErrCodeValidation))

	_, _, err = s.uc.Settle(s.ctx, "p1", "t1", 101)
	s.True(domain.IsDomainError(err, domain.ErrCodeValidation))
	s.Zero(s.uc.BalanceOf("p1"))
}

func (s *SettlementSuite) TestDeductRespectsFloor() {
	_, _, err := s.uc.Settle(s.ctx, "p1", "t1", 30)
	s.Require().NoError(err)

	s.Run("deduction within balance", func() {
		entry, err := s.uc.Deduct(s.ctx, "p1", 20, "late submission")
		s.Require().NoError(err)
		s.Equal(-20, entry.Delta)
		s.Equal(domain.ReasonManualDeduction, entry.Reason)
		s.Equal(10, s.uc.BalanceOf("p1"))
	})

	s.Run("deduction beyond balance fails", func() {
		_, err := s.uc.Deduct(s.ctx, "p1", 11, "")
		s.True(domain.IsDomainError(err, domain.ErrCodeInsufficientBalance))
		s.Equal(domain.OpDeduct, domain.OpOf(err))
		s.Equal(10, s.uc.BalanceOf("p1"))
	})

	s.Run("non-positive amount is invalid", func() {
		_, err := s.uc.Deduct(s.ctx, "p1", 0, "")
		s.True(domain.IsDomainError(err, domain.ErrCodeValidation))
	})

	s.Run("deduction notifies the actor", func() {
		list := s.notifier.List("p1")
		s.Require().Len(list, 1)
		s.Equal(domain.CategoryPointsDeducted, list[0].Category)
	})
}

func (s *SettlementSuite) TestBalanceMatchesLedgerUnderRandomSequences() {
	rng := rand.New(rand.NewSource(7))
	var g errgroup.Group
	for i := 0; i < 200; i++ {
		task := fmt.Sprintf("t%d", rng.Intn(40))
		amount := rng.Intn(60) + 1
		settle := rng.Intn(2) == 0
		g.Go(func() error {
			if settle {
				_, _, err := s.uc.Settle(s.ctx, "p1", task, amount)
				return err
			}
			_, err := s.uc.Deduct(s.ctx, "p1", amount, "")
			if domain.IsDomainError(err, domain.ErrCodeInsufficientBalance) {
				return nil
			}
			return err
		})
	}
	s.Require().NoError(g.Wait())

	balance := s.uc.BalanceOf("p1")
	s.GreaterOrEqual(balance, 0)
	s.Equal(s.sum("p1"), balance)
}

func (s *SettlementSuite) TestReconcileMergesRemoteEntries() {
	_, _, err := s.uc.Settle(s.ctx, "p1", "t1", 10)
	s.Require().NoError(err)
	s.remote.Settle()

	peer := settlement.New(nil, nil, nil, nil)
	records, err := s.remote.Store.Get(s.ctx, repository.CollectionLedgerEntries, repository.Query{})
	s.Require().NoError(err)
	snap := repository.Snapshot{Collection: repository.CollectionLedgerEntries, Records: records}

	s.Require().NoError(peer.Reconcile(snap))
	s.Require().NoError(peer.Reconcile(snap))
	s.Equal(10, peer.BalanceOf("p1"))

	_, created, err := peer.Settle(s.ctx, "p1", "t1", 10)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(10, peer.BalanceOf("p1"))

	s.Require().NoError(peer.Reconcile(repository.Snapshot{Collection: repository.CollectionLedgerEntries}))
	s.Equal(10, peer.BalanceOf("p1"))
	s.Len(peer.Entries("p1"), 1)
}

func (s *SettlementSuite) TestMalformedRemoteEntryFailsClosed() {
	peer := settlement.New(nil, nil, nil, nil)
	snap := repository.Snapshot{
		Collection: repository.CollectionLedgerEntries,
		Records: []repository.Record{
			{ID: "bad", Fields: repository.Fields{"id": "bad", "actor_id": "p1", "delta": "lots"}},
		},
	}

	err := peer.Reconcile(snap)
	s.True(domain.IsDomainError(err, domain.ErrCodeDecode))
	s.Zero(peer.BalanceOf("p1"))
}
