package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/testutil"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/repository/memory"
	"github.com/fastygo/taskledger/usecase/notification"
	"github.com/fastygo/taskledger/usecase/task"
)

type TaskSuite struct {
	suite.Suite
	ctx      context.Context
	remote   *testutil.Remote
	clock    *testutil.Clock
	notifier *notification.Dispatcher
	uc       *task.UseCase
}

func TestTaskSuite(t *testing.T) {
	suite.Run(t, new(TaskSuite))
}

func (s *TaskSuite) SetupTest() {
	s.ctx = context.Background()
	s.remote = testutil.NewRemote(s.T(), 3)
	s.clock = testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.notifier = notification.New(s.remote.Bridge, s.remote.Events, time.Hour, nil, notification.WithClock(s.clock.Now))
	s.uc = task.New(s.remote.Bridge, s.remote.Events, s.notifier, nil, task.WithClock(s.clock.Now))
}

func (s *TaskSuite) newTask(id string, points int) domain.Task {
	return domain.Task{
		ID:          id,
		Title:       "Clean the kitchen",
		Description: "Dishes and counters",
		Points:      points,
		DueAt:       s.clock.Now().Add(24 * time.Hour),
		OwnerID:     "parent",
	}
}

func (s *TaskSuite) remoteTask(id string) (domain.Task, bool) {
	records, err := s.remote.Store.Get(s.ctx, repository.CollectionTasks, repository.Query{}.Eq("id", id))
	s.Require().NoError(err)
	if len(records) == 0 {
		return domain.Task{}, false
	}
	t, err := repository.DecodeRecord[domain.Task](repository.CollectionTasks, records[0])
	s.Require().NoError(err)
	return t, true
}

func (s *TaskSuite) snapshot() repository.Snapshot {
	records, err := s.remote.Store.Get(s.ctx, repository.CollectionTasks, repository.Query{})
	s.Require().NoError(err)
	return repository.Snapshot{Collection: repository.CollectionTasks, Records: records}
}

func (s *TaskSuite) TestUpsertValidation() {
	cases := map[string]func(t *domain.Task){
		"points below range": func(t *domain.Task) { t.Points = 0 },
		"points above range": func(t *domain.Task) { t.Points = 101 },
		"empty title":        func(t *domain.Task) { t.Title = "  " },
		"empty description":  func(t *domain.Task) { t.Description = "" },
		"completed without approval": func(t *domain.Task) {
			t.EvidenceRequired = true
			t.Completed = true
		},
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			t := s.newTask("", 10)
			mutate(&t)
			_, err := s.uc.Upsert(s.ctx, t)
			s.True(domain.IsDomainError(err, domain.ErrCodeValidation))
			s.Equal(domain.OpUpsert, domain.OpOf(err))
		})
	}
	s.Empty(s.uc.Query(task.Filter{}))
}

func (s *TaskSuite) TestUpsertIsOptimisticAndPersists() {
	stored, err := s.uc.Upsert(s.ctx, s.newTask("t1", 25))
	s.Require().NoError(err)
	s.True(stored.CreatedAt.Equal(s.clock.Now()))

	got, err := s.uc.Get("t1")
	s.Require().NoError(err)
	s.Equal(25, got.Points)

	s.remote.Settle()
	remote, ok := s.remoteTask("t1")
	s.Require().True(ok)
	s.Equal("Clean the kitchen", remote.Title)
	s.Empty(s.uc.Unsynced())
}

func (s *TaskSuite) TestEditReplacesPointsAndKeepsCreation() {
	created, err := s.uc.Upsert(s.ctx, s.newTask("t1", 25))
	s.Require().NoError(err)
	s.clock.Advance(time.Hour)

	edit := s.newTask("t1", 40)
	edited, err := s.uc.Upsert(s.ctx, edit)
	s.Require().NoError(err)
	s.Equal(40, edited.Points)
	s.Equal(created.CreatedAt, edited.CreatedAt)
	s.True(edited.UpdatedAt.After(created.UpdatedAt))
}

func (s *TaskSuite) TestSyncFailureKeepsLocalRecord() {
	s.remote.Store.SetFault(memory.Offline)

	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 10))
	s.Require().NoError(err)
	s.remote.Settle()

	s.Run("failure surfaces as an event with the attempt count", func() {
		select {
		case ev := <-s.uc.Events():
			var syncErr *domain.SyncFailedError
			s.Require().ErrorAs(ev.Err, &syncErr)
			s.Equal(3, syncErr.Attempts)
			s.Equal("t1", ev.ID)
			s.True(ev.Parked)
		case <-time.After(time.Second):
			s.Fail("no sync event")
		}
	})

	s.Run("record stays queryable and flagged", func() {
		_, err := s.uc.Get("t1")
		s.Require().NoError(err)
		s.Equal([]string{"t1"}, s.uc.Unsynced())
		s.True(s.uc.IsUnsynced("t1"))
		s.Equal(1, s.remote.Processor.Size())
	})

	s.Run("reconcile does not drop the unsynced record", func() {
		s.Require().NoError(s.uc.Reconcile(repository.Snapshot{Collection: repository.CollectionTasks}))
		_, err := s.uc.Get("t1")
		s.Require().NoError(err)
	})

	s.Run("explicit sync delivers it", func() {
		s.remote.Store.SetFault(nil)
		summary, err := s.uc.Sync(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, summary.Replayed)
		s.Empty(s.uc.Unsynced())
		_, ok := s.remoteTask("t1")
		s.True(ok)
	})
}

func (s *TaskSuite) TestReconcileReplacesUnprotectedRecords() {
	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 10))
	s.Require().NoError(err)
	_, err = s.uc.Upsert(s.ctx, s.newTask("t2", 10))
	s.Require().NoError(err)
	s.remote.Settle()

	remoteEdit := s.newTask("t1", 99)
	fields, err := repository.Encode(remoteEdit)
	s.Require().NoError(err)
	s.Require().NoError(s.remote.Store.Put(s.ctx, repository.CollectionTasks, "t1", fields))
	s.Require().NoError(s.remote.Store.Delete(s.ctx, repository.CollectionTasks, "t2"))

	s.Require().NoError(s.uc.Reconcile(s.snapshot()))

	got, err := s.uc.Get("t1")
	s.Require().NoError(err)
	s.Equal(99, got.Points)
	_, err = s.uc.Get("t2")
	s.ErrorIs(err, domain.ErrTaskNotFound)
}

func (s *TaskSuite) TestReconcileSparesInFlightWrite() {
	stale := s.snapshot()

	s.remote.Store.SetFault(memory.Offline)
	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 10))
	s.Require().NoError(err)

	// The write is retrying; a snapshot without it must not erase it.
	s.Require().NoError(s.uc.Reconcile(stale))
	_, err = s.uc.Get("t1")
	s.Require().NoError(err)

	s.remote.Store.SetFault(nil)
	s.remote.Settle()
}

func (s *TaskSuite) TestMalformedRemoteRecordFailsClosed() {
	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 10))
	s.Require().NoError(err)
	s.remote.Settle()

	snap := repository.Snapshot{
		Collection: repository.CollectionTasks,
		Records: []repository.Record{
			{ID: "t1", Fields: repository.Fields{"id": "t1", "title": 12}},
		},
	}
	err = s.uc.Reconcile(snap)
	s.True(domain.IsDomainError(err, domain.ErrCodeDecode))

	got, getErr := s.uc.Get("t1")
	s.Require().NoError(getErr)
	s.Equal("Clean the kitchen", got.Title)
}

func (s *TaskSuite) TestQueryFilters() {
	a := s.newTask("a", 10)
	a.AssigneeID = "kid-1"
	a.DueAt = s.clock.Now().Add(2 * time.Hour)
	b := s.newTask("b", 10)
	b.AssigneeID = "kid-2"
	b.DueAt = s.clock.Now().Add(time.Hour)
	c := s.newTask("c", 10)
	c.AssigneeID = "kid-1"
	c.Completed = true
	c.DueAt = s.clock.Now().Add(48 * time.Hour)
	for _, t := range []domain.Task{a, b, c} {
		_, err := s.uc.Upsert(s.ctx, t)
		s.Require().NoError(err)
	}

	ids := func(tasks []domain.Task) []string {
		var out []string
		for _, t := range tasks {
			out = append(out, t.ID)
		}
		return out
	}
	done, open := true, false

	s.Equal([]string{"b", "a", "c"}, ids(s.uc.Query(task.Filter{})))
	s.Equal([]string{"a", "c"}, ids(s.uc.Query(task.Filter{AssigneeID: "kid-1"})))
	s.Equal([]string{"c"}, ids(s.uc.Query(task.Filter{Completed: &done})))
	s.Equal([]string{"b", "a"}, ids(s.uc.Query(task.Filter{Completed: &open})))
	s.Equal([]string{"b", "a"}, ids(s.uc.Query(task.Filter{DueBefore: s.clock.Now().Add(24 * time.Hour)})))
	s.Equal([]string{"a", "c"}, ids(s.uc.Query(task.Filter{DueAfter: s.clock.Now().Add(90 * time.Minute)})))
}

func (s *TaskSuite) TestCompletionToggle() {
	_, err := s.uc.Upsert(s.ctx, s.newTask("plain", 5))
	s.Require().NoError(err)
	gated := s.newTask("gated", 5)
	gated.EvidenceRequired = true
	_, err = s.uc.Upsert(s.ctx, gated)
	s.Require().NoError(err)

	done, err := s.uc.SetCompleted(s.ctx, "plain", true)
	s.Require().NoError(err)
	s.True(done.Completed)

	_, err = s.uc.SetCompleted(s.ctx, "gated", true)
	s.True(domain.IsDomainError(err, domain.ErrCodeValidation))

	_, err = s.uc.SetCompleted(s.ctx, "missing", true)
	s.ErrorIs(err, domain.ErrTaskNotFound)
}

func (s *TaskSuite) TestEditKeepsEvidenceState() {
	gated := s.newTask("t1", 5)
	gated.EvidenceRequired = true
	_, err := s.uc.Upsert(s.ctx, gated)
	s.Require().NoError(err)
	_, err = s.uc.ApplyEvidence(s.ctx, "t1", domain.EvidenceApproved, "Great job")
	s.Require().NoError(err)

	gated.Title = "Clean the whole kitchen"
	gated.Completed = true
	edited, err := s.uc.Upsert(s.ctx, gated)
	s.Require().NoError(err)
	s.Require().NotNil(edited.EvidenceStatus)
	s.Equal(domain.EvidenceApproved, *edited.EvidenceStatus)
	s.Equal("Great job", edited.Feedback)
}

func (s *TaskSuite) TestCreateIgnoresCallerEvidenceState() {
	forged := s.newTask("t1", 5)
	forged.EvidenceRequired = true
	forged.EvidenceStatus = domain.EvidenceApproved.Ptr()
	forged.Feedback = "self-approved"

	s.Run("completion cannot be claimed on creation", func() {
		forged.Completed = true
		_, err := s.uc.Upsert(s.ctx, forged)
		s.True(domain.IsDomainError(err, domain.ErrCodeValidation))
		_, err = s.uc.Get("t1")
		s.ErrorIs(err, domain.ErrTaskNotFound)
	})

	s.Run("evidence fields start empty", func() {
		forged.Completed = false
		created, err := s.uc.Upsert(s.ctx, forged)
		s.Require().NoError(err)
		s.Nil(created.EvidenceStatus)
		s.Empty(created.Feedback)
	})
}

func (s *TaskSuite) TestDeleteRemovesTask() {
	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 5))
	s.Require().NoError(err)

	s.Require().NoError(s.uc.Delete(s.ctx, "t1"))
	s.ErrorIs(s.uc.Delete(s.ctx, "t1"), domain.ErrTaskNotFound)
	_, err = s.uc.Get("t1")
	s.ErrorIs(err, domain.ErrTaskNotFound)

	s.remote.Settle()
	_, ok := s.remoteTask("t1")
	s.False(ok)
}

func (s *TaskSuite) TestAssignmentNotifiesPerformer() {
	t := s.newTask("t1", 5)
	t.AssigneeID = "kid-1"
	_, err := s.uc.Upsert(s.ctx, t)
	s.Require().NoError(err)

	t.Title = "Clean the kitchen again"
	_, err = s.uc.Upsert(s.ctx, t)
	s.Require().NoError(err)

	list := s.notifier.List("kid-1")
	s.Require().Len(list, 1)
	s.Equal(domain.CategoryTaskAssigned, list[0].Category)
	s.Equal("t1", list[0].TaskID)
}

func (s *TaskSuite) TestRestoreProtectsParkedRecords() {
	s.remote.Store.SetFault(memory.Offline)
	_, err := s.uc.Upsert(s.ctx, s.newTask("t1", 10))
	s.Require().NoError(err)
	s.remote.Settle()

	restarted := task.New(s.remote.Bridge, s.remote.Events, nil, nil)
	s.Require().NoError(restarted.Restore())
	s.Equal([]string{"t1"}, restarted.Unsynced())

	s.Require().NoError(restarted.Reconcile(repository.Snapshot{Collection: repository.CollectionTasks}))
	got, err := restarted.Get("t1")
	s.Require().NoError(err)
	s.Equal(10, got.Points)
}
