package reminder

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/storage"
)

type fakeSource struct {
	mu         sync.Mutex
	details    map[int64]storage.TaskDetail
	remindable []storage.Task
	detailErr  error
}

func (f *fakeSource) GetTaskDetail(_ context.Context, id int64) (storage.TaskDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailErr != nil {
		return storage.TaskDetail{}, f.detailErr
	}
	detail, ok := f.details[id]
	if !ok {
		return storage.TaskDetail{}, storage.ErrTaskNotFound
	}
	return detail, nil
}

func (f *fakeSource) ListRemindableTasks(_ context.Context) ([]storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remindable, nil
}

type delivery struct {
	channelID string
	to        string
	content   string
}

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
}

func (f *fakeDispatcher) DeliverDirect(_ context.Context, channelID, to, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, delivery{channelID: channelID, to: to, content: content})
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func (f *fakeDispatcher) last() delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[len(f.deliveries)-1]
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func activeDetail(id int64, name string) storage.TaskDetail {
	return storage.TaskDetail{
		Task: storage.Task{
			ID:       id,
			Name:     name,
			Priority: storage.PriorityHigh,
			Deadline: time.Date(2030, 1, 10, 9, 0, 0, 0, time.Local),
			Status:   storage.StatusActive,
		},
		ProjectName:        "Default",
		AssigneeName:       "Alice",
		AssigneePlatformID: "tg-1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleFiresAndDelivers(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{7: activeDetail(7, "Report")}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(7, time.Now().Add(10*time.Millisecond))
	waitFor(t, func() bool { return dispatcher.count() == 1 })

	got := dispatcher.last()
	if got.channelID != "telegram" || got.to != "tg-1" {
		t.Fatalf("unexpected routing: %+v", got)
	}
	if !strings.Contains(got.content, "Report") || !strings.Contains(got.content, "ID 7") {
		t.Fatalf("unexpected content: %q", got.content)
	}
	if !strings.Contains(got.content, "2030-01-10 09:00") {
		t.Fatalf("deadline missing from content: %q", got.content)
	}
}

func TestScheduleReplacesExistingJob(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{7: activeDetail(7, "Report")}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(7, time.Now().Add(time.Hour))
	sched.Schedule(7, time.Now().Add(20*time.Millisecond))

	jobs := sched.Snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}

	waitFor(t, func() bool { return dispatcher.count() == 1 })

	// Only the replacement fires; the superseded timer stays silent.
	time.Sleep(50 * time.Millisecond)
	if dispatcher.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", dispatcher.count())
	}
}

func TestCancelPreventsDelivery(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{7: activeDetail(7, "Report")}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(7, time.Now().Add(30*time.Millisecond))
	sched.Cancel(7)
	sched.Cancel(7) // absent: no-op

	time.Sleep(80 * time.Millisecond)
	if dispatcher.count() != 0 {
		t.Fatalf("canceled reminder must not deliver, got %d", dispatcher.count())
	}
	if len(sched.Snapshot()) != 0 {
		t.Fatal("job table should be empty")
	}
}

func TestFireOnCompletedTaskStaysSilent(t *testing.T) {
	detail := activeDetail(7, "Report")
	detail.Status = storage.StatusCompleted
	source := &fakeSource{details: map[int64]storage.TaskDetail{7: detail}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(7, time.Now().Add(10*time.Millisecond))
	waitFor(t, func() bool { return len(sched.Snapshot()) == 0 })

	time.Sleep(30 * time.Millisecond)
	if dispatcher.count() != 0 {
		t.Fatalf("completed task must not be reminded, got %d deliveries", dispatcher.count())
	}
}

func TestFireOnDeletedTaskStaysSilent(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(42, time.Now().Add(10*time.Millisecond))
	waitFor(t, func() bool { return len(sched.Snapshot()) == 0 })

	time.Sleep(30 * time.Millisecond)
	if dispatcher.count() != 0 {
		t.Fatal("deleted task must not be reminded")
	}
}

func TestDeliveryFailureIsContained(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{
		7: activeDetail(7, "First"),
		8: activeDetail(8, "Second"),
	}}
	dispatcher := &fakeDispatcher{err: errors.New("transport down")}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())
	defer sched.Stop(time.Second)

	sched.Schedule(7, time.Now().Add(10*time.Millisecond))
	waitFor(t, func() bool { return len(sched.Snapshot()) == 0 })

	// Recover the transport; a later job must still deliver.
	dispatcher.mu.Lock()
	dispatcher.err = nil
	dispatcher.mu.Unlock()

	sched.Schedule(8, time.Now().Add(10*time.Millisecond))
	waitFor(t, func() bool { return dispatcher.count() == 1 })
	if dispatcher.last().content == "" || !strings.Contains(dispatcher.last().content, "Second") {
		t.Fatalf("wrong delivery: %+v", dispatcher.last())
	}
}

func TestPlanForDeadlineLeadTime(t *testing.T) {
	source := &fakeSource{}
	sched := New(source, &fakeDispatcher{}, "telegram", 24*time.Hour, testLogger())
	defer sched.Stop(time.Second)

	deadline := time.Date(2030, 1, 10, 9, 0, 0, 0, time.Local)
	if !sched.PlanForDeadline(1, deadline) {
		t.Fatal("future reminder should be scheduled")
	}
	jobs := sched.Snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	want := deadline.Add(-24 * time.Hour)
	if !jobs[0].FireAt.Equal(want) {
		t.Fatalf("fire time %v, want %v", jobs[0].FireAt, want)
	}

	// Deadline closer than the lead: nothing to schedule.
	if sched.PlanForDeadline(2, time.Now().Add(time.Hour)) {
		t.Fatal("past fire time must not be scheduled")
	}
	if len(sched.Snapshot()) != 1 {
		t.Fatal("job table should be unchanged")
	}
}

func TestRestoreRebuildsFutureJobsOnly(t *testing.T) {
	source := &fakeSource{remindable: []storage.Task{
		{ID: 1, Deadline: time.Now().Add(48 * time.Hour), Status: storage.StatusActive},
		{ID: 2, Deadline: time.Now().Add(time.Hour), Status: storage.StatusActive},
		{ID: 3, Deadline: time.Now().Add(72 * time.Hour), Status: storage.StatusActive},
	}}
	sched := New(source, &fakeDispatcher{}, "telegram", 24*time.Hour, testLogger())
	defer sched.Stop(time.Second)

	restored, err := sched.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 2 {
		t.Fatalf("expected 2 restored jobs, got %d", restored)
	}
	jobs := sched.Snapshot()
	if len(jobs) != 2 || jobs[0].TaskID != 1 || jobs[1].TaskID != 3 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestStopRejectsNewJobs(t *testing.T) {
	source := &fakeSource{details: map[int64]storage.TaskDetail{7: activeDetail(7, "Report")}}
	dispatcher := &fakeDispatcher{}
	sched := New(source, dispatcher, "telegram", time.Hour, testLogger())

	sched.Schedule(7, time.Now().Add(time.Hour))
	if err := sched.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sched.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	sched.Schedule(8, time.Now().Add(time.Millisecond))
	if len(sched.Snapshot()) != 0 {
		t.Fatal("stopped scheduler must not accept jobs")
	}
}
