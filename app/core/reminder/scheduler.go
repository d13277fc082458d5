package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/storage"
)

const deliverTimeout = 30 * time.Second

// Dispatcher delivers a notification over a transport channel.
type Dispatcher interface {
	DeliverDirect(ctx context.Context, channelID string, to string, content string) error
}

// TaskSource re-reads task state at fire time and enumerates tasks whose
// reminders must be rebuilt after a restart.
type TaskSource interface {
	GetTaskDetail(ctx context.Context, id int64) (storage.TaskDetail, error)
	ListRemindableTasks(ctx context.Context) ([]storage.Task, error)
}

type JobInfo struct {
	TaskID int64
	FireAt time.Time
}

type job struct {
	fireAt time.Time
	timer  *time.Timer
	seq    uint64
}

// Scheduler keeps at most one live one-shot reminder per task id. Schedule
// replaces atomically; Cancel is a no-op when absent. A firing re-reads the
// task and stays silent when the task is gone or completed, so a reminder
// can never reach the assignee after completion.
type Scheduler struct {
	source     TaskSource
	dispatcher Dispatcher
	channelID  string
	lead       time.Duration
	log        *logrus.Entry

	mu      sync.Mutex
	jobs    map[int64]*job
	nextSeq uint64
	stopped bool
	wg      sync.WaitGroup
}

func New(source TaskSource, dispatcher Dispatcher, channelID string, lead time.Duration, log *logrus.Entry) *Scheduler {
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	return &Scheduler{
		source:     source,
		dispatcher: dispatcher,
		channelID:  channelID,
		lead:       lead,
		log:        log,
		jobs:       make(map[int64]*job),
	}
}

func (s *Scheduler) LeadTime() time.Duration {
	return s.lead
}

// Schedule registers a one-shot reminder for the task. An existing job for
// the same task is superseded in the same critical section, so two live
// timers for one task cannot coexist.
func (s *Scheduler) Schedule(taskID int64, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if existing, ok := s.jobs[taskID]; ok {
		existing.timer.Stop()
	}
	s.nextSeq++
	seq := s.nextSeq
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	s.jobs[taskID] = &job{
		fireAt: fireAt,
		seq:    seq,
		timer:  time.AfterFunc(delay, func() { s.fire(taskID, seq) }),
	}
	s.log.WithFields(logrus.Fields{
		"task":    taskID,
		"fire_at": fireAt.Format(time.RFC3339),
	}).Debug("reminder scheduled")
}

// Cancel removes the task's reminder if one exists.
func (s *Scheduler) Cancel(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[taskID]; ok {
		existing.timer.Stop()
		delete(s.jobs, taskID)
		s.log.WithField("task", taskID).Debug("reminder canceled")
	}
}

// PlanForDeadline schedules a reminder at deadline minus the lead time, but
// only when that moment is still in the future. Reports whether a job was
// scheduled.
func (s *Scheduler) PlanForDeadline(taskID int64, deadline time.Time) bool {
	fireAt := deadline.Add(-s.lead)
	if !fireAt.After(time.Now()) {
		return false
	}
	s.Schedule(taskID, fireAt)
	return true
}

// Restore rebuilds the job table from active tasks with deadlines. Reminders
// whose fire time already passed are not resurrected.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	tasks, err := s.source.ListRemindableTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remindable tasks: %w", err)
	}
	restored := 0
	for _, task := range tasks {
		if s.PlanForDeadline(task.ID, task.Deadline) {
			restored++
		}
	}
	return restored, nil
}

func (s *Scheduler) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobInfo, 0, len(s.jobs))
	for taskID, j := range s.jobs {
		items = append(items, JobInfo{TaskID: taskID, FireAt: j.fireAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TaskID < items[j].TaskID })
	return items
}

// Stop cancels all pending jobs and waits for in-flight deliveries.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for taskID, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, taskID)
	}
	s.mu.Unlock()

	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("reminder: stop timeout after %s", timeout)
	}
}

// fire runs on the timer goroutine. The seq check discards stale firings
// from timers that were superseded after the callback was already queued.
func (s *Scheduler) fire(taskID int64, seq uint64) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	current, ok := s.jobs[taskID]
	if !ok || current.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, taskID)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	s.deliver(ctx, taskID)
}

func (s *Scheduler) deliver(ctx context.Context, taskID int64) {
	detail, err := s.source.GetTaskDetail(ctx, taskID)
	if errors.Is(err, storage.ErrTaskNotFound) {
		// The world changed between scheduling and firing.
		s.log.WithField("task", taskID).Debug("reminder fired for deleted task")
		return
	}
	if err != nil {
		s.log.WithField("task", taskID).WithError(err).Error("reminder: task lookup failed")
		return
	}
	if detail.Status == storage.StatusCompleted {
		return
	}
	if detail.AssigneePlatformID == "" {
		s.log.WithField("task", taskID).Warn("reminder: task has no reachable assignee")
		return
	}

	content := fmt.Sprintf(
		"Reminder: task '%s' (ID %d) is due at %s.\nPriority: %s\nProject: %s",
		detail.Name,
		detail.ID,
		detail.Deadline.Format("2006-01-02 15:04"),
		detail.Priority.Label(),
		detail.ProjectName,
	)
	if err := s.dispatcher.DeliverDirect(ctx, s.channelID, detail.AssigneePlatformID, content); err != nil {
		// Terminal for this firing only; other jobs are unaffected.
		s.log.WithFields(logrus.Fields{
			"task":      taskID,
			"recipient": detail.AssigneePlatformID,
		}).WithError(err).Error("reminder delivery failed")
	}
}
