package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/internal/store"
)

type Messenger interface {
	Send(chatID string, text string) error
}

// TaskStore is the part of the memory store the scheduler needs.
type TaskStore interface {
	GetPendingTasks() ([]store.Task, error)
	UpdateTaskLastRun(id int) error
	DeleteTask(chatID string, taskID int) error
}

// Scheduler runs due scheduled tasks as ordinary turns and pushes the
// reply through the messenger.
type Scheduler struct {
	Brain    Brain
	Store    TaskStore
	Gateway  Messenger
	Interval time.Duration
	logger   *observability.Logger
}

func NewScheduler(brain Brain, store TaskStore, gateway Messenger, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Scheduler{
		Brain:    brain,
		Store:    store,
		Gateway:  gateway,
		Interval: 30 * time.Second,
		logger:   logger.With("scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.logger.Info("task scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue executes every pending task once.
func (s *Scheduler) RunDue(ctx context.Context) {
	tasks, err := s.Store.GetPendingTasks()
	if err != nil {
		s.logger.Error("polling tasks failed", err)
		return
	}

	for _, t := range tasks {
		s.logger.Info(fmt.Sprintf("executing scheduled task %d for chat %s: %s", t.ID, t.ChatID, t.Description))

		response, err := s.Brain.Think(ctx, t.ChatID, fmt.Sprintf("[SYSTEM: This is the execution of a previously scheduled task: %q. Please provide the output/reminder for the user. DO NOT schedule it again.]", t.Description))
		if err != nil {
			s.logger.Error(fmt.Sprintf("scheduled task %d failed", t.ID), err)
			continue
		}

		if err := s.Store.UpdateTaskLastRun(t.ID); err != nil {
			s.logger.Error(fmt.Sprintf("updating last run for task %d", t.ID), err)
		}

		if t.IntervalSeconds == 0 {
			if err := s.Store.DeleteTask(t.ChatID, t.ID); err != nil {
				s.logger.Error(fmt.Sprintf("deleting one-time task %d", t.ID), err)
			}
		}

		if s.Gateway != nil {
			if err := s.Gateway.Send(t.ChatID, "⏰ *Scheduled Task Output*\n\n"+response); err != nil {
				s.logger.Warn(fmt.Sprintf("delivering task %d", t.ID), err)
			}
		}
	}
}
