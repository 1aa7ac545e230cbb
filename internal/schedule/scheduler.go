package schedule

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/errandhq/errand/config"
	"github.com/errandhq/errand/internal/orchestration"
	"github.com/errandhq/errand/internal/store"
)

// Runner executes a scheduled request. Satisfied by the orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestration.Request, sink orchestration.EventSink) (orchestration.RunResult, error)
}

// Scheduler polls the schedules table and fires due requests through the
// orchestrator. A redis SetNX lock keeps multiple instances from firing
// the same schedule twice.
type Scheduler struct {
	store  *store.Store
	runner Runner
	rdb    *redis.Client
	cfg    config.ScheduleConfig
	logger *log.Logger
	stop   chan struct{}
}

func New(st *store.Store, runner Runner, rdb *redis.Client, cfg config.ScheduleConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Scheduler{
		store:  st,
		runner: runner,
		rdb:    rdb,
		cfg:    cfg,
		logger: log.New(os.Stdout, "[SCHED] ", log.LstdFlags),
		stop:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Printf("listing due schedules: %v", err)
		return
	}
	for _, sched := range due {
		if s.rdb != nil {
			lockKey := "errand:sched:lock:" + sched.ID
			ok, _ := s.rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		// Advance before firing so a slow run cannot double-fire.
		if err := s.store.AdvanceSchedule(ctx, sched.ID, sched.CronSpec, now); err != nil {
			s.logger.Printf("advancing schedule %s: %v", sched.ID, err)
			continue
		}
		go s.fire(sched)
	}
}

func (s *Scheduler) fire(sched store.Schedule) {
	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
	ctx := context.Background()
	req := orchestration.Request{
		SessionID:   sched.SessionID,
		RequestText: sched.RequestText,
		UserID:      sched.UserID,
	}
	result, err := s.runner.Run(ctx, req, orchestration.NopSink{})
	if err != nil {
		s.logger.Printf("schedule %s run failed: %v", sched.ID, err)
		return
	}
	s.logger.Printf("schedule %s fired: trace=%s status=%s", sched.ID, result.TraceID, result.Status)
}
