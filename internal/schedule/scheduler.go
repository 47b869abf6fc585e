package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shihao-ju/finx-sidekick/internal/digest"
	"github.com/shihao-ju/finx-sidekick/internal/fetch"
	"github.com/shihao-ju/finx-sidekick/internal/source"
	"github.com/shihao-ju/finx-sidekick/internal/store"
)

// Trigger names. After-hours triggers are suffixed with their civil time,
// test triggers with a run id.
const (
	TriggerTradingHours = "trading-hours"
	TriggerWeekend      = "weekend"
	TriggerManual       = "manual"
)

// Test run delay bounds, in seconds.
const (
	minTestDelay = 10
	maxTestDelay = 3600
)

// Config holds the scheduler's calendar and retry settings in plain form;
// New validates and compiles them into CalendarRules.
type Config struct {
	Timezone               string
	TradingStart           string
	TradingEnd             string
	TradingIntervalMinutes int
	AfterHoursTimes        []string
	WeekendTime            string
	MaxAttempts            int
	BackoffSeconds         int
}

// Store is the persistence surface the scheduler drives.
type Store interface {
	ListTrackedAccountHandles() ([]string, error)
	AppendRunRecord(r store.RunRecord) (int64, error)
	SetPaused(paused bool) error
	Paused() (bool, error)
	LatestDigest() (*store.Digest, error)
	UpsertDigest(body string, itemIDs []string, generatedAt time.Time) (int64, error)
}

// AccountSyncer runs one account's incremental sync and commits cursors.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, handle string) fetch.Result
	Advance(cur store.SyncCursor, digestID int64) error
}

// trigger is the per-trigger 2-state machine: Idle -> Running -> Idle. A
// trigger may not begin a new fire while its previous fire still executes;
// distinct triggers interleave freely.
type trigger struct {
	name    string
	rule    CalendarRule
	entryID cron.EntryID
}

// TestRun identifies a scheduled one-shot test fire.
type TestRun struct {
	RunID       string    `json:"run_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NextFire is one upcoming trigger fire time.
type NextFire struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// Status is a point-in-time scheduler snapshot.
type Status struct {
	Running   bool       `json:"running"`
	Paused    bool       `json:"paused"`
	NextFires []NextFire `json:"next_fires"`
}

// Scheduler computes calendar fire times, serializes per-trigger execution,
// and drives the fetch/digest pipeline. It is an explicit injectable
// instance; there is no ambient global state.
type Scheduler struct {
	cron      *cron.Cron
	location  *time.Location
	policy    RetryPolicy
	st        Store
	syncer    AccountSyncer
	generator digest.Generator

	mu       sync.Mutex
	running  bool
	paused   bool
	triggers map[string]*trigger
	inFlight map[string]*atomic.Bool
	testRuns map[string]TestRun

	sleep func(time.Duration)
	now   func() time.Time
}

// calendarSchedule adapts a CalendarRule's pure Next function to the cron
// engine's Schedule contract.
type calendarSchedule struct {
	rule CalendarRule
}

func (cs calendarSchedule) Next(t time.Time) time.Time { return cs.rule.Next(t) }

// New creates a Scheduler from plain config. Returns a ConfigError for bad
// calendar input.
func New(cfg Config, st Store, syncer AccountSyncer, gen digest.Generator) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid timezone %q: %v", cfg.Timezone, err)}
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: time.Duration(cfg.BackoffSeconds) * time.Second,
		},
		st:        st,
		syncer:    syncer,
		generator: gen,
		triggers:  make(map[string]*trigger),
		inFlight:  make(map[string]*atomic.Bool),
		testRuns:  make(map[string]TestRun),
		sleep:     time.Sleep,
		now:       time.Now,
	}

	if err := s.compileTriggers(cfg, loc); err != nil {
		return nil, err
	}
	s.inFlight[TriggerManual] = &atomic.Bool{}
	return s, nil
}

func (s *Scheduler) compileTriggers(cfg Config, loc *time.Location) error {
	tradingStart, err := ParseCivilTime(cfg.TradingStart)
	if err != nil {
		return err
	}
	tradingEnd, err := ParseCivilTime(cfg.TradingEnd)
	if err != nil {
		return err
	}
	if cfg.TradingIntervalMinutes <= 0 {
		return &ConfigError{Msg: fmt.Sprintf("invalid trading interval %d minutes", cfg.TradingIntervalMinutes)}
	}
	// Weekend and holiday skips for trading hours are decided at fire time
	// so they leave a standalone audit record.
	s.addTrigger(TriggerTradingHours, CalendarRule{
		Kind:            KindInterval,
		Start:           tradingStart,
		End:             tradingEnd,
		IntervalMinutes: cfg.TradingIntervalMinutes,
		Location:        loc,
	})

	for _, raw := range cfg.AfterHoursTimes {
		at, err := ParseCivilTime(raw)
		if err != nil {
			return err
		}
		s.addTrigger("after-hours-"+at.String(), CalendarRule{
			Kind:     KindFixedTime,
			Start:    at,
			Location: loc,
		})
	}

	if cfg.WeekendTime == "" {
		return nil
	}
	weekendAt, err := ParseCivilTime(cfg.WeekendTime)
	if err != nil {
		return err
	}
	s.addTrigger(TriggerWeekend, CalendarRule{
		Kind:     KindFixedTime,
		Start:    weekendAt,
		Location: loc,
		Weekdays: []time.Weekday{time.Saturday, time.Sunday},
	})
	return nil
}

func (s *Scheduler) addTrigger(name string, rule CalendarRule) {
	s.triggers[name] = &trigger{name: name, rule: rule}
	s.inFlight[name] = &atomic.Bool{}
}

// Start registers calendar triggers and begins firing. A scheduler whose
// store holds paused=true comes back up paused, with triggers registered
// but suspended until Resume.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	paused, err := s.st.Paused()
	if err != nil {
		log.Printf("[scheduler] failed to load pause state, starting unpaused: %v", err)
	} else {
		s.paused = paused
	}

	for _, trig := range s.triggers {
		trig := trig
		trig.entryID = s.cron.Schedule(calendarSchedule{rule: trig.rule}, cron.FuncJob(func() {
			s.fireCalendar(trig.name)
		}))
		log.Printf("[scheduler] registered trigger %s (next fire %v)", trig.name, trig.rule.Next(s.now()))
	}

	s.cron.Start()
	s.running = true
	if s.paused {
		log.Println("[scheduler] started in paused state")
	} else {
		log.Println("[scheduler] started")
	}
	return nil
}

// Stop halts firing and waits for in-flight fires started by cron to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

// Pause durably suspends calendar firing. The underlying fire schedule is
// untouched; resuming never replays missed fires. Manual and test triggers
// are unaffected.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	if err := s.st.SetPaused(true); err != nil {
		log.Printf("[scheduler] failed to persist pause state: %v", err)
	}
	log.Println("[scheduler] paused")
}

// Resume lifts a pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	if err := s.st.SetPaused(false); err != nil {
		log.Printf("[scheduler] failed to persist pause state: %v", err)
	}
	log.Println("[scheduler] resumed")
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerManualRun fires the manual trigger immediately. It returns an
// error, never a silent no-op, when the scheduler is not running or a
// manual fire is already executing.
func (s *Scheduler) TriggerManualRun() error {
	if !s.isRunning() {
		return fmt.Errorf("scheduler is not running")
	}
	gate := s.inFlight[TriggerManual]
	if !gate.CompareAndSwap(false, true) {
		return fmt.Errorf("manual run already in progress")
	}
	log.Println("[scheduler] manual run triggered")
	go func() {
		defer gate.Store(false)
		s.fire(TriggerManual)
	}()
	return nil
}

// ScheduleTestRun schedules a one-shot fire at now+delaySeconds. The delay
// must be within [10, 3600] seconds; out-of-range values and a stopped
// scheduler fail with ConfigError.
func (s *Scheduler) ScheduleTestRun(delaySeconds int) (TestRun, error) {
	if !s.isRunning() {
		return TestRun{}, &ConfigError{Msg: "scheduler is not running"}
	}
	if delaySeconds < minTestDelay || delaySeconds > maxTestDelay {
		return TestRun{}, &ConfigError{
			Msg: fmt.Sprintf("test delay %ds outside [%d, %d]", delaySeconds, minTestDelay, maxTestDelay),
		}
	}

	run := TestRun{
		RunID:       uuid.NewString(),
		ScheduledAt: s.now().Add(time.Duration(delaySeconds) * time.Second),
	}
	name := "test-" + run.RunID[:8]

	s.mu.Lock()
	s.testRuns[name] = run
	s.inFlight[name] = &atomic.Bool{}
	s.mu.Unlock()

	time.AfterFunc(time.Duration(delaySeconds)*time.Second, func() {
		s.mu.Lock()
		delete(s.testRuns, name)
		s.mu.Unlock()
		s.fire(name)
	})

	log.Printf("[scheduler] test run %s scheduled in %ds (at %v)", run.RunID, delaySeconds, run.ScheduledAt)
	return run, nil
}

// Status reports the scheduler state and upcoming fire times, soonest
// first.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.running, Paused: s.paused}
	pendingTests := make(map[string]TestRun, len(s.testRuns))
	for name, run := range s.testRuns {
		pendingTests[name] = run
	}
	triggerIDs := make(map[string]cron.EntryID, len(s.triggers))
	for name, trig := range s.triggers {
		triggerIDs[name] = trig.entryID
	}
	s.mu.Unlock()

	for _, entry := range s.cron.Entries() {
		for name, id := range triggerIDs {
			if entry.ID == id && !entry.Next.IsZero() {
				st.NextFires = append(st.NextFires, NextFire{Name: name, At: entry.Next})
			}
		}
	}
	for name, run := range pendingTests {
		st.NextFires = append(st.NextFires, NextFire{Name: name, At: run.ScheduledAt})
	}
	sort.Slice(st.NextFires, func(i, j int) bool {
		return st.NextFires[i].At.Before(st.NextFires[j].At)
	})
	return st
}

// fireCalendar is the cron entrypoint for calendar triggers. Pause gates
// here, not in fire, so manual and test runs still work while paused.
func (s *Scheduler) fireCalendar(name string) {
	if s.isPaused() {
		log.Printf("[scheduler] paused, suppressing %s fire", name)
		return
	}
	gate := s.inFlight[name]
	if !gate.CompareAndSwap(false, true) {
		// Previous fire of this trigger is still executing: drop, don't
		// queue.
		log.Printf("[scheduler] %s fire dropped, previous fire still running", name)
		return
	}
	defer gate.Store(false)
	s.fire(name)
}

// fireStats is what one successful or partial pipeline pass produced.
type fireStats struct {
	itemsFetched int
	digestID     int64
}

// fire runs one complete trigger execution: precondition checks, the
// retried pipeline, and exactly one summarizing run record (calendar-skip
// preconditions short-circuit with their own standalone record before any
// fetch attempt).
func (s *Scheduler) fire(kind string) {
	now := s.now()
	log.Printf("[scheduler] starting fire (trigger: %s)", kind)

	if kind == TriggerTradingHours && !IsTradingDay(now.In(s.location)) {
		date := now.In(s.location).Format("2006-01-02")
		log.Printf("[scheduler] skipping trading-hours fire: %s is a weekend or market holiday", date)
		s.record(store.RunRecord{
			At:          now,
			TriggerKind: kind,
			Status:      store.StatusSkipped,
			Error:       fmt.Sprintf("%s is a weekend or market holiday", date),
		})
		return
	}

	handles, err := s.st.ListTrackedAccountHandles()
	if err != nil {
		s.record(store.RunRecord{At: now, TriggerKind: kind, Status: store.StatusError, Error: err.Error()})
		return
	}
	if len(handles) == 0 {
		log.Println("[scheduler] no accounts tracked, nothing to fetch")
		s.record(store.RunRecord{
			At:          now,
			TriggerKind: kind,
			Status:      store.StatusSkipped,
			Error:       "no accounts tracked",
		})
		return
	}

	ctx := context.Background()
	var stats fireStats
	result := RunWithRetry(func() (bool, error) {
		st, empty, err := s.runPipeline(ctx, handles)
		stats = st
		return empty, err
	}, s.policy, s.sleep)

	rec := store.RunRecord{
		At:             now,
		TriggerKind:    kind,
		Status:         result.Status,
		RetryCount:     result.RetryCount,
		ItemsFetched:   stats.itemsFetched,
		DigestProduced: stats.digestID != 0,
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	s.record(rec)
	log.Printf("[scheduler] fire complete (trigger: %s, status: %s, items: %d)", kind, result.Status, stats.itemsFetched)
}

// runPipeline is one attempt of a fire's work: sync every account
// sequentially, aggregate new items, generate and upsert the digest, then
// advance every account's cursor. empty=true means the aggregate was empty
// and only cursors were advanced.
func (s *Scheduler) runPipeline(ctx context.Context, handles []string) (fireStats, bool, error) {
	var aggregate []source.Item
	results := make(map[string]fetch.Result, len(handles))
	var failures []error

	// Sequential on purpose: the source client spaces consecutive upstream
	// calls to honor the rate limit.
	for _, handle := range handles {
		res := s.syncer.SyncAccount(ctx, handle)
		switch res.Outcome {
		case fetch.OutcomeError:
			failures = append(failures, fmt.Errorf("%s: %w", handle, res.Err))
		case fetch.OutcomeItems:
			log.Printf("[scheduler] %s: %d new items", handle, len(res.Items))
			aggregate = append(aggregate, res.Items...)
			results[handle] = res
		case fetch.OutcomeEmpty:
			log.Printf("[scheduler] %s: no new items", handle)
			results[handle] = res
		}
	}
	if len(failures) > 0 {
		// Successfully synced accounts keep their old cursors; the retry
		// re-fetches them and the digest upsert dedupes.
		return fireStats{}, false, errors.Join(failures...)
	}

	if len(aggregate) == 0 {
		for _, handle := range handles {
			if err := s.syncer.Advance(results[handle].Cursor, 0); err != nil {
				return fireStats{}, false, err
			}
		}
		return fireStats{}, true, nil
	}

	var previous string
	if latest, err := s.st.LatestDigest(); err == nil && latest != nil {
		previous = latest.Body
	}

	body, err := s.generator.Generate(ctx, previous, aggregate, handles)
	if err != nil {
		// The items were fetched; advancing cursors prevents re-fetching
		// them even though this fire failed to produce a digest.
		for _, handle := range handles {
			if aerr := s.syncer.Advance(results[handle].Cursor, 0); aerr != nil {
				log.Printf("[scheduler] cursor advance for %s failed after generation error: %v", handle, aerr)
			}
		}
		var genErr *digest.GenerationError
		if errors.As(err, &genErr) {
			return fireStats{itemsFetched: len(aggregate)}, false, err
		}
		return fireStats{itemsFetched: len(aggregate)}, false, &digest.GenerationError{Err: err}
	}

	ids := make([]string, 0, len(aggregate))
	for _, it := range aggregate {
		if it.ID != "" {
			ids = append(ids, it.ID)
		}
	}
	digestID, err := s.st.UpsertDigest(body, ids, s.now())
	if err != nil {
		return fireStats{itemsFetched: len(aggregate)}, false, err
	}

	for _, handle := range handles {
		if err := s.syncer.Advance(results[handle].Cursor, digestID); err != nil {
			return fireStats{itemsFetched: len(aggregate), digestID: digestID}, false, err
		}
	}
	return fireStats{itemsFetched: len(aggregate), digestID: digestID}, false, nil
}

func (s *Scheduler) record(r store.RunRecord) {
	if _, err := s.st.AppendRunRecord(r); err != nil {
		log.Printf("[scheduler] failed to append run record: %v", err)
	}
}
