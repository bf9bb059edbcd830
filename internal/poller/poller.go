// Package poller drives the fetch → detect → notify cycle on an interval.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adwatch/internal/dedup"
	"adwatch/internal/fetch"
	"adwatch/internal/model"
)

var (
	ErrCheckAlreadyRunning = errors.New("check already running")
	ErrCheckCooldown       = errors.New("check just finished; wait a few seconds before starting again")
)

// settingSearchParams is the app_settings key holding the active search, so
// edits made through the API survive restarts without touching the config file.
const settingSearchParams = "search_params"

// SettingsStore is the slice of the seen-set the poller reads its saved
// search from.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Options struct {
	Source   fetch.Source
	Engine   *dedup.Engine
	Settings SettingsStore
	Defaults model.SearchParams

	Interval time.Duration
	Jitter   time.Duration
	Timeout  time.Duration

	QueueSize int
	Logger    zerolog.Logger
}

type Poller struct {
	source   fetch.Source
	engine   *dedup.Engine
	settings SettingsStore
	defaults model.SearchParams

	interval time.Duration
	jitter   time.Duration
	timeout  time.Duration

	out chan model.Listing
	log zerolog.Logger

	mu      sync.Mutex
	running bool
	state   RunState
}

// RunState is the poller's status snapshot, served by the admin API.
type RunState struct {
	Running         bool      `json:"running"`
	CurrentCycleID  string    `json:"current_cycle_id"`
	StartedAt       time.Time `json:"started_at"`
	LastCompletedAt time.Time `json:"last_completed_at"`
	LastAttemptAt   time.Time `json:"last_attempt_at"`
	LastDurationMS  int64     `json:"last_duration_ms"`
	LastError       string    `json:"last_error"`
	Cycles          int64     `json:"cycles"`
	LastCycleNew    int       `json:"last_cycle_new"`
}

func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &Poller{
		source:   opts.Source,
		engine:   opts.Engine,
		settings: opts.Settings,
		defaults: opts.Defaults,
		interval: interval,
		jitter:   opts.Jitter,
		timeout:  timeout,
		out:      make(chan model.Listing, queue),
		log:      opts.Logger,
	}
}

// Detected is the channel fresh listings are pushed onto, in detection order.
func (p *Poller) Detected() <-chan model.Listing { return p.out }

// Start launches the interval loop. The first check runs after one interval,
// not immediately, so a crash-looping process does not hammer the marketplace.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.out)
		for {
			wait := p.interval
			if p.jitter > 0 {
				wait += time.Duration(rand.Int63n(int64(p.jitter)))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if err := p.run(ctx, "scheduled"); err != nil &&
				!errors.Is(err, ErrCheckAlreadyRunning) && !errors.Is(err, ErrCheckCooldown) {
				p.log.Error().Err(err).Msg("scheduled check failed")
			}
		}
	}()
}

// RunNow triggers a check outside the schedule, typically from the API.
func (p *Poller) RunNow(ctx context.Context) error {
	return p.run(ctx, "manual")
}

func (p *Poller) run(ctx context.Context, trigger string) error {
	const minRunGap = 15 * time.Second

	cycleID := uuid.NewString()

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrCheckAlreadyRunning
	}
	if !p.state.LastAttemptAt.IsZero() && time.Since(p.state.LastAttemptAt) < minRunGap {
		p.mu.Unlock()
		return ErrCheckCooldown
	}
	p.running = true
	p.state.Running = true
	p.state.CurrentCycleID = cycleID
	p.state.StartedAt = time.Now()
	p.mu.Unlock()

	log := p.log.With().Str("cycle_id", cycleID).Str("trigger", trigger).Logger()
	log.Info().Msg("check started")
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fresh, err := p.cycle(runCtx, log)

	p.mu.Lock()
	p.running = false
	p.state.Running = false
	p.state.CurrentCycleID = ""
	p.state.LastAttemptAt = time.Now()
	p.state.LastDurationMS = time.Since(start).Milliseconds()
	p.state.Cycles++
	if err != nil {
		p.state.LastError = err.Error()
	} else {
		// A soft refusal taught us nothing, so only a clean cycle counts
		// as completed.
		p.state.LastError = ""
		p.state.LastCompletedAt = time.Now()
		p.state.LastCycleNew = fresh
	}
	p.mu.Unlock()

	if err != nil {
		if fetch.IsSoft(err) {
			log.Warn().Err(err).Msg("check skipped: marketplace refused")
			return nil
		}
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("check failed")
		return err
	}
	log.Info().Int("new", fresh).Dur("took", time.Since(start)).Msg("check finished")
	return nil
}

// cycle performs one fetch-and-detect pass and queues fresh listings for
// delivery. Returns how many new listings were found.
func (p *Poller) cycle(ctx context.Context, log zerolog.Logger) (int, error) {
	params, err := p.searchParams(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load saved search, using defaults")
		params = p.defaults
	}

	candidates, err := p.source.Search(ctx, params)
	if err != nil {
		return 0, err
	}

	fresh, rep := p.engine.DetectNew(ctx, candidates)
	if rep.Malformed > 0 || len(rep.Failures) > 0 {
		log.Warn().
			Int("malformed", rep.Malformed).
			Int("storage_failures", len(rep.Failures)).
			Msg("some candidates were not admitted")
	}
	log.Debug().
		Int("candidates", len(candidates)).
		Int("admitted", rep.Admitted).
		Int("duplicates", rep.Duplicates).
		Msg("detection done")

	for _, l := range fresh {
		select {
		case p.out <- l:
		case <-ctx.Done():
			// Already durable in the seen-set; the missed notification is
			// the documented cost of shutting down mid-cycle.
			return rep.Admitted, ctx.Err()
		}
	}
	return rep.Admitted, nil
}

// searchParams returns the saved search from settings, falling back to the
// configured defaults when none has been saved yet.
func (p *Poller) searchParams(ctx context.Context) (model.SearchParams, error) {
	raw, ok, err := p.settings.GetSetting(ctx, settingSearchParams)
	if err != nil {
		return p.defaults, err
	}
	if !ok {
		return p.defaults, nil
	}
	var params model.SearchParams
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return p.defaults, err
	}
	return params, nil
}

// SearchParams exposes the active search for the admin API.
func (p *Poller) SearchParams(ctx context.Context) (model.SearchParams, error) {
	return p.searchParams(ctx)
}

// SaveSearchParams persists a new saved search; the next cycle picks it up.
func (p *Poller) SaveSearchParams(ctx context.Context, params model.SearchParams) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return p.settings.SetSetting(ctx, settingSearchParams, string(raw))
}

// Snapshot returns a copy of the current run state.
func (p *Poller) Snapshot() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
