// Package supervisor keeps one live stream playing.
//
// A Supervisor attaches a stream to an Element, either natively or through an
// adaptive Engine, watches it through element signals, engine errors and a
// periodic watchdog, and escalates through live-edge nudges, soft resyncs,
// media-pipeline recovery and finally teardown with exponential backoff.
// Every method must be called on the event loop that owns the supervisor.
package supervisor

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"streamwall/internal/eventloop"
	"streamwall/internal/liveedge"
	"streamwall/internal/platform/logger"
)

// Options carries a supervisor's collaborators.
type Options struct {
	Config   Config
	Engines  EngineFactory
	Observer Observer
	Logger   *slog.Logger
	// Jitter returns a random delay in [0, max). Nil uses math/rand.
	Jitter func(max time.Duration) time.Duration
}

type playbackPath int

const (
	pathNone playbackPath = iota
	pathNative
	pathAdaptive
)

// Supervisor owns the playback state of one stream.
type Supervisor struct {
	id      ID
	desc    Descriptor
	cfg     Config
	loop    *eventloop.Loop
	el      Element
	engines EngineFactory
	obs     Observer
	log     *slog.Logger
	jitter  func(time.Duration) time.Duration

	phase     Phase
	status    Status
	loading   bool
	attached  bool
	destroyed bool
	cycle     string

	engine       Engine
	engineCancel []func()
	elCancel     func()

	retryCount           int
	mediaRecoveryCount   int
	networkRecoveryCount int

	lastProgressAt     time.Time
	lastSoftRecoveryAt time.Time
	lastLiveNudgeAt    time.Time
	bufferingSince     time.Time

	lastCurrentTime float64
	lastBufferedEnd float64

	startupTimer  *eventloop.Timer
	watchdogTimer *eventloop.Timer
	retryTimer    *eventloop.Timer
	attachTimer   *eventloop.Timer
	nudgeTimer    *eventloop.Timer
}

// New creates an idle supervisor and subscribes it to el. The subscription lives
// until Destroy.
func New(id ID, desc Descriptor, loop *eventloop.Loop, el Element, opts Options) *Supervisor {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = randomJitter
	}

	s := &Supervisor{
		id:      id,
		desc:    desc,
		cfg:     opts.Config.withDefaults(),
		loop:    loop,
		el:      el,
		engines: opts.Engines,
		obs:     obs,
		jitter:  jitter,
		log: log.With(
			slog.String("stream_id", id.String()),
			slog.String("title", desc.DisplayTitle()),
		),
	}
	s.lastProgressAt = loop.Now()
	s.elCancel = el.Subscribe(s.handleEvent)
	return s
}

// ID returns the supervisor's registry key.
func (s *Supervisor) ID() ID { return s.id }

// Descriptor returns the supervised stream.
func (s *Supervisor) Descriptor() Descriptor { return s.desc }

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase { return s.phase }

// Status returns the message currently shown for the stream.
func (s *Supervisor) Status() Status { return s.status }

// Health returns a snapshot for the outage monitor.
func (s *Supervisor) Health() Health {
	return Health{
		Attached:       s.attached,
		RetryPending:   s.retryTimer != nil,
		AttachPending:  s.attachTimer != nil,
		Paused:         s.el.Paused(),
		LastProgressAt: s.lastProgressAt,
		Phase:          s.phase,
		RetryCount:     s.retryCount,
	}
}

// Attach starts playback of the stream. It is a no-op while attached.
func (s *Supervisor) Attach() {
	if s.destroyed || s.attached {
		return
	}

	s.clearAttachTimer()
	s.attached = true
	s.clearRetryTimer()
	s.cycle = uuid.NewString()
	s.setPhase(PhaseAttaching)
	s.setStatus("Connecting...", KindInfo)
	s.setLoading(true)

	s.lastProgressAt = s.loop.Now()
	s.lastCurrentTime = 0
	s.lastBufferedEnd = 0
	s.bufferingSince = time.Time{}
	s.clearNudgeTimer()
	s.mediaRecoveryCount = 0
	s.networkRecoveryCount = 0
	s.lastLiveNudgeAt = time.Time{}

	s.startStartupTimer()
	s.startWatchdog()

	path := s.selectPath()
	s.log.Debug("attaching stream",
		slog.String("cycle", s.cycle),
		slog.String("src", logger.RedactURL(s.desc.Src)),
		slog.Int("retry_count", s.retryCount),
		slog.Bool("native", path == pathNative))

	switch path {
	case pathNative:
		s.el.SetSource(s.desc.Src)
		s.attemptPlay()
	case pathAdaptive:
		s.attachEngine()
	default:
		s.fail("Stream format not supported on this platform")
	}
}

// QueueAttach arms a one-shot attach after delay. It does nothing while the
// stream is attached, a retry is pending, an attach is already queued, or the
// stream has permanently failed.
func (s *Supervisor) QueueAttach(delay time.Duration) {
	if s.destroyed || s.attached || s.retryTimer != nil || s.attachTimer != nil {
		return
	}
	if s.phase == PhaseFailed {
		return
	}
	s.attachTimer = s.loop.AfterFunc(max(0, delay), func() {
		s.attachTimer = nil
		if !s.attached && s.retryTimer == nil {
			s.Attach()
		}
	})
}

// RetryNow drops any pending retry, tears the stream down and queues a fresh
// attach after delay. resetBackoff restarts the backoff ladder.
func (s *Supervisor) RetryNow(resetBackoff bool, delay time.Duration) {
	if s.destroyed {
		return
	}
	if resetBackoff {
		s.retryCount = 0
		s.mediaRecoveryCount = 0
	}
	s.clearRetryTimer()
	s.clearAttachTimer()
	if s.attached {
		s.teardown(false)
	}
	s.setPhase(PhaseIdle)
	s.QueueAttach(delay)
}

// MarkOffline shows the waiting-for-network message.
func (s *Supervisor) MarkOffline() {
	if s.destroyed {
		return
	}
	s.setStatus("Offline. Waiting for network...", KindWarning)
}

// Stop tears the stream down and cancels every pending timer, clearing the status.
func (s *Supervisor) Stop() {
	s.clearRetryTimer()
	s.clearAttachTimer()
	s.teardown(false)
	s.setLoading(false)
	s.setPhase(PhaseIdle)
}

// Destroy stops the supervisor for good and releases its element subscription.
func (s *Supervisor) Destroy() {
	if s.destroyed {
		return
	}
	s.Stop()
	if s.elCancel != nil {
		s.elCancel()
		s.elCancel = nil
	}
	s.destroyed = true
}

func (s *Supervisor) selectPath() playbackPath {
	if s.el.CanPlayNative() {
		return pathNative
	}
	if s.engines != nil && s.engines.Supported() {
		return pathAdaptive
	}
	return pathNone
}

func (s *Supervisor) attachEngine() {
	eng, err := s.engines.New(s.cfg.Engine)
	if err != nil {
		s.log.Warn("engine construction failed", slog.String("error", err.Error()))
		s.scheduleRecovery("Player initialisation failed")
		return
	}

	s.engine = eng
	s.engineCancel = []func(){
		eng.OnError(func(e EngineError) {
			if s.engine == eng {
				s.handleEngineError(e)
			}
		}),
		eng.OnManifestParsed(func() {
			if s.engine == eng {
				s.attemptPlay()
			}
		}),
	}
	eng.LoadSource(s.desc.Src)
	eng.AttachMedia(s.el)
}

func (s *Supervisor) attemptPlay() {
	if !s.attached {
		return
	}
	if err := s.el.Play(); err == nil {
		return
	}
	if err := s.el.Play(); err != nil {
		s.log.Debug("play rejected", slog.String("error", err.Error()))
		s.scheduleRecovery("Playback start rejected")
	}
}

func (s *Supervisor) handleEvent(ev Event) {
	if s.destroyed || !s.attached {
		return
	}
	now := s.loop.Now()

	switch ev {
	case EventPlaying:
		if s.retryCount > 0 {
			s.log.Info("stream recovered", slog.Int("retry_count", s.retryCount))
		}
		s.retryCount = 0
		s.mediaRecoveryCount = 0
		s.networkRecoveryCount = 0
		s.lastCurrentTime = s.el.CurrentTime()
		s.lastBufferedEnd = s.el.BufferedEnd()
		s.lastProgressAt = now
		s.bufferingSince = time.Time{}
		s.clearNudgeTimer()
		s.setLoading(false)
		s.clearStartupTimer()
		s.clearStatus()
		s.setPhase(PhasePlaying)

	case EventCanPlay:
		s.lastBufferedEnd = s.el.BufferedEnd()
		s.lastProgressAt = now
		s.bufferingSince = time.Time{}
		s.clearNudgeTimer()

	case EventTimeUpdate:
		s.lastCurrentTime = s.el.CurrentTime()
		s.lastBufferedEnd = s.el.BufferedEnd()
		s.lastProgressAt = now
		s.bufferingSince = time.Time{}
		s.clearNudgeTimer()

	case EventWaiting:
		if s.bufferingSince.IsZero() {
			s.bufferingSince = now
		}
		if s.phase == PhasePlaying {
			s.setPhase(PhaseBuffering)
		}

	case EventStalled:
		if s.bufferingSince.IsZero() {
			s.bufferingSince = now
			return
		}
		if now.Sub(s.bufferingSince) < s.cfg.StallEventGrace {
			return
		}
		if !s.tryNudge("Stream stalled") {
			s.scheduleRecovery("Stream stalled")
		}

	case EventError:
		s.scheduleRecovery("Video element error")
	}
}

func (s *Supervisor) handleEngineError(e EngineError) {
	if !s.attached || s.engine == nil {
		return
	}

	if e.Details == DetailsBufferStalled && s.tryNudge("Buffer stall detected") {
		return
	}
	if !e.Fatal {
		return
	}

	s.log.Warn("fatal engine error",
		slog.String("type", e.Type.String()),
		slog.String("details", e.Details),
		slog.Int("media_recoveries", s.mediaRecoveryCount),
		slog.Int("network_recoveries", s.networkRecoveryCount))

	if e.Type == MediaError && s.mediaRecoveryCount < s.cfg.MaxMediaRecoveries {
		s.mediaRecoveryCount++
		if err := s.engine.RecoverMediaError(); err == nil {
			s.setStatus("Recovering media pipeline...", KindWarning)
			s.obs.Recovery(s.id, ActionMediaRecover, e.Details, 0)
			return
		}
	}

	if e.Type == NetworkError && s.networkRecoveryCount < s.cfg.MaxNetworkRecoveries {
		s.networkRecoveryCount++
		now := s.loop.Now()
		s.lastSoftRecoveryAt = now
		s.lastProgressAt = now
		s.setStatus("Network hiccup. Re-syncing...", KindWarning)
		if err := s.engine.StartLoad(-1); err == nil {
			s.obs.Recovery(s.id, ActionSoftResync, e.Details, 0)
			s.attemptPlay()
			return
		}
	}

	reason := "Playback error"
	if e.Type == NetworkError {
		reason = "Network interruption"
	}
	s.scheduleRecovery(reason)
}

func (s *Supervisor) startStartupTimer() {
	s.clearStartupTimer()
	s.startupTimer = s.loop.AfterFunc(s.cfg.StartupTimeout, func() {
		s.startupTimer = nil
		if s.attached {
			s.scheduleRecovery("Startup timeout")
		}
	})
}

func (s *Supervisor) startWatchdog() {
	s.clearWatchdog()
	s.watchdogTimer = s.loop.Every(s.cfg.WatchdogTick, s.watchdog)
}

func (s *Supervisor) watchdog() {
	if !s.attached {
		return
	}

	now := s.loop.Now()
	bufferedEnd := s.el.BufferedEnd()
	if bufferedEnd > s.lastBufferedEnd+s.cfg.BufferProgressEpsilon {
		s.lastBufferedEnd = bufferedEnd
		s.lastProgressAt = now
	}

	if !s.bufferingSince.IsZero() && now.Sub(s.bufferingSince) < s.cfg.BufferingGrace {
		return
	}

	if s.el.Paused() {
		if now.Sub(s.lastProgressAt) >= s.cfg.StallWindow {
			s.scheduleRecovery("Playback paused unexpectedly")
		}
		return
	}

	current := s.el.CurrentTime()
	if current > s.lastCurrentTime+s.cfg.TimeProgressEpsilon {
		s.lastCurrentTime = current
		s.lastProgressAt = now
		return
	}

	stalledFor := now.Sub(s.lastProgressAt)
	if stalledFor < s.cfg.StallWindow {
		return
	}

	if s.tryNudge("Stream lag detected") {
		return
	}

	if s.engine != nil &&
		now.Sub(s.lastSoftRecoveryAt) >= s.cfg.SoftRecoveryCooldown &&
		s.networkRecoveryCount < s.cfg.MaxNetworkRecoveries {
		s.networkRecoveryCount++
		s.lastSoftRecoveryAt = now
		s.lastProgressAt = now
		s.bufferingSince = now
		s.setStatus("Stream lag detected. Re-syncing...", KindWarning)
		if err := s.engine.StartLoad(-1); err == nil {
			s.obs.Recovery(s.id, ActionSoftResync, "stream lag", 0)
			s.attemptPlay()
			return
		}
	}

	lowBuffer := s.el.ReadyState() < HaveCurrentData || bufferedEnd-current < s.cfg.LowBufferAhead
	if lowBuffer || stalledFor >= 2*s.cfg.StallWindow {
		s.scheduleRecovery("Playback heartbeat timeout")
	}
}

// tryNudge seeks towards the live edge when the estimator allows it and arms a
// verification timer. It reports whether a nudge was made.
func (s *Supervisor) tryNudge(label string) bool {
	if !s.attached {
		return false
	}

	now := s.loop.Now()
	current := s.el.CurrentTime()
	in := liveedge.Input{
		Now:         now,
		LastNudgeAt: s.lastLiveNudgeAt,
		CurrentTime: current,
		BufferedEnd: s.el.BufferedEnd(),
		Seekable:    s.el.Seekable(),
	}
	if s.engine != nil {
		in.LiveSync, in.HasLiveSync = s.engine.LiveSyncPosition()
	}
	target, ok := liveedge.Target(in, s.cfg.LiveEdge)
	if !ok {
		return false
	}

	if s.engine != nil {
		if err := s.engine.StartLoad(-1); err != nil {
			s.log.Debug("restart load during nudge failed", slog.String("error", err.Error()))
		}
	}
	if err := s.el.Seek(target); err != nil {
		s.log.Debug("live-edge seek failed", slog.String("error", err.Error()))
		return false
	}

	s.lastLiveNudgeAt = now
	s.lastProgressAt = now
	s.bufferingSince = now
	s.setStatus(label+". Jumping to live edge...", KindWarning)
	s.obs.Recovery(s.id, ActionNudge, label, 0)
	s.log.Debug("live-edge nudge",
		slog.String("reason", label),
		slog.Float64("from", current),
		slog.Float64("to", target))

	s.attemptPlay()
	if s.attached {
		s.startNudgeVerification(current)
	}
	return true
}

func (s *Supervisor) startNudgeVerification(before float64) {
	s.clearNudgeTimer()
	s.nudgeTimer = s.loop.AfterFunc(s.cfg.NudgeVerify, func() {
		s.nudgeTimer = nil
		if !s.attached {
			return
		}
		advanced := s.el.CurrentTime() > before+s.cfg.NudgeAdvanceEpsilon
		recent := s.loop.Now().Sub(s.lastProgressAt) < s.cfg.NudgeProgressWindow
		if advanced || recent {
			return
		}
		s.scheduleRecovery("Live-edge jump did not recover playback")
	})
}

// scheduleRecovery tears the stream down and arms a backoff retry. It is the
// single entry point for full recovery; a pending retry makes it a no-op.
func (s *Supervisor) scheduleRecovery(reason string) {
	if !s.attached || s.retryTimer != nil {
		return
	}

	s.retryCount++
	s.bufferingSince = time.Time{}
	s.clearNudgeTimer()
	delay := Backoff(s.retryCount, s.cfg.BaseRetryDelay, s.cfg.MaxRetryDelay)
	seconds := int(math.Ceil(delay.Seconds()))

	s.teardown(true)
	s.setStatus(fmt.Sprintf("%s. Retrying in %ds...", reason, seconds), KindWarning)
	s.setPhase(PhaseRetrying)
	s.obs.Recovery(s.id, ActionRetry, reason, delay)
	s.log.Info("stream recovery scheduled",
		slog.String("reason", reason),
		slog.Int("retry_count", s.retryCount),
		slog.Duration("delay", delay))

	s.retryTimer = s.loop.AfterFunc(delay, func() {
		s.retryTimer = nil
		s.QueueAttach(s.jitter(s.cfg.RetryJitter))
	})
}

func (s *Supervisor) fail(message string) {
	s.teardown(true)
	s.setLoading(false)
	s.setStatus(message, KindError)
	s.setPhase(PhaseFailed)
	s.obs.Recovery(s.id, ActionFail, message, 0)
	s.log.Error("stream cannot be played", slog.String("reason", message))
}

// teardown releases everything owned by the current attach cycle. It is safe to
// call repeatedly. keepStatus leaves the current message on screen.
func (s *Supervisor) teardown(keepStatus bool) {
	s.attached = false
	s.bufferingSince = time.Time{}
	s.clearNudgeTimer()
	s.clearStartupTimer()
	s.clearWatchdog()

	s.el.Pause()

	if s.engine != nil {
		for _, cancel := range s.engineCancel {
			cancel()
		}
		s.engineCancel = nil
		s.engine.Destroy()
		s.engine = nil
	}

	s.el.ClearSource()

	if !keepStatus {
		s.clearStatus()
	}
}

func (s *Supervisor) setStatus(message string, kind StatusKind) {
	s.status = Status{Message: message, Kind: kind, Visible: true}
	s.obs.StatusChanged(s.id, s.status)
}

func (s *Supervisor) clearStatus() {
	if s.status == (Status{}) {
		return
	}
	s.status = Status{}
	s.obs.StatusChanged(s.id, s.status)
}

func (s *Supervisor) setLoading(loading bool) {
	if s.loading == loading {
		return
	}
	s.loading = loading
	s.obs.LoadingChanged(s.id, loading)
}

func (s *Supervisor) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	s.obs.PhaseChanged(s.id, p)
}

func (s *Supervisor) clearStartupTimer() {
	s.startupTimer.Stop()
	s.startupTimer = nil
}

func (s *Supervisor) clearWatchdog() {
	s.watchdogTimer.Stop()
	s.watchdogTimer = nil
}

func (s *Supervisor) clearRetryTimer() {
	s.retryTimer.Stop()
	s.retryTimer = nil
}

func (s *Supervisor) clearAttachTimer() {
	s.attachTimer.Stop()
	s.attachTimer = nil
}

func (s *Supervisor) clearNudgeTimer() {
	s.nudgeTimer.Stop()
	s.nudgeTimer = nil
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
