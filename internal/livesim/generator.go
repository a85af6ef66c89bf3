package livesim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Generator produces one segment per rendition and stream every segment
// duration, like an encoder pushing to the origin.
type Generator struct {
	repo       *Repository
	clk        clock.Clock
	log        *slog.Logger
	duration   time.Duration
	keep       int
	renditions []Rendition
	streams    []StreamID
	next       int64
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Streams         []StreamID
	Renditions      []Rendition
	SegmentDuration time.Duration
	// Keep is how many segments per rendition stay fetchable. It should be larger
	// than the origin's window so players can finish downloading the tail.
	Keep int
}

// NewGenerator declares cfg's streams and renditions in repo.
func NewGenerator(repo *Repository, clk clock.Clock, cfg GeneratorConfig, log *slog.Logger) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = 2 * time.Second
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 2 * DefaultWindowSize
	}
	if len(cfg.Renditions) == 0 {
		cfg.Renditions = DefaultRenditions
	}
	for _, s := range cfg.Streams {
		for _, r := range cfg.Renditions {
			repo.AddRendition(s, r)
		}
	}
	return &Generator{
		repo:       repo,
		clk:        clk,
		log:        log,
		duration:   cfg.SegmentDuration,
		keep:       cfg.Keep,
		renditions: cfg.Renditions,
		streams:    cfg.Streams,
	}
}

// Prime registers n segments immediately so playlists start with a full window.
func (g *Generator) Prime(n int) {
	for range n {
		g.Step()
	}
}

// Step registers the next sequence number on every stream that is neither
// frozen nor ended, then prunes segments older than the keep window.
func (g *Generator) Step() {
	seq := g.next
	g.next++
	for _, s := range g.streams {
		if frozen, _ := g.repo.Faults(s); frozen {
			continue
		}
		for _, r := range g.renditions {
			seg := Segment{
				Sequence: seq,
				Duration: g.duration.Seconds(),
				Path:     fmt.Sprintf("%d.ts", seq),
			}
			if err := g.repo.RegisterSegment(s, r.ID, seg); err != nil {
				g.log.Debug("segment skipped",
					slog.String("stream_id", string(s)),
					slog.String("rendition", string(r.ID)),
					slog.Int64("sequence", seq),
					slog.String("error", err.Error()))
				continue
			}
			g.repo.Prune(s, r.ID, seq-int64(g.keep)+1)
		}
	}
}

// Run calls Step every segment duration until ctx is done.
func (g *Generator) Run(ctx context.Context) {
	ticker := g.clk.Ticker(g.duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}
