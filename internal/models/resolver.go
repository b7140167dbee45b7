package models

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/thatcatdev/tether/pkg/api"
)

// Inventory is the daemon's model catalogue. *daemon.Client implements it.
type Inventory interface {
	List(ctx context.Context) ([]api.ModelInfo, error)
	Pull(ctx context.Context, model string, fn func(api.ProgressResponse) error) error
}

// Resolver maps a requested model id onto an installed model, pulling it
// when nothing matches.
type Resolver struct {
	inv    Inventory
	out    io.Writer
	logger *zap.Logger
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Out receives human-readable status and pull progress. Nil discards.
	Out     io.Writer
	Silence bool
	Logger  *zap.Logger
}

// NewResolver creates a Resolver over inv.
func NewResolver(inv Inventory, cfg ResolverConfig) *Resolver {
	out := cfg.Out
	if out == nil || cfg.Silence {
		out = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{inv: inv, out: out, logger: logger}
}

// Resolve finds the installed model for requested. An exact name wins
// anywhere in the inventory; otherwise the first name containing requested
// is used, reported as tagged when its untagged form equals requested.
// Inventory order therefore decides between candidates. With no match the model is
// pulled and requested is returned as the resolved id.
func (r *Resolver) Resolve(ctx context.Context, requested string) (Record, error) {
	inventory, err := r.inv.List(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("list models: %w", err)
	}

	if rec, ok := match(requested, inventory); ok {
		switch rec.Match {
		case MatchTagged:
			fmt.Fprintf(r.out, "LLM model found, running %s...\n", rec.Resolved)
		case MatchPartial:
			fmt.Fprintf(r.out, "LLM partial match found, running %s...\n", rec.Resolved)
		}
		r.logger.Debug("model resolved",
			zap.String("requested", requested),
			zap.String("resolved", rec.Resolved),
			zap.Stringer("match", rec.Match))
		return rec, nil
	}

	if err := r.pull(ctx, requested); err != nil {
		return Record{}, err
	}
	return Record{Requested: requested, Resolved: requested, Match: MatchPulled}, nil
}

func match(requested string, inventory []api.ModelInfo) (Record, bool) {
	for _, m := range inventory {
		if m.Name == requested {
			return Record{Requested: requested, Resolved: requested, Present: true, Match: MatchExact}, true
		}
	}
	for _, m := range inventory {
		if !strings.Contains(m.Name, requested) {
			continue
		}
		rec := Record{Requested: requested, Resolved: m.Name, Present: true, Match: MatchPartial}
		if untagged, _, _ := strings.Cut(m.Name, ":"); untagged == requested {
			rec.Match = MatchTagged
		}
		return rec, true
	}
	return Record{}, false
}

func (r *Resolver) pull(ctx context.Context, model string) error {
	fmt.Fprintf(r.out, "LLM model not found, searching '%s'...\n", model)
	r.logger.Info("pulling model", zap.String("model", model))

	announced := false
	err := r.inv.Pull(ctx, model, func(p api.ProgressResponse) error {
		if !announced {
			fmt.Fprintf(r.out, "LLM model %s found, downloading... (this will probably take a while)\n", model)
			announced = true
		}
		fmt.Fprintln(r.out, FormatProgress(p))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Warn("pull failed", zap.String("model", model), zap.Error(err))
		return fmt.Errorf("%w %q: %v; see the model library at %s", ErrInvalidModel, model, err, LibraryURL)
	}

	fmt.Fprintf(r.out, "'%s' downloaded, starting processes.\n", model)
	return nil
}

// FormatProgress renders one pull progress event.
func FormatProgress(p api.ProgressResponse) string {
	if p.Total <= 0 {
		return p.Status
	}
	pct := float64(p.Completed) / float64(p.Total) * 100
	return fmt.Sprintf("%s: %.1f%% (%s / %s)", p.Status, pct, FormatSize(p.Completed), FormatSize(p.Total))
}
