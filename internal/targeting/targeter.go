package targeting

import (
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/criteria"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/observability"
)

// Targeter matches engaged events against the current engagement manifest.
// The manifest is swapped atomically so readers never observe a partially
// applied refresh.
type Targeter struct {
	manifest atomic.Pointer[manifest.Manifest]
	engine   *criteria.Engine
	clock    clock.Clock
	logger   *slog.Logger

	// random overrides the random/percent draw in tests.
	random func() float64
}

// New creates a Targeter holding an empty manifest. Nil dependencies fall
// back to the real clock and slog.Default().
func New(clk clock.Clock, logger *slog.Logger) *Targeter {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Targeter{
		engine: criteria.New(logger),
		clock:  clk,
		logger: logger,
	}
	empty := manifest.Empty()
	t.manifest.Store(&empty)
	return t
}

// SetManifest replaces the manifest wholesale.
func (t *Targeter) SetManifest(m manifest.Manifest) {
	t.manifest.Store(&m)
}

// Manifest returns the manifest currently in force.
func (t *Targeter) Manifest() manifest.Manifest {
	return *t.manifest.Load()
}

// Interaction returns the interaction to present for event, if any.
//
// Invocations for the event's code point are tried in manifest order and the
// first whose criteria match decides: a "show" entry returns its interaction,
// an "end" entry returns none. Counters are not touched; the caller records the
// invocation once presentation succeeds.
func (t *Targeter) Interaction(event Event, conv conversation.Conversation) (manifest.Interaction, bool) {
	m := t.manifest.Load()
	codePoint := event.CodePoint()
	now := t.clock.Now()

	found, matched := t.match(m, codePoint, event, conv, now)
	observability.EngagementsTotal.WithLabelValues(strconv.FormatBool(matched)).Inc()
	return found, matched
}

func (t *Targeter) match(m *manifest.Manifest, codePoint string, event Event, conv conversation.Conversation, now time.Time) (manifest.Interaction, bool) {
	invocations := m.Targets[codePoint]
	if len(invocations) == 0 {
		t.logger.Debug("no invocations for code point", "code_point", codePoint)
		return manifest.Interaction{}, false
	}

	for i, inv := range invocations {
		resolver := Resolver{
			Conversation:  conv,
			Event:         event,
			InteractionID: inv.InteractionID,
			Now:           now,
			Random:        t.random,
		}
		if !t.engine.Evaluate(inv.Criteria, resolver) {
			continue
		}

		if inv.Behavior == manifest.BehaviorEnd {
			t.logger.Debug("invocation ended matching",
				"code_point", codePoint,
				"index", i,
			)
			return manifest.Interaction{}, false
		}

		interaction, ok := m.Interaction(inv.InteractionID)
		if !ok {
			t.logger.Warn("skipping invocation for unknown interaction",
				"code_point", codePoint,
				"interaction_id", inv.InteractionID,
			)
			continue
		}

		t.logger.Debug("interaction matched",
			"code_point", codePoint,
			"interaction_id", interaction.ID,
			"type", interaction.Type,
		)
		return interaction, true
	}

	return manifest.Interaction{}, false
}

// CanShow reports whether event would present an interaction right now.
func (t *Targeter) CanShow(event Event, conv conversation.Conversation) bool {
	_, ok := t.match(t.manifest.Load(), event.CodePoint(), event, conv, t.clock.Now())
	return ok
}
