package session

import (
	"fmt"
	"log/slog"
	"sort"
)

const autoLabel = "Auto"

// QualityNegotiator maps the player's renditions onto a picker model with a
// synthetic auto option. It only reports a selection after the player
// accepted it, so the options always describe what the player is doing.
type QualityNegotiator struct {
	player Player
	log    *slog.Logger

	renditions []Rendition // height desc, bitrate desc
	auto       bool
	current    string // rendition the player is on, pinned or reported
	options    []QualityOption
}

// NewQualityNegotiator returns a negotiator in auto mode with no renditions.
func NewQualityNegotiator(player Player, log *slog.Logger) *QualityNegotiator {
	n := &QualityNegotiator{player: player, log: log, auto: true}
	n.rebuild()
	return n
}

// Options returns a copy of the current option list.
func (n *QualityNegotiator) Options() []QualityOption {
	return append([]QualityOption(nil), n.options...)
}

// Auto reports whether the player is in automatic bitrate mode.
func (n *QualityNegotiator) Auto() bool { return n.auto }

// OnRenditionsDiscovered rebuilds the option list from the renditions the
// player reported. If a pinned rendition disappeared the player is moved back
// to auto mode so the selection stays truthful.
func (n *QualityNegotiator) OnRenditionsDiscovered(renditions []Rendition) []QualityOption {
	n.renditions = sortRenditions(renditions)

	if !n.auto {
		if _, ok := n.find(n.current); !ok {
			n.log.Warn("pinned rendition vanished, falling back to auto",
				slog.String("rendition", n.current))
			if err := n.player.SelectAuto(); err != nil {
				n.log.Error("fallback to auto quality failed", slog.String("error", err.Error()))
			}
			n.auto = true
			n.current = ""
		}
	}
	n.rebuild()
	return n.Options()
}

// Select applies a user choice. Failures leave the selection unchanged and
// are returned for logging only; they never affect playback.
func (n *QualityNegotiator) Select(opt QualityOption) error {
	if opt.IsAuto {
		if err := n.player.SelectAuto(); err != nil {
			n.log.Warn("select auto quality failed", slog.String("error", err.Error()))
			return fmt.Errorf("select auto: %w", err)
		}
		n.auto = true
		n.rebuild()
		return nil
	}

	r, ok := n.find(opt.ID)
	if !ok {
		n.log.Warn("select quality rejected", slog.String("rendition", opt.ID),
			slog.String("error", ErrRenditionUnavailable.Error()))
		return ErrRenditionUnavailable
	}
	if err := n.player.SelectRendition(r.ID); err != nil {
		n.log.Warn("select quality failed", slog.String("rendition", r.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("select rendition %s: %w", r.ID, err)
	}
	n.auto = false
	n.current = r.ID
	n.rebuild()
	return nil
}

// SelectAutoMax pins the rendition with the highest width*height+bitrate score.
// It is a no-op when no renditions are known.
func (n *QualityNegotiator) SelectAutoMax() error {
	if len(n.renditions) == 0 {
		return nil
	}
	best := n.renditions[0]
	for _, r := range n.renditions[1:] {
		if r.score() > best.score() {
			best = r
		}
	}
	return n.Select(optionFor(best, false))
}

// OnPlayerSwitched records a rendition change made by the player itself.
// Reports that arrive while a rendition is pinned are stale and ignored.
func (n *QualityNegotiator) OnPlayerSwitched(r Rendition) []QualityOption {
	if !n.auto {
		n.log.Debug("player switch ignored while pinned", slog.String("rendition", r.ID))
		return n.Options()
	}
	if _, ok := n.find(r.ID); !ok {
		n.renditions = sortRenditions(append(n.renditions, r))
	}
	n.current = r.ID
	n.rebuild()
	return n.Options()
}

// Reset forgets all renditions and returns to auto mode.
func (n *QualityNegotiator) Reset() {
	n.renditions = nil
	n.auto = true
	n.current = ""
	n.rebuild()
}

func (n *QualityNegotiator) find(id string) (Rendition, bool) {
	if id == "" {
		return Rendition{}, false
	}
	for _, r := range n.renditions {
		if r.ID == id {
			return r, true
		}
	}
	return Rendition{}, false
}

// rebuild recomputes options so that exactly one is selected.
func (n *QualityNegotiator) rebuild() {
	opts := make([]QualityOption, 0, len(n.renditions)+1)

	auto := QualityOption{Label: autoLabel, IsAuto: true, IsSelected: n.auto}
	if n.auto {
		if r, ok := n.find(n.current); ok {
			auto.Label = autoLabel + " (" + renditionLabel(r) + ")"
			auto.Width, auto.Height, auto.Bitrate = r.Width, r.Height, r.Bitrate
		}
	}
	opts = append(opts, auto)

	selected := n.auto
	for _, r := range n.renditions {
		opt := optionFor(r, !n.auto && r.ID == n.current)
		selected = selected || opt.IsSelected
		opts = append(opts, opt)
	}
	if !selected {
		opts[0].IsSelected = true
	}
	n.options = opts
}

func optionFor(r Rendition, selected bool) QualityOption {
	return QualityOption{
		ID:         r.ID,
		Label:      renditionLabel(r),
		Width:      r.Width,
		Height:     r.Height,
		Bitrate:    r.Bitrate,
		IsSelected: selected,
	}
}

func renditionLabel(r Rendition) string {
	switch {
	case r.Height > 0:
		return fmt.Sprintf("%dp", r.Height)
	case r.Bitrate > 0:
		return fmt.Sprintf("%d kbps", r.Bitrate/1000)
	default:
		return r.ID
	}
}

func sortRenditions(in []Rendition) []Rendition {
	out := make([]Rendition, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height > out[j].Height
		}
		return out[i].Bitrate > out[j].Bitrate
	})
	return out
}
