// Package position persists the reading position per guide, debouncing the
// write storm a scrolling reader produces into one commit per settle
// interval.
package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/models"
)

// DefaultSettle is how long a position must hold still before it is
// committed.
const DefaultSettle = 2 * time.Second

type setReq struct {
	guideID string
	line    int
	col     int
}

type getReq struct {
	guideID string
	reply   chan models.Position
}

// Tracker owns all pending position writes. A single goroutine holds the
// state; callers talk to it over channels, so Set never blocks on SQLite.
type Tracker struct {
	db     *index.DB
	logger *slog.Logger
	settle time.Duration

	setCh   chan setReq
	getCh   chan getReq
	flushCh chan chan struct{}
	done    chan struct{}
}

// New starts a tracker. A non-positive settle falls back to DefaultSettle.
func New(db *index.DB, logger *slog.Logger, settle time.Duration) *Tracker {
	if settle <= 0 {
		settle = DefaultSettle
	}
	t := &Tracker{
		db:      db,
		logger:  logger,
		settle:  settle,
		setCh:   make(chan setReq, 64),
		getCh:   make(chan getReq),
		flushCh: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Set records a new position for a guide. Later calls within the settle
// interval replace earlier ones; only the last value reaches the index.
func (t *Tracker) Set(guideID string, line, col int) {
	select {
	case t.setCh <- setReq{guideID: guideID, line: line, col: col}:
	case <-t.done:
	}
}

// Get returns the effective position for a guide: the pending in-memory
// value if one is waiting to settle, otherwise the persisted row.
func (t *Tracker) Get(guideID string) (models.Position, error) {
	reply := make(chan models.Position, 1)
	select {
	case t.getCh <- getReq{guideID: guideID, reply: reply}:
		if p := <-reply; !p.UpdatedAt.IsZero() {
			return p, nil
		}
	case <-t.done:
	}
	return t.db.GetPosition(guideID)
}

// Flush commits every pending position immediately and waits for the
// commits to finish. Called on shutdown and before export.
func (t *Tracker) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case t.flushCh <- ack:
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and stops the tracker goroutine.
func (t *Tracker) Close() error {
	err := t.Flush(context.Background())
	close(t.done)
	return err
}

func (t *Tracker) run() {
	pending := make(map[string]models.Position)
	timer := time.NewTimer(t.settle)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	commitAll := func() {
		for id, p := range pending {
			t.commit(p)
			delete(pending, id)
		}
		armed = false
	}

	for {
		select {
		case req := <-t.setCh:
			pending[req.guideID] = models.Position{
				GuideID:   req.guideID,
				Line:      req.line,
				Column:    req.col,
				UpdatedAt: time.Now().UTC(),
			}
			if !armed {
				timer.Reset(t.settle)
				armed = true
			}
		case req := <-t.getCh:
			req.reply <- pending[req.guideID]
		case <-timer.C:
			commitAll()
		case ack := <-t.flushCh:
			if armed && !timer.Stop() {
				<-timer.C
			}
			commitAll()
			close(ack)
		case <-t.done:
			return
		}
	}
}

// commit clamps the position to the guide's current bounds and upserts it.
// A vanished guide is not an error here: the reader may have deleted it
// while a write was still settling.
func (t *Tracker) commit(p models.Position) {
	g, err := t.db.GetGuide(p.GuideID)
	if err != nil {
		t.logger.Debug("position commit skipped", "guide_id", p.GuideID, "error", err)
		return
	}
	if g.LineCount > 0 && p.Line >= g.LineCount {
		p.Line = g.LineCount - 1
		p.Column = 0
	}
	if p.Line < 0 {
		p.Line = 0
		p.Column = 0
	}
	if err := t.db.SetPosition(p); err != nil {
		t.logger.Error("position commit failed", "guide_id", p.GuideID, "error", err)
	}
}
