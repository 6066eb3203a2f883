package automation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/cache"
	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
)

// Selector picks the single automation that answers an event.
type Selector struct {
	store *store.Store
	cache *cache.Cache
	ttl   time.Duration

	// relinkSettle is how long after a link the automation cache is dropped a
	// second time, clearing lists read before the link but written after it.
	relinkSettle time.Duration
}

func NewSelector(s *store.Store, c *cache.Cache, ttl time.Duration) *Selector {
	return &Selector{store: s, cache: c, ttl: ttl, relinkSettle: 2 * time.Second}
}

func (s *Selector) invalidateLinked(ctx context.Context, workspaceID string) {
	prefix := cache.AutomationsPrefix(workspaceID) + "*"
	s.cache.Invalidate(ctx, prefix)
	if s.ttl <= 0 || s.relinkSettle <= 0 {
		return
	}
	time.AfterFunc(s.relinkSettle, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.cache.Invalidate(ctx, prefix)
	})
}

// load returns active flows of one type for the workspace, scoped to
// contentID or unscoped.
func (s *Selector) load(ctx context.Context, workspaceID, automationType, contentID string) ([]*Flow, error) {
	key := cache.AutomationsKey(workspaceID, automationType, contentID)

	var rows []models.Automation
	found, _ := s.cache.GetJSON(ctx, key, &rows)
	if !found {
		var err error
		rows, err = s.store.ActiveAutomations(ctx, workspaceID, automationType, contentID)
		if err != nil {
			return nil, err
		}
		s.cache.SetJSON(ctx, key, rows, s.ttl)
	}

	flows := make([]*Flow, 0, len(rows))
	for _, row := range rows {
		f, err := ParseFlow(row)
		if err != nil {
			log.WithFields(log.Fields{
				"automation_id": row.ID,
				"workspace_id":  workspaceID,
			}).WithError(err).Warn("Skipping invalid automation")
			continue
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// Select returns the best match for the event, or nil. Content-specific flows
// beat generic ones, and specific keywords beat any-reply.
func (s *Selector) Select(ctx context.Context, ev Event) (*Flow, error) {
	var specific, generic []*Flow
	for _, t := range typesFor(ev.Kind) {
		flows, err := s.load(ctx, ev.WorkspaceID, t, ev.ContentID)
		if err != nil {
			return nil, err
		}
		for _, f := range flows {
			scope := f.ScopeID()
			switch {
			case scope == "":
				if !f.AwaitNextPost {
					generic = append(generic, f)
				}
			case scope == ev.ContentID:
				specific = append(specific, f)
			}
		}
	}

	if ev.Kind == KindComment && ev.ContentID != "" && len(specific) == 0 {
		linked, err := s.linkNextPost(ctx, ev.WorkspaceID, ev.ContentID)
		if err != nil {
			log.WithError(err).WithField("post_id", ev.ContentID).Warn("Next-post linking failed")
		} else if linked != nil {
			specific = append(specific, linked)
		}
	}

	for _, set := range [][]*Flow{specific, generic} {
		if f := pick(set, ev.Text); f != nil {
			return f, nil
		}
	}
	return nil, nil
}

func pick(flows []*Flow, text string) *Flow {
	for _, mode := range []string{ModeSpecificKeywords, ModeAnyReply} {
		for _, f := range flows {
			if f.KeywordMode == mode && f.Triggers(text) {
				return f
			}
		}
	}
	return nil
}

// linkNextPost binds a waiting automation to postID when the post is new to
// the workspace. Only one caller wins the conditional update; a loser that
// finds the automation already bound to the same post uses it as well.
func (s *Selector) linkNextPost(ctx context.Context, workspaceID, postID string) (*Flow, error) {
	known, err := s.store.MediaKnown(ctx, workspaceID, postID)
	if err != nil {
		return nil, err
	}
	if known {
		return nil, nil
	}

	waiting, err := s.store.AwaitingNextPost(ctx, workspaceID, TypeCommentToDM)
	if err != nil {
		return nil, err
	}
	for _, candidate := range waiting {
		won, err := s.store.LinkNextPost(ctx, candidate.ID, postID)
		if err != nil {
			return nil, err
		}
		fields := log.Fields{"automation_id": candidate.ID, "post_id": postID}

		if won {
			if err := s.store.RecordMedia(ctx, workspaceID, postID); err != nil {
				log.WithFields(fields).WithError(err).Warn("Failed to record media snapshot")
			}
			s.invalidateLinked(ctx, workspaceID)
			log.WithFields(fields).Info("Linked automation to next post")
		}

		current, err := s.store.Automation(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		if current.SelectedPostID != postID || !current.IsActive {
			continue
		}
		f, err := ParseFlow(*current)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, nil
}
