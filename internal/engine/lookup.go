package engine

import (
	"context"
	"fmt"

	"ex-feedsync/pkg/feed"
)

// Profile returns the author profile for id through the profile cache.
func (e *Engine) Profile(ctx context.Context, id string) (feed.Profile, error) {
	profile, err := e.profiles.GetOrFetch(ctx, id, func(ctx context.Context) (feed.Profile, error) {
		query := feed.Query{
			Collection: e.cfg.profileCollection,
			Filters:    []feed.Filter{feed.Eq(feed.FieldID, id)},
			OrderBy:    feed.RecencyOrder(),
			Limit:      1,
		}
		page, err := e.store.Query(ctx, query)
		if err != nil {
			return feed.Profile{}, feed.ClassifyFetchError("query "+query.Collection, err, feed.FetchErrorServer)
		}
		if len(page.Items) == 0 {
			return feed.Profile{}, feed.ErrRecordNotFound
		}
		profile, err := feed.ProfileFromRecord(page.Items[0])
		if err != nil {
			return feed.Profile{}, feed.NewFetchError(feed.FetchErrorDecode, "decode "+query.Collection, err)
		}

		return profile, nil
	})
	if err != nil {
		return feed.Profile{}, fmt.Errorf("profile %s: %w", id, err)
	}

	return profile, nil
}

// Comments returns the first comment page of itemID through the comment cache.
//
// The cached page is dropped whenever a push changes the item's reply count.
func (e *Engine) Comments(ctx context.Context, itemID string) (feed.CommentPage, error) {
	page, err := e.comments.GetOrFetch(ctx, itemID, func(ctx context.Context) (feed.CommentPage, error) {
		query := feed.Query{
			Collection: e.cfg.commentCollection,
			Filters: []feed.Filter{
				feed.Eq(feed.FieldParentID, itemID),
				feed.Eq(feed.FieldVisible, true),
			},
			OrderBy: feed.RecencyOrder(),
			Limit:   e.cfg.commentPageSize,
		}
		result, err := e.store.Query(ctx, query)
		if err != nil {
			return feed.CommentPage{}, feed.ClassifyFetchError("query "+query.Collection, err, feed.FetchErrorServer)
		}

		comments := feed.CloneRecords(result.Items)
		feed.SortRecords(comments)

		return feed.CommentPage{
			ItemID:    itemID,
			Comments:  comments,
			Next:      result.Next,
			FetchedAt: e.cfg.clock(),
		}, nil
	})
	if err != nil {
		return feed.CommentPage{}, fmt.Errorf("comments %s: %w", itemID, err)
	}

	return page, nil
}

// Media returns media bytes for url through the media cache.
func (e *Engine) Media(ctx context.Context, url string) ([]byte, error) {
	if e.cfg.mediaStore == nil {
		return nil, fmt.Errorf("media %s: %w", url, feed.ErrUnsupported)
	}

	data, err := e.media.GetOrFetch(ctx, url, func(ctx context.Context) ([]byte, error) {
		return e.cfg.mediaStore.FetchBytes(ctx, url)
	})
	if err != nil {
		return nil, fmt.Errorf("media %s: %w", url, err)
	}

	return data, nil
}
