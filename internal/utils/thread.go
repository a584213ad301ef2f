package utils

import (
	"sort"

	"rujing/internal/models"
)

// AssembleThreads groups flat, author-enriched rows into two-level threads.
//
// Top-level comments come back newest first, each with its replies oldest
// first. A reply whose parent is itself a reply is attached to the top-level
// comment at the root of its chain; a reply whose chain never reaches a
// top-level comment is dropped. Input rows are not modified.
func AssembleThreads(rows []*models.Comment) []*models.Comment {
	byID := make(map[string]*models.Comment, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		byID[row.ID] = row
	}

	topLevel := make([]*models.Comment, 0, len(rows))
	repliesByRoot := make(map[string][]*models.Comment)

	for _, row := range byID {
		if row.IsTopLevel() {
			cp := *row
			cp.Replies = nil
			topLevel = append(topLevel, &cp)
			continue
		}
		root, ok := rootOf(row, byID)
		if !ok {
			continue
		}
		cp := *row
		cp.Replies = []*models.Comment{}
		repliesByRoot[root] = append(repliesByRoot[root], &cp)
	}

	sort.Slice(topLevel, func(i, j int) bool {
		return newerFirst(topLevel[i], topLevel[j])
	})
	for _, c := range topLevel {
		replies := repliesByRoot[c.ID]
		sort.Slice(replies, func(i, j int) bool {
			return olderFirst(replies[i], replies[j])
		})
		if replies == nil {
			replies = []*models.Comment{}
		}
		c.Replies = replies
	}
	return topLevel
}

// rootOf follows parent links up to a top-level comment.
func rootOf(c *models.Comment, byID map[string]*models.Comment) (string, bool) {
	seen := make(map[string]bool)
	cur := c
	for !cur.IsTopLevel() {
		if seen[cur.ID] {
			return "", false
		}
		seen[cur.ID] = true
		parent, ok := byID[*cur.ParentID]
		if !ok {
			return "", false
		}
		cur = parent
	}
	return cur.ID, true
}

func olderFirst(a, b *models.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func newerFirst(a, b *models.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// ThreadIDs lists every comment id in the tree, top-level and replies.
func ThreadIDs(threads []*models.Comment) []string {
	ids := make([]string, 0, len(threads))
	for _, c := range threads {
		ids = append(ids, c.ID)
		for _, r := range c.Replies {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// FindInThreads locates id among top-level comments, then among replies.
// parent is nil for a top-level hit.
func FindInThreads(threads []*models.Comment, id string) (found, parent *models.Comment) {
	for _, c := range threads {
		if c.ID == id {
			return c, nil
		}
	}
	for _, c := range threads {
		for _, r := range c.Replies {
			if r.ID == id {
				return r, c
			}
		}
	}
	return nil, nil
}
