package story

import (
	"context"
	"fmt"
)

// RecentWindow returns the last k chapters of a story, newest first.
func RecentWindow(ctx context.Context, repo Repository, storyID string, k int) ([]*Chapter, error) {
	if k <= 0 {
		return nil, nil
	}
	latest, err := repo.LatestChapter(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("recent window: %w", err)
	}
	if latest == 0 {
		return nil, nil
	}
	from := latest - k + 1
	if from < 1 {
		from = 1
	}
	chapters, err := repo.GetChapters(ctx, storyID, from, latest)
	if err != nil {
		return nil, fmt.Errorf("recent window: %w", err)
	}
	for i, j := 0, len(chapters)-1; i < j; i, j = i+1, j-1 {
		chapters[i], chapters[j] = chapters[j], chapters[i]
	}
	return chapters, nil
}
