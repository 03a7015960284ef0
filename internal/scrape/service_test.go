package scrape_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scrape"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCollection_RejectedWhileInProgress(t *testing.T) {
	h := newHarness()
	owner := uuid.New()
	ctx := context.Background()

	c := &models.DocCollection{ID: uuid.New(), OwnerID: owner, Status: models.CollectionStatusScraping}
	require.NoError(t, h.docs.CreateCollection(ctx, c, nil))
	held := h.reg.Create(jobs.CreateParams{Kind: jobs.KindDocScrape, OwnerID: owner, ResourceKey: jobs.CollectionKey(c.ID)})
	h.reg.Update(held.ID, func(j *jobs.Job) { j.Status = jobs.StatusInProgress })

	err := h.svc.DeleteCollection(ctx, owner, c.ID)
	assert.ErrorIs(t, err, scrape.ErrConflict)
	_, err = h.docs.GetCollection(ctx, owner, c.ID)
	assert.NoError(t, err, "collection must survive a rejected delete")
}

func TestDeleteCollection_SucceedsWithoutActiveJob(t *testing.T) {
	h := newHarness()
	owner := uuid.New()
	ctx := context.Background()

	_, c, err := h.svc.Scrape(ctx, request(owner, 2))
	require.NoError(t, err)
	require.True(t, h.dispatcher.Wait(5*time.Second))

	require.NoError(t, h.svc.DeleteCollection(ctx, owner, c.ID))
	_, err = h.docs.GetCollection(ctx, owner, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, h.index.deleted, 2)
}

func TestDeleteCollection_NotFound(t *testing.T) {
	h := newHarness()
	err := h.svc.DeleteCollection(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryFailed_RescrapesFailedPages(t *testing.T) {
	h := newHarness(pageURL(2))
	owner := uuid.New()
	ctx := context.Background()

	_, c, err := h.svc.Scrape(ctx, request(owner, 3))
	require.NoError(t, err)
	require.True(t, h.dispatcher.Wait(5*time.Second))
	col, _ := h.docs.GetCollection(ctx, owner, c.ID)
	require.Equal(t, models.CollectionStatusPartial, col.Status)

	delete(h.fetcher.fail, pageURL(2))
	snap, err := h.svc.RetryFailed(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalUnits)
	require.True(t, h.dispatcher.Wait(5*time.Second))

	col, _ = h.docs.GetCollection(ctx, owner, c.ID)
	assert.Equal(t, models.CollectionStatusCompleted, col.Status)
	assert.Equal(t, 3, col.SucceededPages)
	assert.Equal(t, 0, col.FailedPages)
}

func TestRetryFailed_RequiresPartial(t *testing.T) {
	h := newHarness()
	owner := uuid.New()
	ctx := context.Background()

	_, c, err := h.svc.Scrape(ctx, request(owner, 1))
	require.NoError(t, err)
	require.True(t, h.dispatcher.Wait(5*time.Second))

	_, err = h.svc.RetryFailed(ctx, owner, c.ID)
	assert.ErrorIs(t, err, scrape.ErrNotRetryable)
}

func TestRetryFailed_ConflictLeavesPagesFailed(t *testing.T) {
	h := newHarness(pageURL(2))
	owner := uuid.New()
	ctx := context.Background()

	_, c, err := h.svc.Scrape(ctx, request(owner, 3))
	require.NoError(t, err)
	require.True(t, h.dispatcher.Wait(5*time.Second))

	held := h.reg.Create(jobs.CreateParams{Kind: jobs.KindDocScrape, OwnerID: owner, ResourceKey: jobs.CollectionKey(c.ID)})
	h.reg.Update(held.ID, func(j *jobs.Job) { j.Status = jobs.StatusInProgress })

	_, err = h.svc.RetryFailed(ctx, owner, c.ID)
	assert.ErrorIs(t, err, scrape.ErrConflict)
	assert.Equal(t, models.PageStatusFailed, h.docs.page(pageURL(2)).Status)

	h.reg.Update(held.ID, func(j *jobs.Job) { j.Status = jobs.StatusCompleted })
	_, err = h.svc.RetryFailed(ctx, owner, c.ID)
	assert.NoError(t, err, "failed pages are still retryable once the holder finishes")
	require.True(t, h.dispatcher.Wait(5*time.Second))
}
