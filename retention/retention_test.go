package retention

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/queue"
)

const day = 24 * time.Hour

// shortWindows makes every retention window 30 days so tests can backdate
// rows instead of waiting out the real defaults.
func shortWindows() RetentionConfig {
	return RetentionConfig{
		CompletedCampaignDays: 30,
		DraftCampaignDays:     30,
		SentMessageDays:       30,
		TrackingEventDays:     30,
		CalendarCacheDays:     30,
		EmailDraftDays:        30,
		ResolvedBookingDays:   30,
		BounceDays:            30,
	}
}

func campaignCount(t *testing.T, db *gorm.DB, id uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Campaign{}).Where("id = ?", id).Count(&n).Error)
	return n
}

func TestWithDefaults(t *testing.T) {
	cfg := RetentionConfig{}.withDefaults()
	require.Equal(t, DefaultCompletedCampaignDays, cfg.CompletedCampaignDays)
	require.Equal(t, DefaultDraftCampaignDays, cfg.DraftCampaignDays)
	require.Equal(t, DefaultBounceDays, cfg.BounceDays)

	cfg = RetentionConfig{SentMessageDays: 10}.withDefaults()
	require.Equal(t, 10, cfg.SentMessageDays)
	require.Equal(t, DefaultTrackingEventDays, cfg.TrackingEventDays)
}

func TestCleanupNeverTouchesActiveCampaigns(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	var active []*models.Campaign
	for _, status := range models.ActiveStatuses {
		camp := seedCampaign(t, db, status)
		backdate(t, db, &models.Campaign{}, camp.ID, 400*day)
		active = append(active, camp)
	}

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)
	require.Zero(t, result.TotalDeleted)

	for _, camp := range active {
		require.EqualValues(t, 1, campaignCount(t, db, camp.ID), "status %s", camp.Status)
	}
}

func TestCleanupArchivesOldCompletedCampaign(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	camp := seedCampaign(t, db, models.StatusCompleted)
	seq := &models.FollowUpSequence{CampaignID: camp.ID, Name: "main"}
	require.NoError(t, db.Create(seq).Error)
	step := &models.FollowUpStep{SequenceID: seq.ID, StepNumber: 1, TimingSpec: models.TimingSpec{
		Type: models.TimingRelative, Relative: &models.RelativeTiming{Days: 1},
	}}
	require.NoError(t, db.Create(step).Error)
	rec := &models.CampaignRecipient{CampaignID: camp.ID, Email: "a@example.com"}
	require.NoError(t, db.Create(rec).Error)
	msg := &models.MessageLog{CampaignID: camp.ID, RecipientID: rec.ID, MessageID: "m-1", Status: models.MessageSent}
	require.NoError(t, db.Create(msg).Error)
	evt := &models.TrackingEvent{MessageID: "m-1", EventType: models.EventOpen, OccurredAt: time.Now()}
	require.NoError(t, db.Create(evt).Error)

	backdate(t, db, &models.Campaign{}, camp.ID, 40*day)

	// A recently completed campaign stays.
	fresh := seedCampaign(t, db, models.StatusCompleted)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	require.Zero(t, campaignCount(t, db, camp.ID))
	require.EqualValues(t, 1, campaignCount(t, db, fresh.ID))
	require.EqualValues(t, 1, result.DeletedPerCategory["completed_campaigns"])
	require.EqualValues(t, 1, result.DeletedPerCategory["message_logs"])
	require.EqualValues(t, 1, result.DeletedPerCategory["campaign_recipients"])
	require.EqualValues(t, 1, result.DeletedPerCategory["follow_up_steps"])
	require.EqualValues(t, 1, result.DeletedPerCategory["follow_up_sequences"])
	require.EqualValues(t, 1, result.DeletedPerCategory["tracking_events"])

	var leftovers int64
	require.NoError(t, db.Model(&models.FollowUpStep{}).Count(&leftovers).Error)
	require.Zero(t, leftovers)
}

func TestCleanupSkipsCampaignWithPendingJob(t *testing.T) {
	db := newTestDB(t)
	q := queue.NewMemoryQueue()
	c := NewCleaner(db, q, testLogger())

	camp := seedCampaign(t, db, models.StatusCompleted)
	backdate(t, db, &models.Campaign{}, camp.ID, 40*day)

	fireAt := time.Now().Add(time.Hour)
	_, err := q.EnqueueDelayed(context.Background(), queue.JobFollowUp, queue.Payload{
		Kind:        queue.JobFollowUp,
		CampaignID:  camp.ID,
		ScheduledAt: &fireAt,
	}, fireAt)
	require.NoError(t, err)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	require.EqualValues(t, 1, campaignCount(t, db, camp.ID))
	require.Len(t, result.Skipped, 1)
	require.Equal(t, camp.ID, result.Skipped[0].CampaignID)
	require.Zero(t, result.DeletedPerCategory["completed_campaigns"])
}

func TestCleanupQueueOutageSkipsNotDeletes(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, &failingQueue{queue.NewMemoryQueue()}, testLogger())

	camp := seedCampaign(t, db, models.StatusCompleted)
	backdate(t, db, &models.Campaign{}, camp.ID, 40*day)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	// Fail closed: the campaign survives and is reported as skipped.
	require.EqualValues(t, 1, campaignCount(t, db, camp.ID))
	require.Len(t, result.Skipped, 1)
	require.Contains(t, result.Skipped[0].Reason, "queue inspection failed")
}

func TestCleanupDeletesStaleDrafts(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	old := seedCampaign(t, db, models.StatusDraft)
	backdate(t, db, &models.Campaign{}, old.ID, 40*day)
	fresh := seedCampaign(t, db, models.StatusDraft)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	require.Zero(t, campaignCount(t, db, old.ID))
	require.EqualValues(t, 1, campaignCount(t, db, fresh.ID))
	require.EqualValues(t, 1, result.DeletedPerCategory["draft_campaigns"])
}

func TestCleanupArchivesSentMessagesOfCompletedCampaignsOnly(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	done := seedCampaign(t, db, models.StatusCompleted)
	running := seedCampaign(t, db, models.StatusRunning)

	rec := &models.CampaignRecipient{CampaignID: done.ID, Email: "a@example.com"}
	require.NoError(t, db.Create(rec).Error)

	oldDone := &models.MessageLog{CampaignID: done.ID, RecipientID: rec.ID, MessageID: "m-done", Status: models.MessageSent}
	require.NoError(t, db.Create(oldDone).Error)
	backdate(t, db, &models.MessageLog{}, oldDone.ID, 40*day)
	evt := &models.TrackingEvent{MessageID: "m-done", EventType: models.EventClick, OccurredAt: time.Now()}
	require.NoError(t, db.Create(evt).Error)

	oldRunning := &models.MessageLog{CampaignID: running.ID, RecipientID: rec.ID, MessageID: "m-run", Status: models.MessageSent}
	require.NoError(t, db.Create(oldRunning).Error)
	backdate(t, db, &models.MessageLog{}, oldRunning.ID, 40*day)

	freshDone := &models.MessageLog{CampaignID: done.ID, RecipientID: rec.ID, MessageID: "m-fresh", Status: models.MessageSent}
	require.NoError(t, db.Create(freshDone).Error)

	_, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.MessageLog{}).Where("message_id = ?", "m-done").Count(&n).Error)
	require.Zero(t, n, "old sent message of completed campaign must go")
	require.NoError(t, db.Model(&models.TrackingEvent{}).Where("message_id = ?", "m-done").Count(&n).Error)
	require.Zero(t, n, "its tracking events go with it")
	require.NoError(t, db.Model(&models.MessageLog{}).Where("message_id = ?", "m-run").Count(&n).Error)
	require.EqualValues(t, 1, n, "messages of a running campaign stay")
	require.NoError(t, db.Model(&models.MessageLog{}).Where("message_id = ?", "m-fresh").Count(&n).Error)
	require.EqualValues(t, 1, n, "recent messages stay")
}

func TestCleanupSweeps(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	cache := &models.CalendarCache{UserID: 1, Day: time.Now(), Slots: "[]", FetchedAt: time.Now().Add(-40 * day)}
	require.NoError(t, db.Create(cache).Error)
	draft := &models.EmailDraft{UserID: 1, Subject: "old"}
	require.NoError(t, db.Create(draft).Error)
	backdate(t, db, &models.EmailDraft{}, draft.ID, 40*day)

	resolved := &models.Booking{UserID: 1, Email: "a@example.com", Status: models.BookingConfirmed, StartsAt: time.Now(), EndsAt: time.Now()}
	require.NoError(t, db.Create(resolved).Error)
	backdate(t, db, &models.Booking{}, resolved.ID, 40*day)
	pending := &models.Booking{UserID: 1, Email: "b@example.com", Status: models.BookingPending, StartsAt: time.Now(), EndsAt: time.Now()}
	require.NoError(t, db.Create(pending).Error)
	backdate(t, db, &models.Booking{}, pending.ID, 40*day)

	bounce := &models.Bounce{Email: "x@example.com", Type: "hard"}
	require.NoError(t, db.Create(bounce).Error)
	backdate(t, db, &models.Bounce{}, bounce.ID, 40*day)

	evt := &models.TrackingEvent{MessageID: "m-old", EventType: models.EventOpen, OccurredAt: time.Now()}
	require.NoError(t, db.Create(evt).Error)
	backdate(t, db, &models.TrackingEvent{}, evt.ID, 40*day)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)

	require.EqualValues(t, 1, result.DeletedPerCategory["calendar_cache"])
	require.EqualValues(t, 1, result.DeletedPerCategory["email_drafts"])
	require.EqualValues(t, 1, result.DeletedPerCategory["bookings"])
	require.EqualValues(t, 1, result.DeletedPerCategory["bounces"])
	require.EqualValues(t, 1, result.DeletedPerCategory["tracking_events"])

	var n int64
	require.NoError(t, db.Model(&models.Booking{}).Count(&n).Error)
	require.EqualValues(t, 1, n, "unresolved booking stays")
}

func TestCleanupIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	camp := seedCampaign(t, db, models.StatusCompleted)
	backdate(t, db, &models.Campaign{}, camp.ID, 40*day)
	old := seedCampaign(t, db, models.StatusDraft)
	backdate(t, db, &models.Campaign{}, old.ID, 40*day)

	first, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)
	require.EqualValues(t, 2, first.TotalDeleted)

	second, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)
	require.Zero(t, second.TotalDeleted)
	require.Zero(t, second.CompressedRecipients)
}

func TestCleanupDetectsConcurrentActivation(t *testing.T) {
	db := newTestDB(t)
	q := &activatingQueue{MemoryQueue: queue.NewMemoryQueue(), db: db}
	c := NewCleaner(db, q, testLogger())

	// The candidate makes the pass reach the queue inspection, where the
	// simulated concurrent writer flips another campaign to running.
	camp := seedCampaign(t, db, models.StatusCompleted)
	backdate(t, db, &models.Campaign{}, camp.ID, 40*day)
	q.target = seedCampaign(t, db, models.StatusDraft)

	_, err := c.RunCleanup(context.Background(), shortWindows())
	require.Error(t, err)

	var safetyErr *SafetyCheckFailedError
	require.ErrorAs(t, err, &safetyErr)
	require.NotEqual(t, safetyErr.ActiveBefore, safetyErr.ActiveAfter)
}

// activatingQueue races the cleanup pass: the first queue inspection
// promotes a draft campaign to scheduled, changing the active count.
type activatingQueue struct {
	*queue.MemoryQueue
	db     *gorm.DB
	target *models.Campaign
	fired  bool
}

func (q *activatingQueue) ListPending(ctx context.Context, states ...queue.State) ([]queue.Job, error) {
	if !q.fired && q.target != nil {
		q.fired = true
		if err := q.db.Model(q.target).Update("status", models.StatusScheduled).Error; err != nil {
			return nil, err
		}
	}
	return q.MemoryQueue.ListPending(ctx, states...)
}

func TestCompressRecipientPayloads(t *testing.T) {
	db := newTestDB(t)
	c := NewCleaner(db, queue.NewMemoryQueue(), testLogger())

	// Recently completed so the campaign itself survives archival.
	done := seedCampaign(t, db, models.StatusCompleted)
	running := seedCampaign(t, db, models.StatusRunning)

	bigPayload := map[string]interface{}{
		"email":   "a@example.com",
		"name":    "Ada",
		"company": "Example Corp",
		"notes":   "met at the conference, follow up about the enterprise plan and pricing tiers",
		"history": []string{"2023-01-01 intro call", "2023-02-10 demo", "2023-03-05 proposal sent"},
	}
	raw, err := json.Marshal(bigPayload)
	require.NoError(t, err)

	big := &models.CampaignRecipient{CampaignID: done.ID, Email: "a@example.com", Payload: string(raw)}
	require.NoError(t, db.Create(big).Error)

	// Already slim: rewriting would not shrink it by 30%.
	slim := &models.CampaignRecipient{CampaignID: done.ID, Email: "b@example.com", Payload: `{"email":"b@example.com"}`}
	require.NoError(t, db.Create(slim).Error)

	// Active campaign payloads are out of scope entirely.
	live := &models.CampaignRecipient{CampaignID: running.ID, Email: "c@example.com", Payload: string(raw)}
	require.NoError(t, db.Create(live).Error)

	result, err := c.RunCleanup(context.Background(), shortWindows())
	require.NoError(t, err)
	require.EqualValues(t, 1, result.CompressedRecipients)

	var got models.CampaignRecipient
	require.NoError(t, db.First(&got, big.ID).Error)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got.Payload), &fields))
	require.Equal(t, "a@example.com", fields["email"])
	require.Equal(t, "Ada", fields["name"])
	require.Equal(t, "Example Corp", fields["company"])
	require.NotContains(t, fields, "notes")
	require.NotContains(t, fields, "history")

	got = models.CampaignRecipient{}
	require.NoError(t, db.First(&got, slim.ID).Error)
	require.JSONEq(t, `{"email":"b@example.com"}`, got.Payload)

	got = models.CampaignRecipient{}
	require.NoError(t, db.First(&got, live.ID).Error)
	require.JSONEq(t, string(raw), got.Payload)
}

func TestCompressPayloadThreshold(t *testing.T) {
	// Exactly at the ratio boundary the rewrite is rejected: the slim form
	// must be strictly smaller than 70% of the original.
	r := &models.CampaignRecipient{Email: "a@b.c", Payload: `{"email":"a@b.c"}`}
	_, ok := compressPayload(r)
	require.False(t, ok)

	r = &models.CampaignRecipient{Email: "a@b.c", Payload: `not json`}
	_, ok = compressPayload(r)
	require.False(t, ok)
}
