package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventdb/internal/queryir"
	"github.com/roach88/eventdb/internal/testutil"
)

func TestCreate_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ev := Event{
		ID:          "e1",
		StreamIDs:   []string{"diary", "health-hr"},
		Type:        "note/txt",
		Time:        1700000000.25,
		EndTime:     ptr(1700000060.5),
		Content:     json.RawMessage(`"hello"`),
		Description: ptr("first"),
		ClientData:  json.RawMessage(`{"app":{"v":2}}`),
		Attachments: []Attachment{{
			ID:        "att-1",
			FileName:  "photo.jpg",
			Type:      "image/jpeg",
			Size:      2048,
			ReadToken: "tok",
			Integrity: "sha256-abc",
		}},
		Integrity:  ptr("EVENT:0:sha256-def"),
		Trashed:    true,
		Created:    1700000000,
		CreatedBy:  "token-a",
		Modified:   1700000001,
		ModifiedBy: "token-b",
	}

	created, err := db.Create(ctx, ev)
	require.NoError(t, err)
	if diff := cmp.Diff(&ev, created); diff != "" {
		t.Errorf("Create() mismatch (-want +got):\n%s", diff)
	}

	got, err := db.GetOne(ctx, "e1")
	require.NoError(t, err)
	if diff := cmp.Diff(&ev, got); diff != "" {
		t.Errorf("GetOne() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreate_EmptyStreamsStoredAsSentinel(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	created, err := db.Create(ctx, newEvent("e1", nil, "note/txt", 1))
	require.NoError(t, err)
	assert.Equal(t, []string{AllStreams}, created.StreamIDs)

	got, err := db.GetOne(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{AllStreams}, got.StreamIDs)
}

func TestCreate_NullPayload(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ev := newEvent("e1", []string{"diary"}, "note/txt", 1)
	ev.Content = nil
	mustCreate(t, db, ev)

	got, err := db.GetOne(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got.Content)
	assert.Nil(t, got.Attachments)
	assert.Nil(t, got.EndTime)
}

func TestCreate_DuplicateID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db, newEvent("e1", []string{"diary"}, "note/txt", 1))

	_, err := db.Create(ctx, newEvent("e1", []string{"diary"}, "note/txt", 2))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_InvalidEvent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	testCases := []struct {
		name string
		ev   Event
	}{
		{name: "missing id", ev: newEvent("", []string{"a"}, "note/txt", 1)},
		{name: "missing type", ev: newEvent("e1", []string{"a"}, "", 1)},
		{name: "malformed content", ev: func() Event {
			ev := newEvent("e1", []string{"a"}, "note/txt", 1)
			ev.Content = json.RawMessage(`{"broken"`)
			return ev
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.Create(ctx, tc.ev)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestCreateSync(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.CreateSync(ctx, newEvent("e1", []string{"diary"}, "note/txt", 1))
	require.NoError(t, err)

	_, err = db.GetOne(ctx, "e1")
	assert.NoError(t, err)
}

func TestCreateManySync(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	events := []Event{
		newEvent("e1", []string{"a"}, "note/txt", 1),
		newEvent("e2", []string{"b"}, "note/txt", 2),
		newEvent("e3", nil, "note/txt", 3),
	}
	require.NoError(t, db.CreateManySync(ctx, events))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCreateManySync_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	events := []Event{
		newEvent("e1", []string{"a"}, "note/txt", 1),
		newEvent("e2", []string{"b"}, "note/txt", 2),
		newEvent("e1", []string{"c"}, "note/txt", 3),
	}
	err := db.CreateManySync(ctx, events)
	require.ErrorIs(t, err, ErrAlreadyExists)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdate_KeepsHistoryOldestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := testutil.NewDeterministicClock(0, 1)

	ev := newEvent("e1", []string{"diary"}, "note/txt", 100)
	ev.Modified = clock.Next()
	mustCreate(t, db, ev)

	const updates = 3
	for i := 1; i <= updates; i++ {
		next := ev
		next.Content = json.RawMessage(`{"v":` + string(rune('1'+i)) + `}`)
		next.Modified = clock.Next()
		_, err := db.Update(ctx, "e1", next)
		require.NoError(t, err)
	}

	history, err := db.GetHistory(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, updates)

	assert.Equal(t, []string{"h-1", "h-2", "h-3"}, eventIDs(history))
	for i, h := range history {
		assert.Equal(t, float64(1+i), h.Modified)
		require.NotNil(t, h.HeadID)
		assert.Equal(t, "e1", *h.HeadID)
		assert.True(t, h.IsHistory())
	}
	assert.JSONEq(t, `{"v":1}`, string(history[0].Content))
	assert.JSONEq(t, `{"v":3}`, string(history[2].Content))

	live, err := db.GetOne(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, float64(1+updates), live.Modified)
	assert.JSONEq(t, `{"v":4}`, string(live.Content))
	assert.Nil(t, live.HeadID)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1+updates), n)
}

func TestUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db, newEvent("e1", []string{"diary"}, "note/txt", 1))

	_, err := db.Update(ctx, "missing", newEvent("missing", []string{"diary"}, "note/txt", 2))
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed update left rows behind")
}

func TestUpdate_ReindexesStreams(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db, newEvent("e1", []string{"a"}, "note/txt", 1))

	_, err := db.Update(ctx, "e1", newEvent("e1", []string{"b"}, "note/txt", 1))
	require.NoError(t, err)

	liveIn := func(stream string) []string {
		events, err := db.Get(ctx, queryir.Filter{Query: []queryir.Predicate{
			queryir.Equal{Field: "headId", Value: nil},
			queryir.StreamsQuery{Blocks: []queryir.StreamsBlock{{Any: []string{stream}}}},
		}})
		require.NoError(t, err)
		return eventIDs(events)
	}
	assert.Empty(t, liveIn("a"))
	assert.Equal(t, []string{"e1"}, liveIn("b"))

	// The snapshot keeps the old membership.
	all, err := db.Get(ctx, queryir.Filter{Query: []queryir.Predicate{
		queryir.StreamsQuery{Blocks: []queryir.StreamsBlock{{Any: []string{"a"}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"h-1"}, eventIDs(all))
}

func TestMarkDeleted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db,
		newEvent("e1", []string{"diary"}, "note/txt", 1),
		newEvent("e2", []string{"diary"}, "note/txt", 2),
	)

	require.NoError(t, db.MarkDeleted(ctx, "e1", 500))

	_, err := db.GetOne(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	deletions, err := db.GetDeletionsSince(ctx, 400)
	require.NoError(t, err)
	require.Len(t, deletions, 1)
	tomb := deletions[0]
	assert.Equal(t, "e1", tomb.ID)
	assert.True(t, tomb.IsDeleted())
	assert.Equal(t, 500.0, *tomb.Deleted)
	assert.Equal(t, 500.0, tomb.Modified)
	assert.Nil(t, tomb.Content)
	assert.Equal(t, []string{"diary"}, tomb.StreamIDs)

	// Already a tombstone.
	err = db.MarkDeleted(ctx, "e1", 600)
	assert.ErrorIs(t, err, ErrNotFound)

	err = db.MarkDeleted(ctx, "missing", 600)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDeletionsSince_NewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db,
		newEvent("e1", []string{"a"}, "note/txt", 1),
		newEvent("e2", []string{"a"}, "note/txt", 2),
		newEvent("e3", []string{"a"}, "note/txt", 3),
	)
	require.NoError(t, db.MarkDeleted(ctx, "e1", 500))
	require.NoError(t, db.MarkDeleted(ctx, "e2", 700))

	deletions, err := db.GetDeletionsSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, eventIDs(deletions))

	deletions, err = db.GetDeletionsSince(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, eventIDs(deletions))

	deletions, err = db.GetDeletionsSince(ctx, 800)
	require.NoError(t, err)
	assert.NotNil(t, deletions)
	assert.Empty(t, deletions)
}

func TestDelete_PlainFilter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db,
		newEvent("e1", []string{"a"}, "note/txt", 1),
		newEvent("e2", []string{"a"}, "mass/kg", 2),
		newEvent("e3", []string{"a"}, "note/html", 3),
	)

	n, err := db.Delete(ctx, queryir.Filter{Query: []queryir.Predicate{
		queryir.TypesList{Types: []string{"note/*"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rest, err := db.Get(ctx, queryir.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, eventIDs(rest))
}

func TestDelete_StreamFilter(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db,
		newEvent("e1", []string{"a"}, "note/txt", 1),
		newEvent("e2", []string{"a", "b"}, "note/txt", 2),
		newEvent("e3", []string{"b"}, "note/txt", 3),
		newEvent("e4", []string{"c"}, "note/txt", 4),
	)

	n, err := db.Delete(ctx, queryir.Filter{Query: []queryir.Predicate{
		queryir.StreamsQuery{Blocks: []queryir.StreamsBlock{{Any: []string{"b"}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rest, err := db.Get(ctx, queryir.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e4"}, eventIDs(rest))

	// The full-text shadow lost the deleted rows too.
	notB, err := db.Get(ctx, queryir.Filter{Query: []queryir.Predicate{
		queryir.StreamsQuery{Blocks: []queryir.StreamsBlock{{Not: []string{"b"}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e4"}, eventIDs(notB))
}

func TestDelete_RejectsLimit(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Delete(context.Background(), queryir.Filter{Options: queryir.ReadOptions{Limit: 1}})
	assert.ErrorIs(t, err, queryir.ErrUnsupportedQuery)
}

func TestDeleteHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db, newEvent("e1", []string{"a"}, "note/txt", 1))
	for i := 0; i < 2; i++ {
		_, err := db.Update(ctx, "e1", newEvent("e1", []string{"a"}, "note/txt", 1))
		require.NoError(t, err)
	}

	n, err := db.DeleteHistory(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	history, err := db.GetHistory(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = db.GetOne(ctx, "e1")
	assert.NoError(t, err, "live event must survive")
}

func TestMinimizeHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	ev := newEvent("e1", []string{"diary"}, "note/txt", 1)
	ev.Description = ptr("secret")
	mustCreate(t, db, ev)
	for i := 0; i < 2; i++ {
		_, err := db.Update(ctx, "e1", ev)
		require.NoError(t, err)
	}

	before, err := db.Count(ctx)
	require.NoError(t, err)

	n, err := db.MinimizeHistory(ctx, "e1", []string{"content", "description", "content"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	after, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	history, err := db.GetHistory(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Nil(t, h.Content)
		assert.Nil(t, h.Description)
		assert.Equal(t, []string{AllStreams}, h.StreamIDs)
		assert.Equal(t, "note/txt", h.Type)
	}

	// The live event is untouched.
	live, err := db.GetOne(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "secret", *live.Description)
	assert.Equal(t, []string{"diary"}, live.StreamIDs)

	// Minimized rows left the diary stream.
	inDiary, err := db.Get(ctx, queryir.Filter{Query: []queryir.Predicate{
		queryir.StreamsQuery{Blocks: []queryir.StreamsBlock{{Any: []string{"diary"}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(inDiary))
}

func TestMinimizeHistory_UnsupportedField(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, field := range []string{"type", "time", "id", "nope"} {
		_, err := db.MinimizeHistory(ctx, "e1", []string{field})
		assert.ErrorIs(t, err, ErrUnsupportedField, field)
	}
}

func TestUpdate_HistoryIDsComeFromGenerator(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, WithIDGenerator(NewFixedGenerator("first", "second")))
	mustCreate(t, db, newEvent("e1", nil, "note/txt", 1))

	for i := 0; i < 2; i++ {
		_, err := db.Update(ctx, "e1", newEvent("e1", nil, "note/txt", float64(2+i)))
		require.NoError(t, err)
	}

	history, err := db.GetHistory(ctx, "e1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first", "second"}, eventIDs(history))
}

func TestUpdate_Tombstone(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mustCreate(t, db, newEvent("e1", []string{"diary"}, "note/txt", 1))
	require.NoError(t, db.MarkDeleted(ctx, "e1", 500))

	_, err := db.Update(ctx, "e1", newEvent("e1", []string{"diary"}, "note/txt", 2))
	assert.ErrorIs(t, err, ErrNotFound)

	// The tombstone stays a tombstone and no history row was written.
	_, err = db.GetOne(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := db.GetHistory(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, history)

	deletions, err := db.GetDeletionsSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(deletions))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetDeletionsSince_SkipsHistoryRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tomb := newEvent("e1", []string{"diary"}, "note/txt", 1)
	tomb.Deleted = ptr(300.0)
	snapshot := newEvent("h-old", []string{"diary"}, "note/txt", 1)
	snapshot.HeadID = ptr("e1")
	snapshot.Deleted = ptr(200.0)
	require.NoError(t, db.CreateManySync(ctx, []Event{tomb, snapshot}))

	deletions, err := db.GetDeletionsSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(deletions))
}
