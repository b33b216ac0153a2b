package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 12, 30, 15, 123456789, time.UTC)

func testOptions() []Option {
	return []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	}
}

func sampleItems() []model.Item {
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	return []model.Item{
		{
			ID:           "PROJ-1",
			Name:         "Write importer",
			Status:       "in progress",
			Priority:     "High",
			Project:      "Core",
			TimeEstimate: 7200,
			TimeSpent:    1800,
			DueDate:      &due,
			DateUpdated:  fixedNow.Add(-time.Hour),
			Tags:         []model.Tag{{Name: "backend"}, {Name: "q3"}},
			Assignees:    []model.User{{ID: "u1", Username: "ana"}},
		},
		{
			ID:          "PROJ-2",
			Name:        "Fix login",
			Status:      "open",
			Project:     "Web",
			DateUpdated: fixedNow.Add(-2 * time.Hour),
		},
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	tier := NewMetadataTier(kv, "3", testOptions()...)

	summary := model.Summarize(sampleItems(), nil)
	require.NoError(t, tier.Save(ctx, summary, 2))

	got := tier.Load(ctx)
	require.NotNil(t, got)

	want := &model.Metadata{
		Summary:   summary,
		Version:   "3",
		LastSync:  fixedNow,
		ItemCount: 2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestMetadataSaveAtNormalizesToUTC(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tier := NewMetadataTier(store.NewMemoryStore(), "3", testOptions()...)

	local := fixedNow.In(time.FixedZone("CEST", 2*60*60))
	require.NoError(t, tier.SaveAt(ctx, model.Summary{}, 0, local))

	got := tier.Load(ctx)
	require.NotNil(t, got)
	assert.True(t, got.LastSync.Equal(fixedNow))
	assert.Equal(t, time.UTC, got.LastSync.Location())
}

func TestMetadataStaleVersionIsDeleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()

	require.NoError(t, NewMetadataTier(kv, "1", testOptions()...).Save(ctx, model.Summary{}, 5))

	assert.Nil(t, NewMetadataTier(kv, "2", testOptions()...).Load(ctx))

	_, err := kv.Get(ctx, MetadataKey)
	assert.ErrorIs(t, err, store.ErrNotFound, "stale record must be removed")
}

func TestMetadataCorruptIsDeleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, MetadataKey, "{not json"))

	assert.Nil(t, NewMetadataTier(kv, "3", testOptions()...).Load(ctx))
	assert.Equal(t, 0, kv.Len())
}

func TestMetadataSaveFailureIsReported(t *testing.T) {
	t.Parallel()
	kv := store.NewMemoryStore()
	kv.FailSet(true)

	err := NewMetadataTier(kv, "3", testOptions()...).Save(context.Background(), model.Summary{}, 0)
	assert.ErrorIs(t, err, store.ErrInjected)
}

func sampleGroups() []grouping.Group {
	return grouping.Build(sampleItems(), grouping.Filters{}, map[string]string{"u1": "Ana"})
}

func TestProcessedRoundTrip(t *testing.T) {
	t.Parallel()

	for _, codec := range []Codec{CodecZstd, CodecLZ4, CodecNone} {
		codec := codec
		t.Run(string(codec), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			kv := store.NewMemoryStore()
			tier := NewProcessedTier(kv, "3", append(testOptions(), WithCodec(codec))...)

			groups := sampleGroups()
			require.NoError(t, tier.Save(ctx, groups))

			got, ok := tier.Load(ctx)
			require.True(t, ok)
			if diff := cmp.Diff(groups, got); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}

			info := tier.Info(ctx)
			require.NotNil(t, info)
			assert.Equal(t, "3", info.Version)
			assert.True(t, info.Timestamp.Equal(fixedNow))
		})
	}
}

func TestProcessedEmptyGroupsAreStillData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tier := NewProcessedTier(store.NewMemoryStore(), "3", testOptions()...)

	require.NoError(t, tier.Save(ctx, nil))

	got, ok := tier.Load(ctx)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestProcessedCorruptPayloadClearsTier(t *testing.T) {
	t.Parallel()

	corruptions := map[string]string{
		"not base64":      "%%%",
		"not compressed":  base64.StdEncoding.EncodeToString([]byte("plain bytes")),
		"truncated frame": "",
	}

	for name, payload := range corruptions {
		payload := payload
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			kv := store.NewMemoryStore()
			tier := NewProcessedTier(kv, "3", testOptions()...)
			require.NoError(t, tier.Save(ctx, sampleGroups()))

			if payload == "" {
				stored, err := kv.Get(ctx, ProcessedPayloadKey)
				require.NoError(t, err)
				raw, err := base64.StdEncoding.DecodeString(stored)
				require.NoError(t, err)
				payload = base64.StdEncoding.EncodeToString(raw[:len(raw)/2])
			}
			require.NoError(t, kv.Set(ctx, ProcessedPayloadKey, payload))

			_, ok := tier.Load(ctx)
			assert.False(t, ok)
			assert.Equal(t, 0, kv.Len(), "header and payload must both be cleared")
		})
	}
}

func TestProcessedChecksumMismatchClearsTier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	tier := NewProcessedTier(kv, "3", append(testOptions(), WithCodec(CodecNone))...)
	require.NoError(t, tier.Save(ctx, sampleGroups()))

	// Same length, different content: decompresses fine but fails the digest.
	stored, err := kv.Get(ctx, ProcessedPayloadKey)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(stored)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte("Ana"), []byte("Bob"), 1)
	require.NotEqual(t, raw, tampered)
	require.NoError(t, kv.Set(ctx, ProcessedPayloadKey, base64.StdEncoding.EncodeToString(tampered)))

	_, ok := tier.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, kv.Len())
}

func TestProcessedHeaderWithoutPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	tier := NewProcessedTier(kv, "3", testOptions()...)
	require.NoError(t, tier.Save(ctx, sampleGroups()))
	require.NoError(t, kv.Delete(ctx, ProcessedPayloadKey))

	_, ok := tier.Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, kv.Len())
}

func TestProcessedStaleVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, NewProcessedTier(kv, "1", testOptions()...).Save(ctx, sampleGroups()))

	_, ok := NewProcessedTier(kv, "2", testOptions()...).Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, kv.Len())
}

func TestProcessedClearAttemptsBothKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	tier := NewProcessedTier(kv, "3", testOptions()...)
	require.NoError(t, tier.Save(ctx, sampleGroups()))

	kv.FailDelete(true)
	err := tier.Clear(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInjected)
}

func TestCompressionRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte(`{"assignee":"Ana","projects":[]},`), 500),
	}
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		for i, in := range inputs {
			t.Run(fmt.Sprintf("%s/%d", codec, i), func(t *testing.T) {
				compressed, used, err := compress(in, codec)
				require.NoError(t, err)
				out, err := decompress(compressed, used, len(in))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out))
			})
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	t.Parallel()
	compressed, codec, err := compress([]byte("hello hello hello hello"), CodecZstd)
	require.NoError(t, err)

	_, err = decompress(compressed, codec, 3)
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"none", "zstd", "lz4"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, Codec(name), c)
	}
	_, err := ParseCodec("brotli")
	assert.Error(t, err)
}

func TestRawRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := store.NewMemoryStore()
	tier := NewRawTier(blobs, "3", testOptions()...)

	items := sampleItems()
	require.NoError(t, tier.Save(ctx, items))

	got, ok := tier.Load(ctx)
	require.True(t, ok)
	if diff := cmp.Diff(items, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	info := tier.Info(ctx)
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Count)
	assert.True(t, info.Timestamp.Equal(fixedNow))
}

func TestRawEmptyListIsStillData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tier := NewRawTier(store.NewMemoryStore(), "3", testOptions()...)
	require.NoError(t, tier.Save(ctx, nil))

	got, ok := tier.Load(ctx)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestRawMalformedRecordsAreCleared(t *testing.T) {
	t.Parallel()

	records := map[string]any{
		"missing items": map[string]any{"version": "3", "count": 0},
		"null items":    map[string]any{"version": "3", "count": 0, "items": nil},
		"scalar items":  map[string]any{"version": "3", "count": 1, "items": "PROJ-1"},
		"map items":     map[string]any{"version": "3", "count": 1, "items": map[string]any{"id": "PROJ-1"}},
		"not a map":     []string{"PROJ-1"},
	}

	for name, record := range records {
		record := record
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			blobs := store.NewMemoryStore()
			data, err := cbor.Marshal(record)
			require.NoError(t, err)
			require.NoError(t, blobs.SetBlob(ctx, RawKey, data))

			_, ok := NewRawTier(blobs, "3", testOptions()...).Load(ctx)
			assert.False(t, ok)
			assert.Equal(t, 0, blobs.Len())
		})
	}
}

func TestRawGarbageIsCleared(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := store.NewMemoryStore()
	require.NoError(t, blobs.SetBlob(ctx, RawKey, []byte{0xff, 0x00, 0x13}))

	_, ok := NewRawTier(blobs, "3", testOptions()...).Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, blobs.Len())
}

func TestRawStaleVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := store.NewMemoryStore()
	require.NoError(t, NewRawTier(blobs, "1", testOptions()...).Save(ctx, sampleItems()))

	_, ok := NewRawTier(blobs, "2", testOptions()...).Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, blobs.Len())
}

func TestRawOnSQLiteBlobStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	defer s.Close()

	tier := NewRawTier(s, "3", testOptions()...)
	require.NoError(t, tier.Save(ctx, sampleItems()))

	got, ok := tier.Load(ctx)
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestProcessedHeaderIsJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, NewProcessedTier(kv, "3", testOptions()...).Save(ctx, sampleGroups()))

	header, err := kv.Get(ctx, ProcessedKey)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(header), &decoded))
	assert.Equal(t, "3", decoded["version"])
	assert.Equal(t, "zstd", decoded["codec"])
}

func TestProcessedHeaderSizeOutOfRangeClearsTier(t *testing.T) {
	t.Parallel()

	sizes := map[string]int{
		"negative":  -1,
		"too large": MaxPayloadSize + 1,
	}

	for name, size := range sizes {
		size := size
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			kv := store.NewMemoryStore()
			tier := NewProcessedTier(kv, "3", testOptions()...)
			require.NoError(t, tier.Save(ctx, sampleGroups()))

			stored, err := kv.Get(ctx, ProcessedKey)
			require.NoError(t, err)
			var info ProcessedInfo
			require.NoError(t, json.Unmarshal([]byte(stored), &info))
			info.Size = size
			header, err := json.Marshal(info)
			require.NoError(t, err)
			require.NoError(t, kv.Set(ctx, ProcessedKey, string(header)))

			_, ok := tier.Load(ctx)
			assert.False(t, ok)
			assert.Equal(t, 0, kv.Len(), "header and payload must both be cleared")
		})
	}
}

func TestDecompressRejectsBadSize(t *testing.T) {
	t.Parallel()

	for _, c := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		_, err := decompress([]byte("x"), c, -1)
		assert.Error(t, err, c)
		_, err = decompress([]byte("x"), c, MaxPayloadSize+1)
		assert.Error(t, err, c)
	}
}

func TestRawLoadRecordCarriesSyncTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := store.NewMemoryStore()
	tier := NewRawTier(blobs, "3", testOptions()...)

	syncedAt := fixedNow.Add(-time.Minute)
	require.NoError(t, tier.SaveAt(ctx, sampleItems(), syncedAt))

	info, items, ok := tier.LoadRecord(ctx)
	require.True(t, ok)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, info.Count)
	assert.True(t, info.SyncedAt.Equal(syncedAt))
	assert.True(t, info.Timestamp.Equal(fixedNow))
}
