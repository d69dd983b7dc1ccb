package eii

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

func fp(v float64) *float64 { return &v }

func TestCompute_weightedComposite(t *testing.T) {
	got := Compute(Metrics{SEO: 90, A11y: 95, Performance: 88, Bundle: 100})
	assert.Equal(t, 92.9, got)

	assert.Equal(t, 0.0, Compute(Metrics{}))
	assert.Equal(t, 100.0, Compute(Metrics{SEO: 100, A11y: 100, Performance: 100, Bundle: 100}))
}

func TestMetrics_validate(t *testing.T) {
	assert.NoError(t, Metrics{SEO: 0, A11y: 100}.Validate())

	err := Metrics{SEO: 101}.Validate()
	var me *MetricError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "seo", me.Category)

	assert.Error(t, Metrics{Bundle: math.NaN()}.Validate())
	assert.Error(t, Metrics{A11y: -1}.Validate())
}

func TestBundleScore(t *testing.T) {
	cases := []struct {
		kb   float64
		want float64
	}{
		{0, 100},
		{150, 100},
		{325, 50},
		{500, 0},
		{900, 0},
		{220, 80},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BundleScore(tc.kb), "kb=%v", tc.kb)
	}
}

func TestTags(t *testing.T) {
	m := Metrics{SEO: 90, A11y: 95, Performance: 88, Bundle: 100}
	assert.Equal(t, []string{"A11y Clean", "WCAG 2.2 AA", "SEO Best Practices", "Transparency Verified", "GDPR Compliant"}, Tags(m, 92.9))
	assert.Equal(t, []string{"GDPR Compliant"}, Tags(Metrics{}, 0))
}

func TestHistory_bounded(t *testing.T) {
	var h History
	for i := range HistoryLimit + 25 {
		h.Add(Snapshot{ID: SnapshotID(time.Unix(0, 0), i), EII: fp(float64(i))})
	}
	assert.Equal(t, HistoryLimit, h.Len())
	snaps := h.Snapshots()
	assert.Equal(t, 25.0, *snaps[0].EII)
	assert.Equal(t, float64(HistoryLimit+24), *snaps[len(snaps)-1].EII)
}

func TestHistory_rollingAverageSkipsMissing(t *testing.T) {
	var h History
	values := []*float64{fp(10), fp(80), nil, fp(80), nil, fp(80), fp(80), fp(80), nil, fp(80), fp(80)}
	for _, v := range values {
		h.Add(Snapshot{EII: v})
	}

	avg, n := h.RollingAverage(RollingWindow)
	assert.Equal(t, 7, n)
	assert.Equal(t, 80.0, avg)

	avg, n = h.RollingAverage(20)
	assert.Equal(t, 8, n)
	assert.Equal(t, 71.3, avg)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		current, avg float64
		want         Direction
	}{
		{90, 80, Improving},
		{84, 80, Stable},
		{76, 80, Stable},
		{70, 80, Declining},
		{50, 0, Stable},
	}
	for _, tc := range cases {
		got, _ := Classify(tc.current, tc.avg)
		assert.Equal(t, tc.want, got, "current=%v avg=%v", tc.current, tc.avg)
	}
}

func TestHistory_trendEmpty(t *testing.T) {
	var h History
	h.Add(Snapshot{ID: "legacy"})
	got, ok := h.Trend()
	assert.False(t, ok)
	assert.Equal(t, Stable, got.Direction)
}

func newTestAggregator(t *testing.T, now time.Time) (*Aggregator, *trustledger.MemoryLedger) {
	t.Helper()
	l := trustledger.NewMemory()
	a := NewAggregator(l, nil)
	a.now = func() time.Time { return now }
	return a, l
}

func TestAggregator_recordAppendsSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	a, l := newTestAggregator(t, now)

	rec, err := a.Record(ctx, Metrics{SEO: 90, A11y: 95, Performance: 88, Bundle: 100}, " abc123 ")
	require.NoError(t, err)
	assert.Equal(t, "eii-2025-11-10-001", rec.Snapshot.ID)
	assert.Equal(t, 92.9, *rec.Snapshot.EII)
	assert.Equal(t, "abc123", rec.Snapshot.Commit)
	assert.Equal(t, trustledger.TypeEIISnapshot, rec.Entry.EntryType)
	assert.Equal(t, rec.Snapshot.ID, rec.Entry.EntryID)
	assert.Equal(t, 1, rec.Trend.DataPoints)

	second, err := a.Record(ctx, Metrics{SEO: 50, A11y: 50, Performance: 50, Bundle: 50}, "def456")
	require.NoError(t, err)
	assert.Equal(t, "eii-2025-11-10-002", second.Snapshot.ID)
	assert.Equal(t, Declining, second.Trend.Direction)

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rep, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
}

func TestAggregator_recordBeyondHistoryLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a, l := newTestAggregator(t, now)

	total := HistoryLimit + 10
	for i := 1; i <= total; i++ {
		rec, err := a.Record(ctx, Metrics{SEO: 90, A11y: 90, Performance: 90, Bundle: 90}, "")
		require.NoError(t, err, "snapshot %d", i)
		require.Equal(t, SnapshotID(now, i), rec.Snapshot.ID)
	}

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, n)
}

func TestAggregator_sequenceResumesAfterGap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	a, l := newTestAggregator(t, now)

	e, err := trustledger.NewEntry(trustledger.TypeEIISnapshot, DefaultAuthor, map[string]any{"eii": 80.0})
	require.NoError(t, err)
	e.EntryID = "eii-2025-11-10-007"
	e.Timestamp = now
	_, err = l.Append(ctx, e)
	require.NoError(t, err)

	rec, err := a.Record(ctx, Metrics{SEO: 90, A11y: 90, Performance: 90, Bundle: 90}, "")
	require.NoError(t, err)
	assert.Equal(t, "eii-2025-11-10-008", rec.Snapshot.ID)
}

func TestAggregator_rejectsInvalidMetrics(t *testing.T) {
	a, l := newTestAggregator(t, time.Now())

	_, err := a.Record(context.Background(), Metrics{Performance: 140}, "")
	var ve *trustledger.ValidationError
	assert.True(t, errors.As(err, &ve))

	n, _ := l.Len(context.Background())
	assert.Zero(t, n)
}

func TestAggregator_historyReadsLegacySnapshots(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
	a, l := newTestAggregator(t, now)

	legacy, err := trustledger.NewEntry(trustledger.TypeEIISnapshot, "ops", map[string]any{"eii": 85, "metrics": map[string]float64{"seo": 80}})
	require.NoError(t, err)
	legacy.EntryID = "baseline-2025-10-25"
	legacy.Timestamp = now.AddDate(0, 0, -16)
	_, err = l.Append(ctx, legacy)
	require.NoError(t, err)

	other, err := trustledger.NewEntry(trustledger.TypeAuditSignoff, "ops", map[string]string{"note": "unrelated"})
	require.NoError(t, err)
	_, err = l.Append(ctx, other)
	require.NoError(t, err)

	h, err := a.History(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())
	s := h.Snapshots()[0]
	assert.Equal(t, "baseline-2025-10-25", s.ID)
	assert.Equal(t, 85.0, *s.EII)
	assert.True(t, legacy.Timestamp.Equal(s.Timestamp))

	trend, ok, err := a.Trend(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 85.0, trend.Current)
}
