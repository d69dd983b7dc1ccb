package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/IntegrityLedger/internal/trust"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

func newTestService(t *testing.T) (*Service, *trustledger.MemoryLedger) {
	t.Helper()
	scorer, err := trust.NewScorer(trust.DefaultConfig())
	require.NoError(t, err)
	l := trustledger.NewMemory()
	return NewService(l, scorer, nil), l
}

func TestSubmit_recordsScoredEntry(t *testing.T) {
	s, l := newTestService(t)
	ctx := context.Background()
	age := 90

	r, err := s.Submit(ctx, Submission{
		Topic:      "Accessibility",
		Message:    "The dashboard has insufficient contrast in dark mode for chart labels.",
		Email:      " Someone@Example.org ",
		TrustOptIn: true,
		Signals:    trust.Signals{AccountAgeDays: &age, Verified: true, HasContext: true},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.SubmissionID)
	assert.True(t, trust.IsValidScore(r.Score.Score))
	assert.Equal(t, "feedback-"+r.SubmissionID, r.EntryID)

	e, err := l.Get(ctx, r.EntryID)
	require.NoError(t, err)
	assert.Equal(t, trustledger.TypeFeedbackSubmission, e.EntryType)

	var rec Record
	require.NoError(t, e.DecodePayload(&rec))
	assert.Equal(t, TopicUX, rec.Topic)
	assert.Equal(t, r.Score.Score, rec.TrustScore)
	assert.Equal(t, digest("someone@example.org"), rec.EmailSHA256)
	assert.Len(t, rec.MessageSHA256, 64)
	assert.NotContains(t, string(e.Payload), "contrast")
	assert.Equal(t, "pending", rec.Status)
}

func TestSubmit_validation(t *testing.T) {
	s, l := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		sub   Submission
		field string
	}{
		{"empty", Submission{Message: "   "}, "message"},
		{"too long", Submission{Message: strings.Repeat("a", MaxMessageRunes+1)}, "message"},
		{"unknown topic", Submission{Message: "hello there", Topic: "sales"}, "topic"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Submit(ctx, tc.sub)
			var ve *trustledger.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrend_fromSubmissions(t *testing.T) {
	s, l := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

	for i, optIn := range []bool{true, false, true, true} {
		s.now = func() time.Time { return now.AddDate(0, 0, -i) }
		_, err := s.Submit(ctx, Submission{Message: "A reasonably detailed piece of feedback.", TrustOptIn: optIn})
		require.NoError(t, err)
	}

	other, err := trustledger.NewEntry(trustledger.TypeAuditSignoff, "ops", map[string]string{"note": "x"})
	require.NoError(t, err)
	_, err = l.Append(ctx, other)
	require.NoError(t, err)

	s.now = func() time.Time { return now }
	rep, err := s.Trend(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Points)
	assert.Len(t, rep.Days, 4)
	assert.Equal(t, 0.75, rep.OptInRate)
	assert.Equal(t, trust.DefaultEMAPeriod, rep.EMAPeriod)
}
