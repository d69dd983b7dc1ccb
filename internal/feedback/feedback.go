// Package feedback scores user feedback and records each submission in the
// ledger.
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trust"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// Author is recorded on every feedback_submission entry.
const Author = "Feedback Intake"

// MaxMessageRunes caps the accepted message length.
const MaxMessageRunes = 10000

// Topic classifies a submission.
type Topic string

const (
	TopicGovernance Topic = "governance"
	TopicEthics     Topic = "ethics"
	TopicSafety     Topic = "safety"
	TopicUX         Topic = "ux"
	TopicBug        Topic = "bug"
	TopicOther      Topic = "other"
)

var legacyTopics = map[string]Topic{
	"accessibility": TopicUX,
	"incident":      TopicSafety,
}

func parseTopic(s string) (Topic, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch t := Topic(s); t {
	case "":
		return TopicOther, true
	case TopicGovernance, TopicEthics, TopicSafety, TopicUX, TopicBug, TopicOther:
		return t, true
	}
	t, ok := legacyTopics[s]
	return t, ok
}

// Submission is an incoming piece of feedback.
type Submission struct {
	Topic          string        `json:"topic,omitempty"`
	Message        string        `json:"message"`
	Email          string        `json:"email,omitempty"`
	ConsentContact bool          `json:"consent_contact,omitempty"`
	TrustOptIn     bool          `json:"trust_opt_in,omitempty"`
	Signals        trust.Signals `json:"signals"`
}

// Record is the ledger payload of a submission. The message itself is not
// stored, only its digest and length.
type Record struct {
	SubmissionID    string           `json:"submission_id"`
	Topic           Topic            `json:"topic"`
	MessageSHA256   string           `json:"message_sha256"`
	MessageLength   int              `json:"message_length"`
	EmailSHA256     string           `json:"email_sha256,omitempty"`
	ConsentContact  bool             `json:"consent_contact"`
	TrustOptIn      bool             `json:"trust_opt_in"`
	TrustScore      float64          `json:"trust_score"`
	TrustComponents trust.Components `json:"trust_components"`
	TrustVersion    string           `json:"trust_version"`
	Flags           []string         `json:"flags,omitempty"`
	Status          string           `json:"status"`
}

// Receipt is returned to the submitter.
type Receipt struct {
	SubmissionID string      `json:"submission_id"`
	Score        trust.Score `json:"trust"`
	EntryID      string      `json:"entry_id"`
	MerkleRoot   string      `json:"merkle_root"`
}

// Service scores and records feedback.
type Service struct {
	ledger trustledger.Ledger
	scorer *trust.Scorer
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(l trustledger.Ledger, scorer *trust.Scorer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: l, scorer: scorer, logger: logger, now: time.Now}
}

// Submit scores sub and appends a feedback_submission entry.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	msg := strings.TrimSpace(sub.Message)
	if msg == "" {
		return nil, &trustledger.ValidationError{Field: "message", Reason: "is required"}
	}
	if utf8.RuneCountInString(msg) > MaxMessageRunes {
		return nil, &trustledger.ValidationError{Field: "message", Reason: fmt.Sprintf("exceeds %d characters", MaxMessageRunes)}
	}
	topic, ok := parseTopic(sub.Topic)
	if !ok {
		return nil, &trustledger.ValidationError{Field: "topic", Reason: fmt.Sprintf("unknown topic %q", sub.Topic)}
	}

	score := s.scorer.Compute(sub.Message, sub.Signals)
	rec := Record{
		SubmissionID:    uuid.NewString(),
		Topic:           topic,
		MessageSHA256:   digest(msg),
		MessageLength:   utf8.RuneCountInString(msg),
		ConsentContact:  sub.ConsentContact,
		TrustOptIn:      sub.TrustOptIn,
		TrustScore:      score.Score,
		TrustComponents: score.Components,
		TrustVersion:    score.Version,
		Flags:           score.Flags,
		Status:          "pending",
	}
	if email := strings.ToLower(strings.TrimSpace(sub.Email)); email != "" {
		rec.EmailSHA256 = digest(email)
	}

	entry, err := trustledger.NewEntry(trustledger.TypeFeedbackSubmission, Author, rec)
	if err != nil {
		return nil, err
	}
	entry.EntryID = "feedback-" + rec.SubmissionID
	entry.Timestamp = s.now().UTC()

	stored, err := s.ledger.Append(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("append feedback submission: %w", err)
	}

	s.logger.Info("feedback recorded",
		zap.String("submission_id", rec.SubmissionID),
		zap.String("topic", string(topic)),
		zap.Float64("trust_score", score.Score),
		zap.Strings("flags", score.Flags),
	)
	return &Receipt{
		SubmissionID: rec.SubmissionID,
		Score:        score,
		EntryID:      stored.EntryID,
		MerkleRoot:   stored.MerkleRoot,
	}, nil
}

// Trend aggregates the trust scores of recorded submissions.
func (s *Service) Trend(ctx context.Context, period int) (trust.TrendReport, error) {
	var points []trust.Point
	for e, err := range s.ledger.Entries(ctx) {
		if err != nil {
			var ce *trustledger.CorruptEntryError
			if errors.As(err, &ce) {
				s.logger.Warn("skipping corrupt ledger record", zap.Error(err))
				continue
			}
			return trust.TrendReport{}, fmt.Errorf("read feedback history: %w", err)
		}
		if e.EntryType != trustledger.TypeFeedbackSubmission {
			continue
		}
		var rec Record
		if err := e.DecodePayload(&rec); err != nil {
			s.logger.Warn("skipping undecodable feedback entry",
				zap.String("entry_id", e.EntryID), zap.Error(err))
			continue
		}
		points = append(points, trust.Point{
			Time:    e.Timestamp,
			Score:   rec.TrustScore,
			Version: rec.TrustVersion,
			OptIn:   rec.TrustOptIn,
		})
	}
	return trust.Trend(points, s.now().UTC(), period), nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
