package models

import (
	"time"
	"unicode/utf8"
)

// Tag keys attached to a stored session object. The tag set is the mutable
// half of a session; the JSON body never changes after the serving layer
// writes it.
const (
	TagStatus        = "status"
	TagProcessed     = "processed"
	TagFeedbackType  = "feedback_type"
	TagConfidence    = "confidence"
	TagDoctorComment = "doctor_comment"
)

// Review status values. A session only ever moves
// needs_review -> approved or needs_review -> rejected.
const (
	StatusNeedsReview = "needs_review"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
)

// User feedback values. Sessions without explicit feedback stay "none" and
// are never triaged.
const (
	FeedbackNone    = "none"
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
)

// MaxCommentBytes is the object-store limit on a single tag value.
const MaxCommentBytes = 255

// SessionBody is the immutable JSON payload of one logged exchange.
type SessionBody struct {
	Prompt      string  `json:"prompt"`
	Response    string  `json:"response"`
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	Timestamp   string  `json:"timestamp"`
	SessionID   string  `json:"session_id,omitempty"`
}

// ParsedTimestamp returns the body timestamp as UTC time.
// The serving layer writes RFC 3339 with a trailing Z.
func (b *SessionBody) ParsedTimestamp() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, b.Timestamp)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// ReviewItem is one session lifted out of the store during triage, carrying
// everything the dispatcher needs to build an annotation task.
type ReviewItem struct {
	Key        string
	SessionID  string
	Prompt     string
	Response   string
	Confidence float64
	Feedback   string
}

// Verdict is a reviewer's decision extracted from a completed annotation.
type Verdict struct {
	Status  string // approved or rejected
	Comment string
}

// TruncateComment cuts a reviewer comment down to MaxCommentBytes, backing
// off to the previous rune boundary so the stored tag stays valid UTF-8.
func TruncateComment(s string) string {
	if len(s) <= MaxCommentBytes {
		return s
	}
	cut := MaxCommentBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
