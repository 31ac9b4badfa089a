package models

import "time"

// FeedbackRating ist die Bewertung eines Suchtreffers.
type FeedbackRating string

const (
	RatingPositive FeedbackRating = "positive"
	RatingNegative FeedbackRating = "negative"
)

// FeedbackVote ist eine einzelne Bewertung einer (Dokument, Seite)-Kombination.
//
// Der zusammengesetzte Unique-Index deckt (session_id, document_id, page) ab.
// SessionID ist nullable: NULL-Werte kollidieren in Postgres nie miteinander,
// anonyme Bewertungen werden also nie dedupliziert.
type FeedbackVote struct {
	ID        string    `json:"feedback_id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"timestamp"`

	Query      string         `json:"query" gorm:"not null"`
	DocumentID string         `json:"document_id" gorm:"type:uuid;index;uniqueIndex:ux_feedback_session_page,priority:2;not null"`
	Page       int            `json:"page" gorm:"uniqueIndex:ux_feedback_session_page,priority:3;not null"`
	Rating     FeedbackRating `json:"rating" gorm:"type:varchar(8);not null"`
	SessionID  *string        `json:"session_id,omitempty" gorm:"type:varchar(36);uniqueIndex:ux_feedback_session_page,priority:1"`
}

// FeedbackRequest ist der Request-Body für POST /feedback.
type FeedbackRequest struct {
	Query      string `json:"query" binding:"required"`
	DocumentID string `json:"document_id" binding:"required,uuid"`
	Page       int    `json:"page" binding:"required,min=1"`
	Rating     string `json:"rating" binding:"required,oneof=positive negative"`
	SessionID  string `json:"session_id" binding:"omitempty,max=36"`
}

// FeedbackStats sind die aggregierten Bewertungen einer Dokumentseite
// samt daraus berechnetem Boost.
type FeedbackStats struct {
	DocumentID    string  `json:"document_id"`
	Page          int     `json:"page"`
	PositiveCount int64   `json:"positive_count"`
	NegativeCount int64   `json:"negative_count"`
	TotalCount    int64   `json:"total_count"`
	BoostScore    float64 `json:"boost_score"`
}
