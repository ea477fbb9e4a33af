package entities

import "time"

// Speaker identifies who produced a transcript line
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptEntry is one recorded conversation turn
type TranscriptEntry struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	Speaker    Speaker   `json:"speaker" db:"speaker"`
	Text       string    `json:"text" db:"text"`
	DedupKey   string    `json:"-" db:"dedup_key"`
	Confidence *float64  `json:"confidence,omitempty" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
