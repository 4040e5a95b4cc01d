// Package analytics defines the write-once interaction records appended for
// each completed exchange. Records are never read back by the service.
package analytics

import "time"

// Record is a snapshot of one question/answer exchange.
type Record struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	SessionID         string    `json:"session_id"`
	Owner             string    `json:"owner"`
	ClientIP          string    `json:"client_ip,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	Question          string    `json:"question"`
	QuestionLength    int       `json:"question_length"`
	Answer            string    `json:"answer"`
	AnswerLength      int       `json:"answer_length"`
	GenerationSeconds float64   `json:"generation_seconds"`
	Streamed          bool      `json:"streamed"`
	ToolUsed          bool      `json:"tool_used,omitempty"`
}
