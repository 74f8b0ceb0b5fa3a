// Package domain defines the core domain models for the chat client.
package domain

import "regexp"

// SessionStatus represents the lifecycle status of a chat session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "ACTIVE"
	SessionStatusArchived SessionStatus = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	return s == SessionStatusActive || s == SessionStatusArchived
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderAI     Sender = "AI"
	SenderSystem Sender = "SYSTEM"
)

// ChatType partitions sessions by topic.
type ChatType string

const (
	ChatTypeGeneral      ChatType = "general"
	ChatTypeFAQ          ChatType = "faq"
	ChatTypeAdmissions   ChatType = "admissions"
	ChatTypeSelfAnalysis ChatType = "self_analysis"
	ChatTypeStudySupport ChatType = "study_support"
)

var chatTypePattern = regexp.MustCompile(`^[a-z][a-z_]*$`)

// Valid reports whether t is a well-formed chat type. Unknown topics are allowed.
func (t ChatType) Valid() bool {
	return chatTypePattern.MatchString(string(t))
}

func (t ChatType) String() string {
	return string(t)
}

// Phase is the session state machine position of the store.
type Phase string

const (
	PhaseNoSession       Phase = "NO_SESSION"
	PhaseSessionPending  Phase = "SESSION_PENDING"
	PhaseSessionActive   Phase = "SESSION_ACTIVE"
	PhaseSessionArchived Phase = "SESSION_ARCHIVED"
)
