package model

import (
	"strings"
	"time"
)

// TopicUsage remembers how often a topic string was consumed by generation.
type TopicUsage struct {
	Topic      string    `json:"topic"`
	TimesUsed  int       `json:"times_used"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// NormalizeTopic builds the case-insensitive key topics are stored under.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.Join(strings.Fields(topic), " "))
}
