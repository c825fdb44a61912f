package store

import "time"

// Message is one line of chat history.
type Message struct {
	Role    string `json:"role"` // human, ai, system
	Content string `json:"content"`
}

// Interaction is the durable record of one completed turn.
type Interaction struct {
	UserID       string    `json:"userId"`
	Input        string    `json:"input"`
	Response     string    `json:"response"`
	Success      bool      `json:"success"`
	Summary      string    `json:"summary,omitempty"`
	Capabilities []string  `json:"capabilitiesUsed"`
	Tools        []string  `json:"toolsUsed"`
	Timestamp    time.Time `json:"timestamp"`
}

// Profile aggregates a user's interactions.
type Profile struct {
	UserID       string    `json:"userId"`
	Interactions int       `json:"interactions"`
	Successes    int       `json:"successes"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Task is a scheduled prompt. An interval of zero means run once.
type Task struct {
	ID              int    `json:"id"`
	ChatID          string `json:"chatId"`
	Description     string `json:"description"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

type Stats struct {
	Messages     int `json:"messages"`
	Interactions int `json:"interactions"`
	Users        int `json:"users"`
	ActiveTasks  int `json:"activeTasks"`
}
