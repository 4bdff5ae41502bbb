package services

import "time"

// Meta carries the fields the server owns on every item.
type Meta struct {
	ID        string     `json:"id,omitempty"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type Forum struct {
	Meta
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"category_id,omitempty"`
}

type Post struct {
	Meta
	ForumID string   `json:"forum_id,omitempty"`
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type Category struct {
	Meta
	Name string `json:"name"`
}

type Trivia struct {
	Meta
	Question string   `json:"question"`
	Answers  []string `json:"answers,omitempty"`
	Correct  int      `json:"correct"`
	Country  string   `json:"country,omitempty"`
}

type Travel struct {
	Meta
	Title     string     `json:"title"`
	Country   string     `json:"country,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

type Message struct {
	Meta
	ConversationID string `json:"conversation_id,omitempty"`
	To             string `json:"to,omitempty"`
	Text           string `json:"text"`
}

type Notification struct {
	Meta
	UserID string `json:"user_id,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Text   string `json:"text"`
	Read   bool   `json:"read"`
}

type Comment struct {
	Meta
	PostID string `json:"post_id,omitempty"`
	Text   string `json:"text"`
}

type Country struct {
	Meta
	Code string `json:"code"`
	Name string `json:"name"`
}

type Role struct {
	Meta
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// UserRecord is a user as stored in the users collection. The signed-in
// user's profile comes from Users.Me.
type UserRecord struct {
	Meta
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
}
