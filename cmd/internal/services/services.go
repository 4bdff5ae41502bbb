package services

import (
	"context"

	"wayfarer/cmd/internal/client"
)

// Users adds the profile endpoint to the users collection.
type Users struct {
	*Resource[UserRecord]
	c *client.Client
}

// Me returns the signed-in user.
func (u *Users) Me(ctx context.Context) (*client.User, error) { return u.c.Me(ctx) }

// Services groups one wrapper per collection.
type Services struct {
	Forums        *Resource[Forum]
	Posts         *Resource[Post]
	Categories    *Resource[Category]
	Trivia        *Resource[Trivia]
	Travels       *Resource[Travel]
	Messages      *Resource[Message]
	Notifications *Resource[Notification]
	Comments      *Resource[Comment]
	Countries     *Resource[Country]
	Roles         *Resource[Role]
	Users         *Users
}

func New(c *client.Client) *Services {
	return &Services{
		Forums:        NewResource[Forum](c, "forums"),
		Posts:         NewResource[Post](c, "posts"),
		Categories:    NewResource[Category](c, "categories"),
		Trivia:        NewResource[Trivia](c, "trivia"),
		Travels:       NewResource[Travel](c, "travels"),
		Messages:      NewResource[Message](c, "messages"),
		Notifications: NewResource[Notification](c, "notifications"),
		Comments:      NewResource[Comment](c, "comments"),
		Countries:     NewResource[Country](c, "countries"),
		Roles:         NewResource[Role](c, "roles"),
		Users:         &Users{Resource: NewResource[UserRecord](c, "users"), c: c},
	}
}
