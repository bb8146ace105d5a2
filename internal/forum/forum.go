// Package forum is the community board where farmers and buyers ask
// questions and answer each other.
//
// Posts carry a free-text category ("pest control", "market prices") used
// for filtering. Anyone signed in may read and post; replies to your own
// post are refused so threads stay conversations.
package forum

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrOwnPost      = errors.New("users cannot reply to their own posts")
)

// Post is a forum thread's opening message.
type Post struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	ReplyCount int       `json:"replyCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Reply answers a post.
type Reply struct {
	ID         string    `json:"id"`
	PostID     string    `json:"postId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Thread is a post with its replies, oldest reply first.
type Thread struct {
	Post    *Post    `json:"post"`
	Replies []*Reply `json:"replies"`
}

// Filter narrows ListPosts. Category matches exactly (case-insensitive),
// Query is a case-insensitive substring of the title.
type Filter struct {
	Category string
	Query    string
	Limit    int
}

// CreatePostRequest is the body of POST /v1/forum/posts.
type CreatePostRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content" binding:"required"`
	Category string `json:"category" binding:"required"`
	ImageURL string `json:"imageUrl"`
}

// CreateReplyRequest is the body of POST /v1/forum/posts/:id/replies.
type CreateReplyRequest struct {
	Content string `json:"content" binding:"required"`
}

// Store persists posts and replies. ReplyCount is filled by the store.
type Store interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	ListPosts(ctx context.Context, f Filter) ([]*Post, error)
	CreateReply(ctx context.Context, r *Reply) error
	ListReplies(ctx context.Context, postID string) ([]*Reply, error)
}

// Directory resolves display names. auth.Manager implements it.
type Directory interface {
	FullName(ctx context.Context, userID string) string
}
