package forum

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/traces"
)

// DefaultLimit caps ListPosts when the caller gives no limit.
const DefaultLimit = 100

// Service implements the community board.
type Service struct {
	store     Store
	directory Directory
	logger    *slog.Logger
}

// NewService creates a forum service. directory may be nil, in which case
// author names are left empty.
func NewService(store Store, directory Directory) *Service {
	return &Service{
		store:     store,
		directory: directory,
		logger:    slog.Default(),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// CreatePost opens a thread.
func (s *Service) CreatePost(ctx context.Context, authorID string, req CreatePostRequest) (*Post, error) {
	ctx, span := traces.StartSpan(ctx, "forum.CreatePost", traces.UserID(authorID))
	defer span.End()

	p := &Post{
		ID:        idgen.WithPrefix(idgen.Post),
		AuthorID:  authorID,
		Title:     strings.TrimSpace(req.Title),
		Content:   strings.TrimSpace(req.Content),
		Category:  strings.TrimSpace(req.Category),
		ImageURL:  strings.TrimSpace(req.ImageURL),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	p.AuthorName = s.name(ctx, authorID)

	s.logger.Info("forum post created", "postId", p.ID, "category", p.Category)
	return p, nil
}

// ListPosts returns posts newest first with their reply counts.
func (s *Service) ListPosts(ctx context.Context, f Filter) ([]*Post, error) {
	f.Category = strings.TrimSpace(f.Category)
	f.Query = strings.TrimSpace(f.Query)
	if f.Limit <= 0 || f.Limit > DefaultLimit {
		f.Limit = DefaultLimit
	}
	posts, err := s.store.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, p := range posts {
		if _, ok := names[p.AuthorID]; !ok {
			names[p.AuthorID] = s.name(ctx, p.AuthorID)
		}
		p.AuthorName = names[p.AuthorID]
	}
	return posts, nil
}

// Thread returns a post with its replies.
func (s *Service) Thread(ctx context.Context, postID string) (*Thread, error) {
	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, postID)
	if err != nil {
		return nil, err
	}
	p.AuthorName = s.name(ctx, p.AuthorID)
	p.ReplyCount = len(replies)
	for _, r := range replies {
		r.AuthorName = s.name(ctx, r.AuthorID)
	}
	return &Thread{Post: p, Replies: replies}, nil
}

// Reply answers someone else's post.
func (s *Service) Reply(ctx context.Context, authorID, postID string, req CreateReplyRequest) (*Reply, error) {
	ctx, span := traces.StartSpan(ctx, "forum.Reply", traces.UserID(authorID))
	defer span.End()

	p, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p.AuthorID == authorID {
		return nil, ErrOwnPost
	}

	r := &Reply{
		ID:        idgen.WithPrefix(idgen.Reply),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   strings.TrimSpace(req.Content),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateReply(ctx, r); err != nil {
		return nil, err
	}
	r.AuthorName = s.name(ctx, authorID)
	return r, nil
}

func (s *Service) name(ctx context.Context, userID string) string {
	if s.directory == nil {
		return ""
	}
	return s.directory.FullName(ctx, userID)
}
