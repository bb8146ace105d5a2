package forum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type names map[string]string

func (n names) FullName(_ context.Context, userID string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return userID
}

var testNames = names{"usr_asha": "Asha Patil", "usr_ravi": "Ravi Kumar"}

func newTestService() (*Service, *MemoryStore) {
	st := NewMemoryStore()
	return NewService(st, testNames), st
}

func post(t *testing.T, svc *Service, author, title, category string) *Post {
	t.Helper()
	p, err := svc.CreatePost(context.Background(), author, CreatePostRequest{
		Title:    title,
		Content:  "Details for " + title,
		Category: category,
	})
	require.NoError(t, err)
	return p
}

func TestCreatePost(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.CreatePost(context.Background(), "usr_asha", CreatePostRequest{
		Title:    "  Leaf curl on chilli  ",
		Content:  " Yellowing after the first rain. ",
		Category: " Pest Control ",
	})
	require.NoError(t, err)

	assert.Contains(t, p.ID, "pst_")
	assert.Equal(t, "Leaf curl on chilli", p.Title)
	assert.Equal(t, "Yellowing after the first rain.", p.Content)
	assert.Equal(t, "Pest Control", p.Category)
	assert.Equal(t, "Asha Patil", p.AuthorName)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestListPosts_FilterAndSearch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	post(t, svc, "usr_asha", "Leaf curl on chilli", "Pest Control")
	time.Sleep(time.Millisecond)
	post(t, svc, "usr_ravi", "Onion prices at Lasalgaon", "Market Prices")
	time.Sleep(time.Millisecond)
	post(t, svc, "usr_ravi", "Whitefly on cotton", "pest control")

	all, err := svc.ListPosts(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Whitefly on cotton", all[0].Title, "newest first")

	pests, err := svc.ListPosts(ctx, Filter{Category: "PEST CONTROL"})
	require.NoError(t, err)
	assert.Len(t, pests, 2)

	found, err := svc.ListPosts(ctx, Filter{Query: "ONION"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ravi Kumar", found[0].AuthorName)

	none, err := svc.ListPosts(ctx, Filter{Category: "Market Prices", Query: "cotton"})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := svc.ListPosts(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestReply(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := post(t, svc, "usr_asha", "Leaf curl on chilli", "Pest Control")

	_, err := svc.Reply(ctx, "usr_asha", p.ID, CreateReplyRequest{Content: "Any ideas?"})
	assert.ErrorIs(t, err, ErrOwnPost)

	r, err := svc.Reply(ctx, "usr_ravi", p.ID, CreateReplyRequest{Content: " Try neem oil spray. "})
	require.NoError(t, err)
	assert.Contains(t, r.ID, "rpl_")
	assert.Equal(t, "Try neem oil spray.", r.Content)
	assert.Equal(t, "Ravi Kumar", r.AuthorName)

	_, err = svc.Reply(ctx, "usr_ravi", "pst_missing", CreateReplyRequest{Content: "x"})
	assert.ErrorIs(t, err, ErrPostNotFound)

	list, err := svc.ListPosts(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, list[0].ReplyCount)
}

func TestThread(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	p := post(t, svc, "usr_asha", "Drip or sprinkler for sugarcane?", "Irrigation")

	for _, text := range []string{"Drip saves water.", "Sprinkler is cheaper to set up."} {
		_, err := svc.Reply(ctx, "usr_ravi", p.ID, CreateReplyRequest{Content: text})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	th, err := svc.Thread(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Patil", th.Post.AuthorName)
	assert.Equal(t, 2, th.Post.ReplyCount)
	require.Len(t, th.Replies, 2)
	assert.Equal(t, "Drip saves water.", th.Replies[0].Content, "oldest reply first")

	_, err = svc.Thread(ctx, "pst_missing")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestService_NoDirectory(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil)
	p, err := svc.CreatePost(context.Background(), "usr_asha", CreatePostRequest{Content: "Hello", Category: "General"})
	require.NoError(t, err)
	assert.Empty(t, p.AuthorName)
}

func TestMemoryStore_CopiesOnRead(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.CreatePost(ctx, &Post{ID: "pst_1", AuthorID: "usr_asha", Content: "x", Category: "General"}))

	p, err := st.GetPost(ctx, "pst_1")
	require.NoError(t, err)
	p.Content = "changed"

	again, err := st.GetPost(ctx, "pst_1")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Content)

	assert.ErrorIs(t, st.CreateReply(ctx, &Reply{ID: "rpl_1", PostID: "pst_missing"}), ErrPostNotFound)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off`, escapeLike("50% off"))
	assert.Equal(t, `a\_b\\c`, escapeLike(`a_b\c`))
}
