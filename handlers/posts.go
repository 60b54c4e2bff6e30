package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"gather/apperr"
	"gather/models"
	"gather/store"
)

const defaultPageSize = 20

type CreatePostRequest struct {
	GroupID string   `json:"groupId" binding:"required"`
	Content string   `json:"content"`
	Media   []string `json:"media"`
}

func (h *Handlers) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	post, err := h.Coord.CreatePost(ctx, who(c), req.GroupID, req.Content, req.Media)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"postId": post.ID.Hex()})
}

// GetFeed returns one page of a group's feed, newest first. Pass ?cursor= to
// page past the live window.
func (h *Handlers) GetFeed(c *gin.Context) {
	gid, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	q := store.Query{
		Collection: store.CollPosts,
		Filter:     bson.M{"groupId": gid},
		OrderField: "createdAt",
		Descending: true,
	}
	page, err := h.loadPage(ctx, c, q)
	if err != nil {
		respondErr(c, err)
		return
	}

	posts := make([]models.Post, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var p models.Post
		if doc.Decode(&p) == nil {
			posts = append(posts, p)
		}
	}
	h.attachAuthors(ctx, posts)

	c.JSON(http.StatusOK, gin.H{
		"items":   posts,
		"cursor":  page.Cursor,
		"hasMore": page.HasMore,
	})
}

func (h *Handlers) ToggleLikePost(c *gin.Context) {
	h.toggleLike(c, store.CollPosts, c.Param("id"))
}

func (h *Handlers) toggleLike(c *gin.Context, collection, entityID string) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	liked, err := h.Coord.ToggleLike(ctx, who(c), collection, entityID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

type UpdateContentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handlers) EditPost(c *gin.Context) {
	var req UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.Coord.UpdateContent(ctx, who(c), store.CollPosts, c.Param("id"), req.Content); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post updated"})
}

func (h *Handlers) DeletePost(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.Coord.DeletePost(ctx, who(c), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted"})
}

// loadPage reads one cursor page from the query string: ?cursor=&limit=.
func (h *Handlers) loadPage(ctx context.Context, c *gin.Context, q store.Query) (page struct {
	Docs    []store.Doc
	Cursor  string
	HasMore bool
}, err error) {
	limit := int64(defaultPageSize)
	if raw := c.Query("limit"); raw != "" {
		if n, perr := parseLimit(raw); perr == nil {
			limit = n
		}
	}

	if cursor := c.Query("cursor"); cursor != "" {
		p, err := h.Paginator.NextPage(ctx, q, cursor, limit)
		if err != nil {
			return page, err
		}
		page.Docs, page.Cursor, page.HasMore = p.Docs, p.Cursor, p.HasMore
		return page, nil
	}
	p, err := h.Paginator.FirstPage(ctx, q, limit)
	if err != nil {
		return page, err
	}
	page.Docs, page.Cursor, page.HasMore = p.Docs, p.Cursor, p.HasMore
	return page, nil
}

func parseLimit(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 || n > 100 {
		return 0, apperr.Invalid("invalid limit")
	}
	return n, nil
}

// attachAuthors populates the response-only author profiles for a page of
// posts.
func (h *Handlers) attachAuthors(ctx context.Context, posts []models.Post) {
	cache := make(map[string]*models.Profile)
	for i := range posts {
		id := posts[i].AuthorID.Hex()
		if p, ok := cache[id]; ok {
			posts[i].Author = p
			continue
		}
		profile := &models.Profile{ID: id, Name: "Unknown", Avatar: fallbackAvatar, Status: "offline"}
		if doc, err := h.Store.Get(ctx, store.CollUsers, id); err == nil {
			var user models.User
			if doc.Decode(&user) == nil {
				p := user.Profile()
				profile = &p
			}
		}
		cache[id] = profile
		posts[i].Author = profile
	}
}
