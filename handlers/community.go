// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/danielhkuo/quickform/auth"
	"github.com/danielhkuo/quickform/db"
	"github.com/danielhkuo/quickform/middleware"
	"github.com/danielhkuo/quickform/models"
)

const (
	maxPostLength  = 2000
	communityPosts = 50
	communityTasks = 12
)

type CommunityHandler struct {
	db *sql.DB
}

func NewCommunityHandler(db *sql.DB) *CommunityHandler {
	return &CommunityHandler{db: db}
}

// validContent trims content and checks its length in characters
func validContent(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.ContentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return "", false
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "content is required")
		return "", false
	}
	if utf8.RuneCountInString(content) > maxPostLength {
		middleware.ErrorResponse(w, http.StatusBadRequest, "content must be at most 2000 characters")
		return "", false
	}
	return content, true
}

// Community handles GET /community
func (h *CommunityHandler) Community(w http.ResponseWriter, r *http.Request) {
	posts, err := h.loadPosts()
	if err != nil {
		internalError(w, "failed to load posts", err)
		return
	}

	latest, err := queryTasks(h.db, `
		SELECT `+taskColumns+` FROM task WHERE sharing_type = 'public'
		ORDER BY created_at DESC LIMIT $1
	`, communityTasks)
	if err != nil {
		internalError(w, "failed to load latest tasks", err)
		return
	}

	liked, err := queryTasks(h.db, `
		SELECT `+taskColumns+` FROM task WHERE sharing_type = 'public'
		ORDER BY like_count DESC, created_at DESC LIMIT $1
	`, communityTasks)
	if err != nil {
		internalError(w, "failed to load liked tasks", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, models.CommunityResponse{
		Posts:       posts,
		LatestTasks: latest,
		LikedTasks:  liked,
	})
}

// loadPosts returns the newest posts with their replies oldest first
func (h *CommunityHandler) loadPosts() ([]models.Post, error) {
	rows, err := h.db.Query(`
		SELECT p.id, p.user_id, u.username, p.content, p.created_at
		FROM post p JOIN users u ON u.id = p.user_id
		ORDER BY p.created_at DESC, p.id LIMIT $1
	`, communityPosts)
	if err != nil {
		return nil, err
	}
	posts := []models.Post{}
	index := map[string]int{}
	for rows.Next() {
		p := models.Post{Replies: []models.PostReply{}}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &p.Content, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[p.ID] = len(posts)
		posts = append(posts, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	// Replies of posts that scrolled out are skipped below
	replies, err := queryReplies(h.db, `
		SELECT r.id, r.post_id, r.user_id, u.username, r.content, r.created_at
		FROM post_reply r JOIN users u ON u.id = r.user_id
		WHERE r.post_id IN (SELECT id FROM post ORDER BY created_at DESC, id LIMIT $1)
		ORDER BY r.created_at, r.id
	`, communityPosts)
	if err != nil {
		return nil, err
	}
	for _, reply := range replies {
		if i, ok := index[reply.PostID]; ok {
			posts[i].Replies = append(posts[i].Replies, reply)
		}
	}
	return posts, nil
}

func queryReplies(q db.Querier, query string, args ...any) ([]models.PostReply, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	replies := []models.PostReply{}
	for rows.Next() {
		var r models.PostReply
		if err := rows.Scan(&r.ID, &r.PostID, &r.UserID, &r.Username, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// CreatePost handles POST /community/posts
func (h *CommunityHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	content, ok := validContent(w, r)
	if !ok {
		return
	}

	post := models.Post{
		UserID:    user.ID,
		Username:  user.Username,
		Content:   content,
		CreatedAt: db.Now(),
		Replies:   []models.PostReply{},
	}
	var err error
	if post.ID, err = auth.GenerateID(16); err != nil {
		internalError(w, "failed to generate post ID", err)
		return
	}

	_, err = h.db.Exec("INSERT INTO post (id, user_id, content, created_at) VALUES ($1, $2, $3, $4)",
		post.ID, post.UserID, post.Content, post.CreatedAt)
	if err != nil {
		internalError(w, "failed to insert post", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, post)
}

// CreateReply handles POST /community/posts/{id}/replies
func (h *CommunityHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r.Context())
	postID := r.PathValue("id")

	var n int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM post WHERE id = $1", postID).Scan(&n); err != nil {
		internalError(w, "failed to load post", err)
		return
	}
	if n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Post not found")
		return
	}

	content, ok := validContent(w, r)
	if !ok {
		return
	}

	reply := models.PostReply{
		PostID:    postID,
		UserID:    user.ID,
		Username:  user.Username,
		Content:   content,
		CreatedAt: db.Now(),
	}
	var err error
	if reply.ID, err = auth.GenerateID(16); err != nil {
		internalError(w, "failed to generate reply ID", err)
		return
	}

	_, err = h.db.Exec("INSERT INTO post_reply (id, post_id, user_id, content, created_at) VALUES ($1, $2, $3, $4, $5)",
		reply.ID, reply.PostID, reply.UserID, reply.Content, reply.CreatedAt)
	if err != nil {
		internalError(w, "failed to insert reply", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, reply)
}

// DeletePost handles DELETE /community/posts/{id}. Replies cascade.
func (h *CommunityHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, "post", r.PathValue("id"), "Post")
}

// DeleteReply handles DELETE /community/replies/{id}
func (h *CommunityHandler) DeleteReply(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, "post_reply", r.PathValue("id"), "Reply")
}

func (h *CommunityHandler) deleteByID(w http.ResponseWriter, table, id, label string) {
	res, err := h.db.Exec("DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		internalError(w, "failed to delete "+table, err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, label+" not found")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Success: true, Message: label + " deleted"})
}
