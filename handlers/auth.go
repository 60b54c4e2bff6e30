package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"gather/apperr"
	"gather/identity"
	"gather/models"
	"gather/store"
)

const tokenTTL = 7 * 24 * time.Hour

type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	n, err := h.Store.Count(ctx, store.CollUsers, bson.M{"email": req.Email})
	if err != nil {
		respondErr(c, err)
		return
	}
	if n > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already in use"})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondErr(c, apperr.Internal(err))
		return
	}

	user := models.User{
		ID:           primitive.NewObjectID(),
		Email:        req.Email,
		PasswordHash: string(hashed),
		Name:         req.Name,
		Avatar:       fallbackAvatar,
		Status:       "offline",
		CreatedAt:    time.Now().Unix(),
		LastSeen:     time.Now().Unix(),
	}
	if _, err := h.Store.Insert(ctx, store.CollUsers, user); err != nil {
		respondErr(c, err)
		return
	}

	token, err := identity.Sign(identity.Identity{UserID: user.ID.Hex(), Name: user.Name}, h.JWTSecret, tokenTTL)
	if err != nil {
		respondErr(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  user.Profile(),
	})
}

func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	docs, err := h.Store.Query(ctx, store.Query{
		Collection: store.CollUsers,
		Filter:     bson.M{"email": req.Email},
		OrderField: "createdAt",
		Limit:      1,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(docs) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	var user models.User
	if err := docs[0].Decode(&user); err != nil {
		respondErr(c, apperr.Internal(err))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := identity.Sign(identity.Identity{UserID: user.ID.Hex(), Name: user.Name}, h.JWTSecret, tokenTTL)
	if err != nil {
		respondErr(c, apperr.Internal(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user.Profile(),
	})
}

func (h *Handlers) Me(c *gin.Context) {
	id := who(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	doc, err := h.Store.Get(ctx, store.CollUsers, id.UserID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		respondErr(c, err)
		return
	}
	var user models.User
	if err := doc.Decode(&user); err != nil {
		respondErr(c, apperr.Internal(err))
		return
	}
	c.JSON(http.StatusOK, user.Profile())
}
