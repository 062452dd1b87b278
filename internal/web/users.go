package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/internal/drive"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	user, err := s.svc.Register(requestContext(c), drive.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "user created",
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	session, err := s.svc.Authenticate(requestContext(c), req.Username, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) handleUserInfo(c *gin.Context) {
	info, err := s.svc.UserInfo(requestContext(c), currentUser(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) handleListActivities(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			abortInvalid(c, "invalid limit")
			return
		}
		limit = n
	}

	activities, err := s.svc.ListActivities(requestContext(c), currentUser(c), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteUser(requestContext(c), currentUser(c), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (s *Server) handleSystemInfo(c *gin.Context) {
	info, err := s.svc.SystemInfo(requestContext(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}
