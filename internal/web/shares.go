package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/internal/drive"
)

type createShareRequest struct {
	FileID      *uint64 `json:"file_id"`
	FolderID    *uint64 `json:"folder_id"`
	SharedWith  string  `json:"shared_with"`
	IsPublic    bool    `json:"is_public"`
	CanEdit     bool    `json:"can_edit"`
	CanDownload *bool   `json:"can_download"`
	Password    string  `json:"password"`
	ExpiresDays int     `json:"expires_days"`
}

type verifyPasswordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleCreateShare(c *gin.Context) {
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	share, err := s.svc.CreateShare(requestContext(c), drive.CreateShareRequest{
		OwnerID:     currentUser(c),
		FileID:      req.FileID,
		FolderID:    req.FolderID,
		SharedWith:  req.SharedWith,
		IsPublic:    req.IsPublic,
		CanEdit:     req.CanEdit,
		CanDownload: req.CanDownload,
		Password:    req.Password,
		ExpiresDays: req.ExpiresDays,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "share created",
		"share_token": share.Token,
		"share_url":   drive.ShareURL(s.baseURL(c), share.Token),
		"expires_at":  share.ExpiresAt,
	})
}

func (s *Server) handleShareView(c *gin.Context) {
	token := c.Param("token")
	share, resource, err := s.svc.ResolveShare(requestContext(c), token, c.Query("authenticated"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"share_token": share.Token,
		"expires_at":  share.ExpiresAt,
		"resource":    resource,
	})
}

func (s *Server) handleVerifySharePassword(c *gin.Context) {
	var req verifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	token := c.Param("token")
	proof, err := s.svc.VerifySharePassword(requestContext(c), token, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"redirect":      drive.ShareRedirect(token, proof),
		"authenticated": proof,
	})
}

func (s *Server) handleListShares(c *gin.Context) {
	items, err := s.svc.ListShares(requestContext(c), currentUser(c), s.baseURL(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": items})
}

func (s *Server) handleRevokeShare(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.RevokeShare(requestContext(c), currentUser(c), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "share revoked"})
}
