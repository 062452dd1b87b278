package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *uint64 `json:"parent_id"`
}

func (s *Server) handleCreateFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}
	parentID := req.ParentID
	if parentID != nil && *parentID == 0 {
		parentID = nil
	}

	folder, err := s.svc.CreateFolder(requestContext(c), currentUser(c), req.Name, parentID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "folder created",
		"folder_id": folder.ID,
		"folder":    folder,
	})
}

func (s *Server) handleListFolders(c *gin.Context) {
	parentID, ok := optionalID(c, "parent_id")
	if !ok {
		return
	}

	listing, err := s.svc.ListChildren(requestContext(c), currentUser(c), parentID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"folders": listing.Folders,
		"files":   listing.Files,
	})
}

func (s *Server) handleDeleteFolder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteFolder(requestContext(c), currentUser(c), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "folder deleted"})
}
