package web

import (
	"net/http"
	"strconv"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/internal/drive/stream"
)

type renameRequest struct {
	NewName string `json:"new_name"`
}

type updateFileRequest struct {
	IsFavorite  *bool   `json:"is_favorite"`
	Tags        *string `json:"tags"`
	Description *string `json:"description"`
}

func (s *Server) handleListFiles(c *gin.Context) {
	folderID, ok := optionalID(c, "folder_id")
	if !ok {
		return
	}

	listing, err := s.svc.ListChildren(requestContext(c), currentUser(c), folderID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"folders":           listing.Folders,
		"files":             listing.Files,
		"path":              listing.Path,
		"current_folder_id": listing.CurrentFolderID,
		"total_items":       listing.TotalItems(),
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abortInvalid(c, "no file uploaded")
		return
	}

	var folderID *uint64
	if raw := c.PostForm("folder_id"); raw != "" && raw != "0" && raw != "null" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			abortInvalid(c, "invalid folder_id")
			return
		}
		folderID = &id
	}

	body, err := fh.Open()
	if err != nil {
		abortInvalid(c, "unreadable upload")
		return
	}
	defer body.Close() // nolint: errcheck

	file, err := s.svc.Upload(requestContext(c), drive.UploadRequest{
		OwnerID:      currentUser(c),
		FolderID:     folderID,
		Filename:     fh.Filename,
		DeclaredSize: fh.Size,
		Body:         body,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "file uploaded",
		"file_id":  file.ID,
		"filename": file.Filename,
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	opened, err := s.svc.Download(requestContext(c), currentUser(c), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer opened.Close() // nolint: errcheck

	s.serveContent(c, opened, stream.Attachment)
}

// serveContent writes opened honoring the Range header.
func (s *Server) serveContent(c *gin.Context, opened *drive.OpenedFile, disposition stream.Disposition) {
	res, err := stream.Serve(c.Writer, c.GetHeader("Range"), stream.Content{
		Name:   opened.File.OriginalName,
		MIME:   opened.File.MimeType,
		Size:   opened.Size,
		Reader: opened.Reader,
	}, stream.Options{
		ChunkBytes:  s.svc.Settings().StreamChunkBytes,
		Disposition: disposition,
	})
	if err != nil {
		// headers are gone, the client sees a truncated body
		s.svc.LoggerFromContext(c).Warn("serve file content",
			zap.Uint64("file_id", opened.File.ID),
			zap.Int64("written", res.Written),
			zap.Error(err))
	}
}

func (s *Server) handleRename(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	name, err := s.svc.RenameFile(requestContext(c), currentUser(c), id, req.NewName)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "file renamed", "filename": name})
}

func (s *Server) handleUpdateFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid request body")
		return
	}

	file, err := s.svc.UpdateFileMeta(requestContext(c), currentUser(c), id, drive.FileMetaUpdate{
		IsFavorite:  req.IsFavorite,
		Tags:        req.Tags,
		Description: req.Description,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"file": file})
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.svc.DeleteFile(requestContext(c), currentUser(c), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

// streamCredentials collects every credential a stream request may carry.
func streamCredentials(c *gin.Context) drive.StreamCredentials {
	creds := drive.StreamCredentials{
		ShareToken:    c.Query("token"),
		Authenticated: c.Query("authenticated"),
		QueryJWT:      c.Query("jwt"),
	}
	if token, ok := bearerToken(c); ok {
		creds.BearerToken = token
	}
	return creds
}

func (s *Server) handleStream(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	opened, err := s.svc.Stream(requestContext(c), id, streamCredentials(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer opened.Close() // nolint: errcheck

	s.serveContent(c, opened, stream.Inline)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	data, err := s.svc.Thumbnail(requestContext(c), id, streamCredentials(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}
