package httpapi

import (
	"mime"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/manavgup/rag-modulo-sub005/internal/collection"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

func (s *Server) handleCreateCollection(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createCollectionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewError(core.CodeInvalidInput, "invalid request body"))
	}

	col, err := s.svcs.Collections.Create(c.Request().Context(), collection.CreateRequest{
		OwnerID: uid,
		Name:    req.Name,
		Privacy: metastore.Privacy(req.Privacy),
		Policy: metastore.ChunkPolicy{
			ChunkSize:      req.ChunkSize,
			Overlap:        req.Overlap,
			EmbeddingModel: req.EmbeddingModel,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewCollection(col))
}

func (s *Server) handleListCollections(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	cols, err := s.svcs.Collections.List(c.Request().Context(), metastore.ListCollectionsOptions{
		RequesterID: uid,
		NameFilter:  c.QueryParam("name"),
		SortByName:  c.QueryParam("sort") == "name",
	})
	if err != nil {
		return writeError(c, err)
	}
	out := make([]collectionView, 0, len(cols))
	for _, col := range cols {
		out = append(out, viewCollection(col))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetCollection(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	col, err := s.svcs.Collections.Get(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewCollection(col))
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.svcs.Collections.Delete(c.Request().Context(), uid, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleUploadDocument accepts one multipart file per request. Only the
// collection owner may add documents.
func (s *Server) handleUploadDocument(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	ctx := c.Request().Context()

	col, err := s.svcs.Collections.Get(ctx, uid, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if col.OwnerID != uid {
		return writeError(c, core.NewError(core.CodeForbidden, "only the owner can add documents"))
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return writeError(c, core.NewError(core.CodeInvalidInput, "multipart 'file' field is required"))
	}
	src, err := fh.Open()
	if err != nil {
		return writeError(c, core.WrapError(core.CodeInvalidInput, "reading upload", err))
	}
	defer src.Close()

	mimeType := fh.Header.Get(echo.HeaderContentType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
			mimeType = byExt
		}
	}
	// Parser routing keys on the bare media type, not its parameters.
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	res, err := s.svcs.Ingestion.Upload(ctx, col.ID, fh.Filename, mimeType, src)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, uploadResponse{
		DocumentID:   res.Document.ID,
		Filename:     res.Document.Filename,
		Size:         res.Document.Size,
		Status:       string(res.Document.Status),
		Deduplicated: res.Deduplicated,
		JobID:        res.JobID,
	})
}
