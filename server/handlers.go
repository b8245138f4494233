package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/psd"
	"github.com/pithecene-io/psdweb/session"
	"github.com/pithecene-io/psdweb/types"
)

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": types.Version,
	})
}

func (s *Server) initUpload(c *fiber.Ctx) error {
	var req types.InitUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.InitUploadResponse{
			Error:   api.CodeInvalidRequest,
			Message: err.Error(),
		})
	}

	sess, err := s.store.Create(c.UserContext(), req.FileName, req.ExpectedSize)
	if err != nil {
		status, code := sessionFailure(err)
		return c.Status(status).JSON(types.InitUploadResponse{Error: code, Message: err.Error()})
	}

	s.logger.Info("upload session opened", map[string]any{
		"upload_id": sess.ID,
		"file_name": sess.FileName,
	})
	return c.JSON(types.InitUploadResponse{UploadID: sess.ID})
}

func (s *Server) appendChunk(c *fiber.Ctx) error {
	var req types.AppendChunkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}
	if req.UploadID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, "uploadId is required"))
	}
	data, err := base64.StdEncoding.DecodeString(req.ChunkBase64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidChunk, "chunkBase64 is not valid base64"))
	}

	sess, err := s.store.Append(c.UserContext(), req.UploadID, req.Index, data)
	if err != nil {
		status, code := sessionFailure(err)
		return c.Status(status).JSON(failure(code, err.Error()))
	}

	return c.JSON(types.AppendChunkResponse{
		Success:   true,
		TotalSize: sess.TotalSize,
		Progress:  sess.Progress(),
	})
}

func (s *Server) completeUpload(c *fiber.Ctx) error {
	var req types.CompleteUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}

	ctx := c.UserContext()
	sess, data, err := s.store.Complete(ctx, req.UploadID)
	if err != nil {
		status, code := sessionFailure(err)
		return c.Status(status).JSON(failure(code, err.Error()))
	}
	// The reassembled bytes are handed off; the session has no further use.
	if err := s.store.Delete(ctx, req.UploadID); err != nil {
		s.logger.Warn("session cleanup failed", map[string]any{
			"upload_id": req.UploadID,
			"error":     err.Error(),
		})
	}

	doc, err := documentFromHeader(sess.FileName, data)
	if err != nil {
		s.logger.Warn("upload rejected", map[string]any{
			"upload_id": sess.ID,
			"error":     err.Error(),
		})
		return s.rejectDocument(c, err)
	}

	s.logger.Info("upload completed", map[string]any{
		"upload_id": sess.ID,
		"chunks":    len(sess.Chunks),
		"bytes":     sess.TotalSize,
	})
	return c.JSON(fiber.Map{
		"success": true,
		"data":    doc,
		"metrics": types.UploadMetrics{
			Chunks:     len(sess.Chunks),
			Bytes:      sess.TotalSize,
			DurationMs: time.Since(sess.CreatedAt).Milliseconds(),
		},
	})
}

func (s *Server) parse(c *fiber.Ctx) error {
	var req types.ParseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}

	var (
		data     []byte
		fileName string
		err      error
	)
	switch {
	case req.FileData != "":
		_, data, err = api.DecodeDataURL(req.FileData)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
		}
	case req.FilePath != "":
		if !s.cfg.AllowFilePaths {
			return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, "filePath is not accepted by this server"))
		}
		data, err = os.ReadFile(req.FilePath)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, fmt.Sprintf("read file: %v", err)))
		}
		fileName = filepath.Base(req.FilePath)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, "filePath or fileData is required"))
	}

	doc, err := documentFromHeader(fileName, data)
	if err != nil {
		return s.rejectDocument(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": doc})
}

func (s *Server) convert(c *fiber.Ctx) error {
	var req types.ConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}
	framework := types.FrameworkHTML
	if req.Framework != "" {
		f, err := types.ParseFramework(string(req.Framework))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
		}
		framework = f
	}
	doc, err := decodeDocument(req.PSDData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, fmt.Sprintf("psdData: %v", err)))
	}

	res, err := s.engine.Convert(c.UserContext(), doc, types.ConvertOptions{
		Framework:     framework,
		Responsive:    req.Responsive,
		Semantic:      req.Semantic,
		Accessibility: req.Accessibility,
	})
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(failure(api.CodeConversionFailed, err.Error()))
	}
	return c.JSON(types.ConvertResponse{
		Success:    true,
		HTML:       res.HTML,
		CSS:        res.CSS,
		Components: res.Components,
		Metadata:   &res.Metadata,
	})
}

func (s *Server) validate(c *fiber.Ctx) error {
	var req types.ValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}
	doc, err := decodeDocument(req.PSDData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, fmt.Sprintf("psdData: %v", err)))
	}
	opts := types.ValidateOptions{Threshold: req.Threshold, IncludeDiffImage: req.IncludeDiffImage}
	if err := opts.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
	}

	report, err := s.engine.Validate(c.UserContext(), doc, req.HTMLContent, req.CSSContent, opts)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(failure(api.CodeValidationFailed, err.Error()))
	}
	return c.JSON(types.ValidateResponse{Success: true, ValidationReport: *report})
}

// documentFromHeader checks the signature and reports the fixed header as
// document metadata. Layer records are not decoded.
func documentFromHeader(fileName string, data []byte) (*types.ParsedDocument, error) {
	h, err := psd.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	return &types.ParsedDocument{
		FileName: fileName,
		Width:    h.Width,
		Height:   h.Height,
		Layers:   []types.Layer{},
		Metadata: h.Metadata(),
	}, nil
}

func (s *Server) rejectDocument(c *fiber.Ctx, err error) error {
	var sigErr *psd.SignatureError
	if errors.As(err, &sigErr) {
		return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidSignature,
			fmt.Sprintf("file is %s, not a PSD", sigErr.Detected)))
	}
	return c.Status(fiber.StatusBadRequest).JSON(failure(api.CodeInvalidRequest, err.Error()))
}

// sessionFailure maps store errors to an HTTP status and backend code.
func sessionFailure(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound, api.CodeSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return fiber.StatusGone, api.CodeSessionExpired
	case errors.Is(err, session.ErrOutOfOrder):
		return fiber.StatusConflict, api.CodeChunkOutOfOrder
	case errors.Is(err, session.ErrSizeMismatch):
		return fiber.StatusConflict, api.CodeSizeMismatch
	case errors.Is(err, session.ErrAlreadyComplete):
		return fiber.StatusConflict, api.CodeAlreadyComplete
	case errors.Is(err, session.ErrEmptyChunk):
		return fiber.StatusBadRequest, api.CodeInvalidChunk
	case errors.Is(err, session.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge, api.CodePayloadTooLarge
	case errors.Is(err, session.ErrInvalid):
		return fiber.StatusBadRequest, api.CodeInvalidRequest
	default:
		return fiber.StatusInternalServerError, api.CodeInternal
	}
}
