package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/policyledger/policyledger/internal/ledger"
	"github.com/policyledger/policyledger/internal/session"
)

// ContractHandler exposes a Session over HTTP for a UI running elsewhere.
type ContractHandler struct {
	session *session.Session
	logger  *zap.Logger
}

func NewContractHandler(s *session.Session, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{session: s, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *ContractHandler) Register(rg *gin.RouterGroup) {
	c := rg.Group("/contracts")
	{
		c.GET("", h.List)
		c.POST("", h.Append)
		c.GET("/:idx", h.Get)
	}
	rg.GET("/verify", h.Verify)
	rg.GET("/status", h.Status)
	rg.POST("/save", h.Save)
	rg.POST("/load", h.Load)
}

type fileRequest struct {
	Path string `json:"path"`
}

// List handles GET /contracts: the table with suspect rows marked.
func (h *ContractHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Table())
}

// Append handles POST /contracts.
func (h *ContractHandler) Append(c *gin.Context) {
	var fields ledger.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	record, err := h.session.Append(fields)
	if err != nil {
		var ve *ledger.ValidationError
		switch {
		case errors.As(err, &ve):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ve.Field})
		case ledger.IsDuplicatePolicyError(err):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("append contract", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append contract"})
		}
		return
	}

	c.JSON(http.StatusCreated, record)
}

// Get handles GET /contracts/:idx: one record and its integrity finding.
func (h *ContractHandler) Get(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	record, err := h.session.Get(idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contract not found"})
		return
	}
	finding, _ := h.session.Inspect(idx)

	c.JSON(http.StatusOK, gin.H{
		"record":  record,
		"finding": finding,
	})
}

// Verify handles GET /verify. A broken chain is still a 200.
func (h *ContractHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Validate())
}

func (h *ContractHandler) Status(c *gin.Context) {
	st := h.session.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":      st,
		"status_line": st.StatusLine(),
	})
}

// Save handles POST /save. An empty body saves to the current file.
func (h *ContractHandler) Save(c *gin.Context) {
	var req fileRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := h.session.Save(req.Path); err != nil {
		if ledger.IsIOError(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved": h.session.Path()})
}

func (h *ContractHandler) Load(c *gin.Context) {
	var req fileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	if err := h.session.Load(req.Path); err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case ledger.IsCorruptFileError(err):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"loaded":  req.Path,
		"records": len(h.session.Records()) - 1,
	})
}
