package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/smallbiznis/cloudunify/internal/ingest/domain"
)

type bulkRequest struct {
	Items json.RawMessage `json:"items"`
}

func (s *Server) IngestResources(c *gin.Context) {
	s.ingestBulk(c, ingestdomain.KindResources)
}

func (s *Server) IngestCosts(c *gin.Context) {
	s.ingestBulk(c, ingestdomain.KindCosts)
}

func (s *Server) IngestRecommendations(c *gin.Context) {
	s.ingestBulk(c, ingestdomain.KindRecommendations)
}

func (s *Server) ingestBulk(c *gin.Context, kind ingestdomain.Kind) {
	c.Set("ingest_kind", string(kind))

	items, err := decodeBulkItems(c.Request.Body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	dryRun, err := parseDryRun(c.Query("dry_run"))
	if err != nil {
		AbortWithError(c, newValidationError("dry_run", "invalid_dry_run", "dry_run must be true or false"))
		return
	}

	result, err := s.ingestSvc.Ingest(c.Request.Context(), ingestdomain.BulkRequest{
		Kind:   kind,
		Items:  items,
		DryRun: dryRun,
	})
	if err != nil {
		var rejected *ingestdomain.RejectedBatchError
		if errors.As(err, &rejected) {
			c.Set("batch_id", rejected.BatchID)
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, rejected.Result())
			return
		}
		var aborted *ingestdomain.AbortedBatchError
		if errors.As(err, &aborted) {
			c.Set("batch_id", aborted.BatchID)
		}
		AbortWithError(c, err)
		return
	}

	c.Set("batch_id", result.BatchID)
	c.JSON(http.StatusOK, result)
}

// decodeBulkItems reads {"items": [...]} keeping numbers as json.Number so large amounts
// reach the decimal parser intact.
func decodeBulkItems(body io.Reader) ([]map[string]any, error) {
	if body == nil {
		return nil, invalidRequestError()
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var req bulkRequest
	if err := dec.Decode(&req); err != nil {
		return nil, invalidRequestError()
	}

	raw := bytes.TrimSpace(req.Items)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, ingestdomain.ErrInvalidItems
	}

	itemsDec := json.NewDecoder(bytes.NewReader(raw))
	itemsDec.UseNumber()
	var elements []any
	if err := itemsDec.Decode(&elements); err != nil {
		return nil, ingestdomain.ErrInvalidItems
	}

	items := make([]map[string]any, 0, len(elements))
	for _, element := range elements {
		item, ok := element.(map[string]any)
		if !ok {
			return nil, ingestdomain.ErrInvalidItems
		}
		items = append(items, item)
	}
	return items, nil
}

func parseDryRun(value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(value)
}
