package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/contaluz/internal/models"
)

// wireResponse mirrors models.SearchResponse with records left undecoded, since Record is an
// interface and needs the "tipo" tag to pick its concrete type.
type wireResponse struct {
	models.SearchResponse
	Hits []struct {
		Record     json.RawMessage  `json:"record"`
		Similarity float64          `json:"similarity"`
		Distance   float32          `json:"distance"`
		Slot       int              `json:"slot"`
		Rank       int              `json:"rank"`
		Source     models.HitSource `json:"source"`
	} `json:"hits"`
}

func decodeSearchResponse(r io.Reader) (*models.SearchResponse, error) {
	var wire wireResponse
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	response := wire.SearchResponse
	response.Hits = make([]*models.SearchHit, 0, len(wire.Hits))
	for _, h := range wire.Hits {
		rec, err := models.DecodeRecord(h.Record)
		if err != nil {
			return nil, err
		}
		response.Hits = append(response.Hits, &models.SearchHit{
			Record:     rec,
			Similarity: h.Similarity,
			Distance:   h.Distance,
			Slot:       h.Slot,
			Rank:       h.Rank,
			Source:     h.Source,
		})
	}
	return &response, nil
}

func searchViaHTTP(ctx context.Context, serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return decodeSearchResponse(resp.Body)
}
