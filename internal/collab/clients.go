package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
	"github.com/rextempo/LiqPro-AI-sub007/internal/optimizer"
)

// httpClient is the shared JSON-over-HTTP transport for collaborator services.
type httpClient struct {
	baseURL string
	hc      *http.Client
	guard   *Guard
}

func newHTTPClient(baseURL string, guard *Guard) httpClient {
	return httpClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
		guard:   guard,
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("%s: create request: %w", c.guard.Name(), err)
		}
		return c.do(req, out)
	})
}

func (c *httpClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.guard.Name(), err)
	}
	return c.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: create request: %w", c.guard.Name(), err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, out)
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", c.guard.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.guard.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", c.guard.Name(), resp.StatusCode, truncate(string(respBody), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", c.guard.Name(), err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// --- Funds manager ---

// FundsClient talks to the external funds-manager service.
type FundsClient struct {
	httpClient
}

// NewFundsClient creates a FundsClient for the given base URL.
func NewFundsClient(baseURL string, guard *Guard) *FundsClient {
	return &FundsClient{newHTTPClient(baseURL, guard)}
}

func (c *FundsClient) GetFundsStatus(ctx context.Context, agentID uuid.UUID, wallet string) (*agent.FundsStatus, error) {
	var out agent.FundsStatus
	path := fmt.Sprintf("/funds/%s/status?wallet=%s", agentID, url.QueryEscape(wallet))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FundsClient) CheckTransactionLimit(ctx context.Context, agentID uuid.UUID, amountSol float64, txType string) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	in := map[string]any{"amount_sol": amountSol, "type": txType}
	if err := c.postJSON(ctx, fmt.Sprintf("/funds/%s/check-limit", agentID), in, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

func (c *FundsClient) UpdateFundsStatus(ctx context.Context, agentID uuid.UUID, funds agent.FundsStatus) error {
	return c.postJSON(ctx, fmt.Sprintf("/funds/%s/status", agentID), funds, nil)
}

func (c *FundsClient) CalculateReturns(ctx context.Context, agentID uuid.UUID) (float64, error) {
	var out struct {
		ReturnsSol float64 `json:"returns_sol"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/funds/%s/returns", agentID), &out); err != nil {
		return 0, err
	}
	return out.ReturnsSol, nil
}

func (c *FundsClient) RecordTransaction(ctx context.Context, agentID uuid.UUID, poolAddress string, amountSol float64, txType string) error {
	in := map[string]any{
		"pool_address": poolAddress,
		"amount_sol":   amountSol,
		"type":         txType,
	}
	return c.postJSON(ctx, fmt.Sprintf("/funds/%s/transactions", agentID), in, nil)
}

func (c *FundsClient) GetWalletBalance(ctx context.Context, wallet string) (float64, error) {
	var out struct {
		BalanceSol float64 `json:"balance_sol"`
	}
	if err := c.getJSON(ctx, "/wallets/"+url.PathEscape(wallet)+"/balance", &out); err != nil {
		return 0, err
	}
	return out.BalanceSol, nil
}

func (c *FundsClient) CheckFundsSafety(ctx context.Context, agentID uuid.UUID) (bool, error) {
	var out struct {
		Safe bool `json:"safe"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/funds/%s/safety", agentID), &out); err != nil {
		return false, err
	}
	return out.Safe, nil
}

// --- Risk controller ---

// RiskClient talks to the external risk-assessment service.
type RiskClient struct {
	httpClient
}

// NewRiskClient creates a RiskClient for the given base URL.
func NewRiskClient(baseURL string, guard *Guard) *RiskClient {
	return &RiskClient{newHTTPClient(baseURL, guard)}
}

func (c *RiskClient) AssessRisk(ctx context.Context, agentID uuid.UUID) (*agent.RiskAssessment, error) {
	var out agent.RiskAssessment
	if err := c.getJSON(ctx, fmt.Sprintf("/risk/%s/assessment", agentID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Scoring service ---

// ScoringClient talks to the external pool-scoring service. It implements
// optimizer.PoolRecommender.
type ScoringClient struct {
	httpClient
}

// NewScoringClient creates a ScoringClient for the given base URL.
func NewScoringClient(baseURL string, guard *Guard) *ScoringClient {
	return &ScoringClient{newHTTPClient(baseURL, guard)}
}

func (c *ScoringClient) GetPoolRecommendations(ctx context.Context, poolAddress string) (*optimizer.PoolRecommendation, error) {
	var out optimizer.PoolRecommendation
	if err := c.getJSON(ctx, "/pools/"+url.PathEscape(poolAddress)+"/recommendation", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ScoringClient) RecommendPools(ctx context.Context, poolTypes []string, limit int) ([]optimizer.PoolRecommendation, error) {
	var out []optimizer.PoolRecommendation
	in := map[string]any{"pool_types": poolTypes, "limit": limit}
	if err := c.postJSON(ctx, "/pools/recommend", in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Transaction executor ---

// ExecutionResult is the executor's verdict on a submitted plan.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ExecutorClient submits optimization plans to the external transaction
// pipeline. The pipeline is a black box returning {success, message}.
type ExecutorClient struct {
	httpClient
}

// NewExecutorClient creates an ExecutorClient for the given base URL.
func NewExecutorClient(baseURL string, guard *Guard) *ExecutorClient {
	return &ExecutorClient{newHTTPClient(baseURL, guard)}
}

func (c *ExecutorClient) Execute(ctx context.Context, plan *optimizer.Plan) (*ExecutionResult, error) {
	var out ExecutionResult
	if err := c.postJSON(ctx, "/execute", plan, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
