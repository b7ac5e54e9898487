// harvest-mcp is a stdio MCP server exposing the harvest HTTP API as tools,
// so LLM agents can scrape pages and run batches without speaking HTTP
// themselves.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors the harvest API request model.
type scrapeRequest struct {
	URL      string `json:"url"`
	Mode     string `json:"mode,omitempty"`
	RawBody  bool   `json:"rawBody,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// scrapeResponse mirrors the harvest API response model.
type scrapeResponse struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Body        string `json:"body"`
	Meta        struct {
		Lang        string `json:"lang"`
		ReadTimeMin int    `json:"readTimeMin"`
	} `json:"meta"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// batchAccepted mirrors the harvest batch creation response.
type batchAccepted struct {
	JobID string `json:"jobId"`
}

// batchStatus mirrors the harvest batch status projection.
type batchStatus struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

func main() {
	apiURL := os.Getenv("HARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	s := server.NewMCPServer(
		"harvest",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	scrapePageTool := mcp.NewTool("scrape_page",
		mcp.WithDescription("Scrape a web page and return its article content as Markdown. Browser mode renders JavaScript-heavy pages with a headless browser."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("mode",
			mcp.Description("Fetching strategy: 'static' (plain HTTP, default) or 'browser' (headless rendering)"),
			mcp.Enum("static", "browser"),
		),
		mcp.WithString("selector",
			mcp.Description("Optional CSS selector; only the matched elements are extracted"),
		),
	)
	s.AddTool(scrapePageTool, handleScrapePage(apiURL))

	startBatchTool := mcp.NewTool("start_batch",
		mcp.WithDescription("Start an asynchronous batch scrape of multiple URLs, paced with delays between items, and wait for it to finish."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to scrape"),
		),
		mcp.WithString("mode",
			mcp.Description("Fetching strategy for all items: 'static' (default) or 'browser'"),
			mcp.Enum("static", "browser"),
		),
	)
	s.AddTool(startBatchTool, handleStartBatch(apiURL))

	batchStatusTool := mcp.NewTool("get_batch_status",
		mcp.WithDescription("Look up the status and counters of a previously started batch job."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job id returned by start_batch"),
		),
	)
	s.AddTool(batchStatusTool, handleGetBatchStatus(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the harvest API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// apiGet sends a GET request to the harvest API and returns the response body.
func apiGet(ctx context.Context, client *http.Client, apiURL, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls the batch endpoint until the job leaves the
// queued/running states or the context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, jobID string) (*batchStatus, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiGet(ctx, client, apiURL, "/api/v1/batch/"+jobID)
			if err != nil {
				return nil, err
			}

			var status batchStatus
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if status.Status != "queued" && status.Status != "running" {
				return &status, nil
			}
		}
	}
}

func handleScrapePage(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := scrapeRequest{
			URL:      url,
			Mode:     request.GetString("mode", ""),
			Selector: request.GetString("selector", ""),
		}

		respBody, err := apiPost(ctx, client, apiURL, "/api/v1/page", reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape request failed: %v", err)), nil
		}

		var resp scrapeResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if resp.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%d] %s", resp.Error.Code, resp.Error.Message)), nil
		}

		var sb strings.Builder
		if resp.Title != "" {
			sb.WriteString(fmt.Sprintf("Title: %s\n", resp.Title))
		}
		sb.WriteString(fmt.Sprintf("Source: %s\n\n", resp.URL))
		sb.WriteString(resp.Body)
		if resp.Meta.ReadTimeMin > 0 {
			sb.WriteString(fmt.Sprintf("\n\n---\nEstimated read time: %d min", resp.Meta.ReadTimeMin))
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleStartBatch(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		items := make([]map[string]string, 0, len(urls))
		for _, u := range urls {
			items = append(items, map[string]string{"url": u})
		}
		payload := map[string]interface{}{"items": items}
		if mode := request.GetString("mode", ""); mode != "" {
			payload["commonSettings"] = map[string]string{"mode": mode}
		}

		respBody, err := apiPost(ctx, client, apiURL, "/api/v1/batch", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var acc batchAccepted
		if err := json.Unmarshal(respBody, &acc); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if acc.JobID == "" {
			return mcp.NewToolResultError("batch job creation failed"), nil
		}

		status, err := pollJobCompletion(ctx, client, apiURL, acc.JobID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Batch %s: %s (%d/%d processed, %d succeeded, %d failed)",
			status.JobID, status.Status, status.Processed, status.Total,
			status.Succeeded, status.Failed)), nil
	}
}

func handleGetBatchStatus(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := request.RequireString("job_id")
		if err != nil {
			return mcp.NewToolResultError("job_id is required"), nil
		}

		body, err := apiGet(ctx, client, apiURL, "/api/v1/batch/"+jobID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}

		var status batchStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse status: %v", err)), nil
		}
		if status.JobID == "" {
			return mcp.NewToolResultError("batch job not found"), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Batch %s: %s (%d/%d processed, %d succeeded, %d failed)",
			status.JobID, status.Status, status.Processed, status.Total,
			status.Succeeded, status.Failed)), nil
	}
}
