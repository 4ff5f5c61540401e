package safety

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// AzureOptions configures an AzureClassifier.
type AzureOptions struct {
	APIVersion         string
	BlocklistNames     []string
	HaltOnBlocklistHit bool
	HTTPClient         *http.Client
}

// AzureClassifier calls the Azure AI Content Safety text and image analysis
// endpoints with eight-level severities.
type AzureClassifier struct {
	endpoint string
	apiKey   string
	opts     AzureOptions
}

// NewAzureClassifier creates a classifier for the given resource endpoint.
func NewAzureClassifier(endpoint, apiKey string, optFns ...func(o *AzureOptions)) (*AzureClassifier, error) {
	if endpoint == "" || apiKey == "" {
		return nil, errors.New("azure content safety: endpoint and api key are required")
	}
	opts := AzureOptions{
		APIVersion: "2023-10-01",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &AzureClassifier{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, opts: opts}, nil
}

type azureTextRequest struct {
	Text               string   `json:"text"`
	BlocklistNames     []string `json:"blocklistNames,omitempty"`
	HaltOnBlocklistHit bool     `json:"haltOnBlocklistHit,omitempty"`
	OutputType         string   `json:"outputType"`
}

type azureImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
}

type azureResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
	BlocklistsMatch []struct {
		BlocklistName     string `json:"blocklistName"`
		BlocklistItemID   string `json:"blocklistItemId"`
		BlocklistItemText string `json:"blocklistItemText"`
	} `json:"blocklistsMatch"`
}

type azureErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClassifyText implements core.Classifier.
func (a *AzureClassifier) ClassifyText(ctx context.Context, text string) (core.SafetyVerdict, error) {
	body := azureTextRequest{
		Text:               text,
		BlocklistNames:     a.opts.BlocklistNames,
		HaltOnBlocklistHit: a.opts.HaltOnBlocklistHit,
		OutputType:         "EightSeverityLevels",
	}
	v, err := a.analyze(ctx, "text:analyze", body)
	v.MediaType = "text"
	return v, err
}

// ClassifyImage implements core.Classifier.
func (a *AzureClassifier) ClassifyImage(ctx context.Context, img core.Image) (core.SafetyVerdict, error) {
	var body azureImageRequest
	body.Image.Content = base64.StdEncoding.EncodeToString(img.Data)
	v, err := a.analyze(ctx, "image:analyze", body)
	v.MediaType = "image"
	return v, err
}

func (a *AzureClassifier) analyze(ctx context.Context, op string, payload any) (core.SafetyVerdict, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/contentsafety/%s?api-version=%s", a.endpoint, op, a.opts.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.apiKey)

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb azureErrorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			return core.SafetyVerdict{}, fmt.Errorf("azure content safety: status %d: %s: %s", resp.StatusCode, eb.Error.Code, eb.Error.Message)
		}
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: status %d", resp.StatusCode)
	}

	var out azureResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return core.SafetyVerdict{}, fmt.Errorf("azure content safety: decode response: %w", err)
	}

	v := core.SafetyVerdict{Status: core.VerdictChecked, Severities: map[core.Category]int{}}
	for _, ca := range out.CategoriesAnalysis {
		cat, ok := core.ParseCategory(ca.Category)
		if !ok {
			continue
		}
		v.Severities[cat] = ClampSeverity(ca.Severity)
	}
	for _, m := range out.BlocklistsMatch {
		v.BlocklistMatches = append(v.BlocklistMatches, fmt.Sprintf("%s:%s", m.BlocklistName, m.BlocklistItemText))
	}
	return v, nil
}
