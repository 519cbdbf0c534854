package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Client talks to a retrieval backend over plain HTTP. It performs no retries
// and enforces no timeout of its own beyond the transport default: a hung
// backend simply leaves the caller pending.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// BaseURL returns the backend origin the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// SaveImage uploads a single query image as multipart field "file" and
// returns the ranked matches. No client-side format or size validation is
// performed; the backend is authoritative.
func (c *Client) SaveImage(ctx context.Context, filename string, r io.Reader) (*SaveImageResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save-image", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.WithFields(logrus.Fields{
		"filename": filename,
		"url":      req.URL.String(),
	}).Debug("Uploading query image")

	var response SaveImageResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}
	if response.SimilarImages == nil {
		return nil, fmt.Errorf("upload response missing similar_images")
	}
	return &response, nil
}

// GetImages lists the filenames currently held in the backend's upload store.
func (c *Client) GetImages(ctx context.Context) (*GetImagesResponse, error) {
	var response GetImagesResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/get-images", nil, &response); err != nil {
		return nil, err
	}
	if response.Images == nil {
		return nil, fmt.Errorf("response missing images")
	}
	return &response, nil
}

// GetSimilarImages fetches the current ranked list without a fresh upload.
func (c *Client) GetSimilarImages(ctx context.Context) (*GetSimilarImagesResponse, error) {
	var response GetSimilarImagesResponse
	if err := c.makeRequest(ctx, http.MethodGet, "/get-similar-images", nil, &response); err != nil {
		return nil, err
	}
	if response.SimilarImages == nil {
		return nil, fmt.Errorf("response missing similar_images")
	}
	return &response, nil
}

// SubmitFeedback sends the query descriptors plus the filtered feedback items
// and returns the re-ranked list. A status:"error" body counts as a failure
// even on HTTP 200.
func (c *Client) SubmitFeedback(ctx context.Context, submission FeedbackSubmission) (*FeedbackResponse, error) {
	var response FeedbackResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/submit_feedback", submission, &response); err != nil {
		return nil, err
	}
	if response.Status != "success" {
		return nil, fmt.Errorf("feedback rejected: %s", response.Message)
	}
	return &response, nil
}

// CalculateHistogram fetches per-channel histograms for the given image ref.
func (c *Client) CalculateHistogram(ctx context.Context, image string) (*HistogramResponse, error) {
	var response HistogramResponse
	err := c.makeRequest(ctx, http.MethodPost, "/calculate-histogram", descriptorImageRequest{Image: image}, &response)
	if err != nil {
		return nil, err
	}
	if response.Histogram == nil {
		return nil, fmt.Errorf("response missing histogram")
	}
	return &response, nil
}

// CalculateDominantColors fetches the dominant RGB triples for the image.
func (c *Client) CalculateDominantColors(ctx context.Context, image string) (*DominantColorsResponse, error) {
	var response DominantColorsResponse
	err := c.makeRequest(ctx, http.MethodPost, "/calculate-dominant-colors", descriptorImageRequest{Image: image}, &response)
	if err != nil {
		return nil, err
	}
	if response.DominantColors == nil {
		return nil, fmt.Errorf("response missing dominant_colors")
	}
	return &response, nil
}

// CalculateFeatureDescriptors fetches a raw descriptor vector. Only the gabor
// and hu_moments kinds map to this endpoint; on the wire the gabor kind is
// spelled "gabor".
func (c *Client) CalculateFeatureDescriptors(ctx context.Context, image string, kind DescriptorKind) (*FeatureDescriptorsResponse, error) {
	var descriptorType string
	switch kind {
	case KindGaborDescriptors:
		descriptorType = "gabor"
	case KindHuMoments:
		descriptorType = "hu_moments"
	default:
		return nil, fmt.Errorf("descriptor kind %q has no feature-descriptors endpoint", kind)
	}
	var response FeatureDescriptorsResponse
	err := c.makeRequest(ctx, http.MethodPost, "/calculate-feature-descriptors",
		featureDescriptorRequest{Image: image, DescriptorType: descriptorType}, &response)
	if err != nil {
		return nil, err
	}
	if response.Descriptors == nil {
		return nil, fmt.Errorf("response missing descriptors")
	}
	return &response, nil
}

// CalculateGabor asks the backend to render the Gabor-filtered image.
func (c *Client) CalculateGabor(ctx context.Context, image string) (*GaborImageResponse, error) {
	var response GaborImageResponse
	err := c.makeRequest(ctx, http.MethodPost, "/calculate-gabor", descriptorImageRequest{Image: image}, &response)
	if err != nil {
		return nil, err
	}
	if response.GaborImageURL == "" {
		return nil, fmt.Errorf("response missing gabor_image_url")
	}
	return &response, nil
}

// CalculateHuMoments asks the backend to render the Hu-moments visualization.
func (c *Client) CalculateHuMoments(ctx context.Context, image string) (*HuMomentsImageResponse, error) {
	var response HuMomentsImageResponse
	err := c.makeRequest(ctx, http.MethodPost, "/calculate-hu-moments", descriptorImageRequest{Image: image}, &response)
	if err != nil {
		return nil, err
	}
	if response.HuMomentsImageURL == "" {
		return nil, fmt.Errorf("response missing humoments_image_url")
	}
	return &response, nil
}

// GoogleAuth exchanges an identity-provider credential for a user record.
func (c *Client) GoogleAuth(ctx context.Context, token string) (*GoogleAuthResponse, error) {
	var response GoogleAuthResponse
	err := c.makeRequest(ctx, http.MethodPost, "/api/auth/google", GoogleAuthRequest{Token: token}, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var response LoginResponse
	err := c.makeRequest(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &response)
	if err != nil {
		return nil, err
	}
	if response.User.Email == "" {
		return nil, fmt.Errorf("login response missing user")
	}
	return &response, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.makeRequest(ctx, http.MethodPost, "/api/auth/signup", req, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.makeRequest(ctx, http.MethodPost, "/api/auth/forgot-password", ForgotPasswordRequest{Email: email}, nil)
}

// StaticImageURL resolves a ranked result to its dataset asset URL.
func (c *Client) StaticImageURL(category, imageName string) string {
	return fmt.Sprintf("%s/static/dataset/%s/%s", c.baseURL, url.PathEscape(category), url.PathEscape(imageName))
}

// ProcessedImageURL resolves an uploaded query image to its stored URL.
func (c *Client) ProcessedImageURL(name string) string {
	return fmt.Sprintf("%s/processed/%s", c.baseURL, url.PathEscape(name))
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) error {
	reqURL := c.baseURL + endpoint

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	c.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	}).Debug("Making retrieval API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"method":        req.Method,
		"url":           req.URL.String(),
		"response_size": len(responseBody),
	}).Debug("Retrieval API response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	if result != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
