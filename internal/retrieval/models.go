package retrieval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Feedback is the relevance label a user assigns to one ranked result.
type Feedback string

const (
	FeedbackNeutral    Feedback = "neutral"
	FeedbackRelevant   Feedback = "relevant"
	FeedbackIrrelevant Feedback = "irrelevant"
)

// Valid reports whether f is one of the three accepted labels.
func (f Feedback) Valid() bool {
	switch f {
	case FeedbackNeutral, FeedbackRelevant, FeedbackIrrelevant:
		return true
	}
	return false
}

// Score is an opaque ordering key assigned by the backend. Backends are
// inconsistent about serializing it (raw JSON number vs. numeric string,
// depending on how their float type marshals), so unmarshaling accepts both
// and always coerces to float64.
type Score float64

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("invalid similarity score: %w", err)
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("invalid similarity score %q: %w", str, err)
		}
		*s = Score(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid similarity score: %w", err)
	}
	*s = Score(v)
	return nil
}

// String renders the score the way result cards display it.
func (s Score) String() string {
	return strconv.FormatFloat(float64(s), 'f', 4, 64)
}

// SimilarityResult is one ranked match returned by the backend. ImageName and
// Category together address a unique asset on the backend's image store.
type SimilarityResult struct {
	ImageName       string   `json:"image_name"`
	Category        string   `json:"category"`
	SimilarityScore Score    `json:"similarity_score"`
	ImagePath       string   `json:"image_path,omitempty"`
	Feedback        Feedback `json:"feedback,omitempty"`
}

// FeedbackItem is the serializable projection of a result's feedback used as
// the submission payload.
type FeedbackItem struct {
	ImageName string   `json:"image_name"`
	Category  string   `json:"category"`
	Feedback  Feedback `json:"feedback"`
}

// Complete reports whether the item passes the completeness check required for
// submission: non-empty image name, category and feedback.
func (i FeedbackItem) Complete() bool {
	return i.ImageName != "" && i.Category != "" && i.Feedback != ""
}

// Histogram holds 256-bin per-channel pixel counts for the query image.
type Histogram struct {
	Red   []float64 `json:"red"`
	Green []float64 `json:"green"`
	Blue  []float64 `json:"blue"`
}

// DescriptorSet is the full feature bundle the backend computes for a query
// image. The client never interprets the vectors, it only forwards and
// displays them.
type DescriptorSet struct {
	Histogram        []float64   `json:"histogram,omitempty"`
	DominantColors   [][]float64 `json:"dominant_colors,omitempty"`
	GaborDescriptors []float64   `json:"gabor_descriptors,omitempty"`
	HuMoments        []float64   `json:"hu_moments,omitempty"`
	TextureEnergy    []float64   `json:"texture_energy,omitempty"`
	Circularity      []float64   `json:"circularity,omitempty"`
}

// Empty reports whether no descriptor kind carries any data.
func (d DescriptorSet) Empty() bool {
	return len(d.Histogram) == 0 && len(d.DominantColors) == 0 &&
		len(d.GaborDescriptors) == 0 && len(d.HuMoments) == 0 &&
		len(d.TextureEnergy) == 0 && len(d.Circularity) == 0
}

// DescriptorKind names one of the visualization tabs and its backend endpoint.
type DescriptorKind string

const (
	KindHistogram        DescriptorKind = "histogram"
	KindDominantColors   DescriptorKind = "dominant_colors"
	KindGaborDescriptors DescriptorKind = "gabor_descriptors"
	KindHuMoments        DescriptorKind = "hu_moments"
)

// DescriptorKinds lists the tabs in display order.
var DescriptorKinds = []DescriptorKind{
	KindHistogram, KindDominantColors, KindGaborDescriptors, KindHuMoments,
}

// DescriptorSnapshot is the per-tab visualization payload. Exactly one of the
// fields is populated depending on the kind.
type DescriptorSnapshot struct {
	Kind           DescriptorKind `json:"kind"`
	Histogram      *Histogram     `json:"histogram,omitempty"`
	DominantColors [][]int        `json:"dominant_colors,omitempty"`
	Descriptors    []float64      `json:"descriptors,omitempty"`
	ImageURL       string         `json:"image_url,omitempty"`
}

// Request / response shapes, one per endpoint.

type SaveImageResponse struct {
	Message          string             `json:"message"`
	UploadedImageURL string             `json:"uploaded_image_url"`
	SimilarImages    []SimilarityResult `json:"similar_images"`
	QueryDescriptors *DescriptorSet     `json:"query_descriptors,omitempty"`
}

type GetImagesResponse struct {
	Images []string `json:"images"`
}

type GetSimilarImagesResponse struct {
	SimilarImages []SimilarityResult `json:"similar_images"`
}

// FeedbackSubmission carries the query image's full descriptor set plus the
// filtered feedback items.
type FeedbackSubmission struct {
	QueryDescriptors DescriptorSet  `json:"query_descriptors"`
	FeedbackItems    []FeedbackItem `json:"feedback_items"`
}

type FeedbackResponse struct {
	Status        string             `json:"status"`
	Message       string             `json:"message,omitempty"`
	NewWeights    map[string]float64 `json:"new_weights,omitempty"`
	SimilarImages []SimilarityResult `json:"similar_images,omitempty"`
}

type descriptorImageRequest struct {
	Image string `json:"image"`
}

type featureDescriptorRequest struct {
	Image          string `json:"image"`
	DescriptorType string `json:"descriptor_type"`
}

type HistogramResponse struct {
	Histogram *Histogram `json:"histogram"`
	ImageURL  string     `json:"image_url,omitempty"`
}

type DominantColorsResponse struct {
	DominantColors [][]int `json:"dominant_colors"`
}

type FeatureDescriptorsResponse struct {
	Descriptors []float64 `json:"descriptors"`
}

type GaborImageResponse struct {
	GaborImageURL string `json:"gabor_image_url"`
}

type HuMomentsImageResponse struct {
	HuMoments         []float64 `json:"hu_moments,omitempty"`
	HuMomentsImageURL string    `json:"humoments_image_url"`
}

// Auth shapes. Identity itself is an opaque collaborator; the client only
// ferries these payloads.

type User struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type GoogleAuthRequest struct {
	Token string `json:"token"`
}

type GoogleAuthResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

type SignupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}
