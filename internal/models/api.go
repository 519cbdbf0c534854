package models

// RankedImage is one entry of a ranked result list on the wire.
type RankedImage struct {
	ImageName       string  `json:"image_name"`
	Category        string  `json:"category"`
	SimilarityScore float64 `json:"similarity_score"`
	ImagePath       string  `json:"image_path"`
}

// QueryDescriptors is the full descriptor bundle of a query image as it
// travels on the wire, both in the upload response and echoed back with a
// feedback submission.
type QueryDescriptors struct {
	Histogram        []float64   `json:"histogram,omitempty"`
	DominantColors   [][]float64 `json:"dominant_colors,omitempty"`
	GaborDescriptors []float64   `json:"gabor_descriptors,omitempty"`
	HuMoments        []float64   `json:"hu_moments,omitempty"`
	TextureEnergy    []float64   `json:"texture_energy,omitempty"`
	Circularity      []float64   `json:"circularity,omitempty"`
}

type SaveImageResponse struct {
	Message          string            `json:"message"`
	UploadedImageURL string            `json:"uploaded_image_url"`
	SimilarImages    []RankedImage     `json:"similar_images"`
	QueryDescriptors *QueryDescriptors `json:"query_descriptors,omitempty"`
}

type GetImagesResponse struct {
	Images []string `json:"images"`
}

type GetSimilarImagesResponse struct {
	SimilarImages []RankedImage `json:"similar_images"`
}

type FeedbackItem struct {
	ImageName string `json:"image_name" binding:"required"`
	Category  string `json:"category" binding:"required"`
	Feedback  string `json:"feedback" binding:"required"`
}

type SubmitFeedbackRequest struct {
	QueryDescriptors QueryDescriptors `json:"query_descriptors"`
	FeedbackItems    []FeedbackItem   `json:"feedback_items" binding:"required"`
}

type SubmitFeedbackResponse struct {
	Status        string             `json:"status"`
	Message       string             `json:"message,omitempty"`
	NewWeights    map[string]float64 `json:"new_weights,omitempty"`
	SimilarImages []RankedImage      `json:"similar_images"`
}

type DescriptorImageRequest struct {
	Image string `json:"image" binding:"required"`
}

type FeatureDescriptorRequest struct {
	Image          string `json:"image" binding:"required"`
	DescriptorType string `json:"descriptor_type" binding:"required"`
}

type HistogramData struct {
	Red   []float64 `json:"red"`
	Green []float64 `json:"green"`
	Blue  []float64 `json:"blue"`
}

type HistogramResponse struct {
	Histogram *HistogramData `json:"histogram"`
}

type DominantColorsResponse struct {
	DominantColors [][]int `json:"dominant_colors"`
}

type FeatureDescriptorsResponse struct {
	Kind        string    `json:"kind"`
	Descriptors []float64 `json:"descriptors"`
	ImageURL    string    `json:"image_url,omitempty"`
}

type GaborImageResponse struct {
	GaborImageURL string `json:"gabor_image_url"`
}

type HuMomentsImageResponse struct {
	HuMoments         []float64 `json:"hu_moments,omitempty"`
	HuMomentsImageURL string    `json:"humoments_image_url"`
}

type SignupRequest struct {
	FullName string `json:"fullName" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type GoogleAuthRequest struct {
	Token string `json:"token" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type AuthResponse struct {
	Message string   `json:"message"`
	User    AuthUser `json:"user"`
}

type AuthUser struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type GoogleAuthResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
