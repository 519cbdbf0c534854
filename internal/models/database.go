package models

// GORM models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// FloatArray stores a numeric vector as a JSON column.
type FloatArray []float64

func (f FloatArray) Value() (driver.Value, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]float64(f))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (f *FloatArray) Scan(value interface{}) error {
	if value == nil {
		*f = FloatArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), (*[]float64)(f))
	case []byte:
		return json.Unmarshal(v, (*[]float64)(f))
	default:
		return fmt.Errorf("cannot scan %T into FloatArray", value)
	}
}

// FloatMatrix stores a list of numeric vectors as a JSON column.
type FloatMatrix [][]float64

func (m FloatMatrix) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([][]float64(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *FloatMatrix) Scan(value interface{}) error {
	if value == nil {
		*m = FloatMatrix{}
		return nil
	}

	switch v := value.(type) {
	case string:
		return json.Unmarshal([]byte(v), (*[][]float64)(m))
	case []byte:
		return json.Unmarshal(v, (*[][]float64)(m))
	default:
		return fmt.Errorf("cannot scan %T into FloatMatrix", value)
	}
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents a registered account.
type User struct {
	BaseModel
	FullName     string `json:"fullName" gorm:"not null"`
	Email        string `json:"email" gorm:"unique;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	Provider     string `json:"provider" gorm:"default:'local';check:provider IN ('local','google')"`
}

// ImageDescriptor holds the precomputed descriptors of one dataset image.
type ImageDescriptor struct {
	BaseModel
	Category         string      `json:"category" gorm:"not null;index:idx_category_name,unique"`
	ImageName        string      `json:"image_name" gorm:"not null;index:idx_category_name,unique"`
	Histogram        FloatArray  `json:"histogram" gorm:"type:jsonb"`
	DominantColors   FloatMatrix `json:"dominant_colors" gorm:"type:jsonb"`
	GaborDescriptors FloatArray  `json:"gabor_descriptors" gorm:"type:jsonb"`
	HuMoments        FloatArray  `json:"hu_moments" gorm:"type:jsonb"`
	TextureEnergy    FloatArray  `json:"texture_energy" gorm:"type:jsonb"`
	Circularity      FloatArray  `json:"circularity" gorm:"type:jsonb"`
}

// FeedbackEvent records one relevance-feedback submission.
type FeedbackEvent struct {
	BaseModel
	UserSession   string      `json:"user_session"`
	ImageName     string      `json:"image_name" gorm:"not null"`
	Category      string      `json:"category"`
	Feedback      string      `json:"feedback" gorm:"not null;check:feedback IN ('relevant','irrelevant','neutral')"`
	WeightsBefore FloatArray `json:"weights_before" gorm:"type:jsonb"`
	WeightsAfter  FloatArray `json:"weights_after" gorm:"type:jsonb"`
	AppliedAt     time.Time  `json:"applied_at" gorm:"default:NOW()"`
}

// SystemHealth represents service health monitoring
type SystemHealth struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ServiceName    string    `json:"service_name" gorm:"not null"`
	Status         string    `json:"status" gorm:"not null;check:status IN ('healthy','degraded','unhealthy')"`
	ResponseTimeMs int       `json:"response_time_ms"`
	ErrorMessage   string    `json:"error_message"`
	CheckedAt      time.Time `json:"checked_at" gorm:"default:NOW()"`
}

// Database interfaces for repository pattern
type UserRepository interface {
	Create(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(id uint) (*User, error)
}

type DescriptorRepository interface {
	Upsert(desc *ImageDescriptor) error
	GetByName(category, imageName string) (*ImageDescriptor, error)
	GetByCategory(category string) ([]ImageDescriptor, error)
	GetAll() ([]ImageDescriptor, error)
	Count() (int64, error)
	Delete(id uint) error
}

type FeedbackRepository interface {
	Create(event *FeedbackEvent) error
	GetBySession(session string) ([]FeedbackEvent, error)
	GetRecent(limit int) ([]FeedbackEvent, error)
}

type SystemHealthRepository interface {
	UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error
	GetServiceHealth(serviceName string) (*SystemHealth, error)
	GetAllServicesHealth() ([]SystemHealth, error)
	GetUnhealthyServices() ([]SystemHealth, error)
}

// TableName methods for custom table names
func (User) TableName() string            { return "users" }
func (ImageDescriptor) TableName() string { return "image_descriptors" }
func (FeedbackEvent) TableName() string   { return "feedback_events" }
func (SystemHealth) TableName() string    { return "system_health" }

// Model validation methods
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Provider == "local" && u.PasswordHash == "" {
		return fmt.Errorf("password hash is required for local accounts")
	}
	return nil
}

func (d *ImageDescriptor) Validate() error {
	if d.Category == "" {
		return fmt.Errorf("category is required")
	}
	if d.ImageName == "" {
		return fmt.Errorf("image name is required")
	}
	return nil
}

func (fe *FeedbackEvent) Validate() error {
	if fe.ImageName == "" {
		return fmt.Errorf("image name is required")
	}
	validFeedback := map[string]bool{
		"relevant":   true,
		"irrelevant": true,
		"neutral":    true,
	}
	if !validFeedback[fe.Feedback] {
		return fmt.Errorf("invalid feedback value: %s", fe.Feedback)
	}
	return nil
}

// GORM hooks
func (u *User) BeforeCreate(tx *gorm.DB) error {
	return u.Validate()
}

func (d *ImageDescriptor) BeforeCreate(tx *gorm.DB) error {
	return d.Validate()
}

func (d *ImageDescriptor) BeforeUpdate(tx *gorm.DB) error {
	return d.Validate()
}

func (fe *FeedbackEvent) BeforeCreate(tx *gorm.DB) error {
	return fe.Validate()
}
