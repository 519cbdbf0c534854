package repository

import (
	"github.com/velia-labs/imagematch/internal/models"
	"gorm.io/gorm"
)

// UserRepositoryImpl implements UserRepository
type UserRepositoryImpl struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) models.UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepositoryImpl) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryImpl) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DescriptorRepositoryImpl implements DescriptorRepository
type DescriptorRepositoryImpl struct {
	db *gorm.DB
}

func NewDescriptorRepository(db *gorm.DB) models.DescriptorRepository {
	return &DescriptorRepositoryImpl{db: db}
}

func (r *DescriptorRepositoryImpl) Upsert(desc *models.ImageDescriptor) error {
	var existing models.ImageDescriptor
	err := r.db.Where("category = ? AND image_name = ?", desc.Category, desc.ImageName).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.Create(desc).Error
	}
	if err != nil {
		return err
	}
	desc.ID = existing.ID
	desc.CreatedAt = existing.CreatedAt
	return r.db.Save(desc).Error
}

func (r *DescriptorRepositoryImpl) GetByName(category, imageName string) (*models.ImageDescriptor, error) {
	var desc models.ImageDescriptor
	err := r.db.Where("category = ? AND image_name = ?", category, imageName).
		First(&desc).Error
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

func (r *DescriptorRepositoryImpl) GetByCategory(category string) ([]models.ImageDescriptor, error) {
	var descs []models.ImageDescriptor
	err := r.db.Where("category = ?", category).
		Order("image_name").
		Find(&descs).Error
	return descs, err
}

func (r *DescriptorRepositoryImpl) GetAll() ([]models.ImageDescriptor, error) {
	var descs []models.ImageDescriptor
	err := r.db.Order("category, image_name").Find(&descs).Error
	return descs, err
}

func (r *DescriptorRepositoryImpl) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.ImageDescriptor{}).Count(&count).Error
	return count, err
}

func (r *DescriptorRepositoryImpl) Delete(id uint) error {
	return r.db.Delete(&models.ImageDescriptor{}, id).Error
}

// FeedbackRepositoryImpl implements FeedbackRepository
type FeedbackRepositoryImpl struct {
	db *gorm.DB
}

func NewFeedbackRepository(db *gorm.DB) models.FeedbackRepository {
	return &FeedbackRepositoryImpl{db: db}
}

func (r *FeedbackRepositoryImpl) Create(event *models.FeedbackEvent) error {
	return r.db.Create(event).Error
}

func (r *FeedbackRepositoryImpl) GetBySession(session string) ([]models.FeedbackEvent, error) {
	var events []models.FeedbackEvent
	err := r.db.Where("user_session = ?", session).
		Order("applied_at DESC").
		Find(&events).Error
	return events, err
}

func (r *FeedbackRepositoryImpl) GetRecent(limit int) ([]models.FeedbackEvent, error) {
	var events []models.FeedbackEvent
	err := r.db.Order("applied_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// SystemHealthRepositoryImpl implements SystemHealthRepository
type SystemHealthRepositoryImpl struct {
	db *gorm.DB
}

func NewSystemHealthRepository(db *gorm.DB) models.SystemHealthRepository {
	return &SystemHealthRepositoryImpl{db: db}
}

func (r *SystemHealthRepositoryImpl) UpdateServiceHealth(serviceName, status string, responseTime int, errorMsg string) error {
	return r.db.Exec(`
		INSERT INTO system_health (service_name, status, response_time_ms, error_message, checked_at)
		VALUES (?, ?, ?, ?, NOW())
	`, serviceName, status, responseTime, errorMsg).Error
}

func (r *SystemHealthRepositoryImpl) GetServiceHealth(serviceName string) (*models.SystemHealth, error) {
	var health models.SystemHealth
	err := r.db.Where("service_name = ?", serviceName).
		Order("checked_at DESC").
		First(&health).Error
	if err != nil {
		return nil, err
	}
	return &health, nil
}

func (r *SystemHealthRepositoryImpl) GetAllServicesHealth() ([]models.SystemHealth, error) {
	var health []models.SystemHealth
	err := r.db.Raw(`
		SELECT DISTINCT ON (service_name) *
		FROM system_health
		ORDER BY service_name, checked_at DESC
	`).Scan(&health).Error
	return health, err
}

func (r *SystemHealthRepositoryImpl) GetUnhealthyServices() ([]models.SystemHealth, error) {
	var health []models.SystemHealth
	err := r.db.Raw(`
		SELECT DISTINCT ON (service_name) *
		FROM system_health
		WHERE status != 'healthy'
		ORDER BY service_name, checked_at DESC
	`).Scan(&health).Error
	return health, err
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Users        models.UserRepository
	Descriptors  models.DescriptorRepository
	Feedback     models.FeedbackRepository
	SystemHealth models.SystemHealthRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Users:        NewUserRepository(db),
		Descriptors:  NewDescriptorRepository(db),
		Feedback:     NewFeedbackRepository(db),
		SystemHealth: NewSystemHealthRepository(db),
	}
}
