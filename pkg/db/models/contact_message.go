package models

import (
	"time"

	"github.com/google/uuid"
)

// ContactMessage is a storefront contact-form submission.
type ContactMessage struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string     `gorm:"column:name;not null"`
	Email     string     `gorm:"column:email;not null"`
	Subject   string     `gorm:"column:subject;not null"`
	Body      string     `gorm:"column:body;type:text;not null"`
	HandledAt *time.Time `gorm:"column:handled_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}
