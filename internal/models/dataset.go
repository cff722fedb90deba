package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

// ValidationDataset is a named, versioned set of test cases for one task.
// Datasets are expected to stay unchanged once executions reference them;
// nothing in storage enforces that.
type ValidationDataset struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	Task        string               `gorm:"size:120;not null;index" json:"task"`
	Name        string               `gorm:"size:255;not null" json:"name"`
	Version     string               `gorm:"size:32;not null" json:"version"`
	Description string               `gorm:"type:text" json:"description"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	TestCases   []ValidationTestCase `gorm:"foreignKey:DatasetID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"test_cases"`
}

// ValidationTestCase pairs a pipeline input with its expected sections.
type ValidationTestCase struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	DatasetID        uint              `gorm:"not null;index" json:"dataset_id"`
	Name             string            `gorm:"size:255" json:"name"`
	InputData        datatypes.JSONMap `gorm:"type:json" json:"input_data"`
	ExpectedSections datatypes.JSON    `gorm:"type:json" json:"-"`
	CreatedAt        time.Time         `json:"created_at"`
}

// SetExpectedSections stores the ground-truth sections.
func (c *ValidationTestCase) SetExpectedSections(sections []metrics.Section) {
	c.ExpectedSections = EncodeSections(sections)
}

// Expected returns the ground-truth sections.
func (c ValidationTestCase) Expected() []metrics.Section {
	return DecodeSections(c.ExpectedSections)
}
