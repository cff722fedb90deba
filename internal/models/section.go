package models

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/noah-isme/design-quality-api/pkg/metrics"
)

// EncodeSections serializes sections into a JSON column value.
func EncodeSections(sections []metrics.Section) datatypes.JSON {
	if sections == nil {
		sections = []metrics.Section{}
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(data)
}

// DecodeSections deserializes a JSON column into sections. Malformed payloads yield nil.
func DecodeSections(data datatypes.JSON) []metrics.Section {
	if len(data) == 0 {
		return nil
	}

	var sections []metrics.Section
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil
	}
	return sections
}
