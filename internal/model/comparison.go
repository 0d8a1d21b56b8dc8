package model

// Direction classifies how a single field moved between two bulletins.
type Direction string

const (
	DirectionAdvanced      Direction = "advanced"
	DirectionRetrogressed  Direction = "retrogressed"
	DirectionBecameCurrent Direction = "became_current"
	DirectionLostCurrent   Direction = "lost_current"
	DirectionChanged       Direction = "changed"
	DirectionAdded         Direction = "added"
	DirectionRemoved       Direction = "removed"
)

// FieldChange records one field's movement. Previous is nil for added
// columns and Current is nil for removed ones.
type FieldChange struct {
	Field     string    `json:"field"`
	Previous  *string   `json:"previous"`
	Current   *string   `json:"current"`
	Direction Direction `json:"direction"`
}

// CategoryDiff collects the field changes for one aligned category.
type CategoryDiff struct {
	CategoryKey  string        `json:"category_key"`
	FieldChanges []FieldChange `json:"field_changes"`
}

// ComparisonSummary carries the aggregate counts of a comparison.
type ComparisonSummary struct {
	CategoriesAdded   int `json:"categories_added"`
	CategoriesRemoved int `json:"categories_removed"`
	CategoriesChanged int `json:"categories_changed"`
	TotalFieldChanges int `json:"total_field_changes"`
}

// ComparisonResult is the structured diff of two bulletins. It is always
// a value, never an error: failures are captured in Error with all
// aggregates left neutral, and callers must check Error before trusting
// the rest of the structure.
type ComparisonResult struct {
	ComparedAt              string            `json:"compared_at"`
	CurrentRunBulletinDate  *string           `json:"current_run_bulletin_date"`
	PreviousRunBulletinDate *string           `json:"previous_run_bulletin_date"`
	HasChanges              bool              `json:"has_changes"`
	Summary                 ComparisonSummary `json:"summary"`
	CategoriesAdded         []CategoryRow     `json:"categories_added"`
	CategoriesRemoved       []CategoryRow     `json:"categories_removed"`
	CategoriesChanged       []CategoryDiff    `json:"categories_changed"`
	Error                   *string           `json:"error"`
}
