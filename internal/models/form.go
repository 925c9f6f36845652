package models

import "fmt"

// FieldKind is the closed set of field types a form step can contain
type FieldKind string

const (
	FieldText          FieldKind = "text"
	FieldDate          FieldKind = "date"
	FieldBoolean       FieldKind = "boolean"
	FieldSingleChoice  FieldKind = "single-choice"  // <select>, matched by option value or text
	FieldLabeledChoice FieldKind = "labeled-choice" // radio group, matched by label text
	FieldLocation      FieldKind = "location"       // hierarchical country/region/city selector
	FieldAttachment    FieldKind = "attachment"     // file input, value is a local path
)

// FieldKinds lists every supported kind
var FieldKinds = []FieldKind{
	FieldText, FieldDate, FieldBoolean, FieldSingleChoice, FieldLabeledChoice, FieldLocation, FieldAttachment,
}

// IsBatched reports whether fields of this kind are applied in the single bulk pass
func (k FieldKind) IsBatched() bool {
	switch k {
	case FieldText, FieldDate, FieldBoolean, FieldSingleChoice, FieldLabeledChoice:
		return true
	}
	return false
}

// FieldOrder places a field relative to the bulk pass.
// Leading fields change the option sets of other fields; trailing fields depend on them.
type FieldOrder string

const (
	OrderNormal   FieldOrder = ""
	OrderLeading  FieldOrder = "leading"
	OrderTrailing FieldOrder = "trailing"
)

// LocationSpec describes a country -> region -> city selector chain
type LocationSpec struct {
	CountrySelector string `toml:"country_selector" yaml:"country_selector" json:"country_selector" validate:"required"`
	CountryValue    string `toml:"country_value" yaml:"country_value" json:"country_value" validate:"required"`
	RegionSelector  string `toml:"region_selector" yaml:"region_selector" json:"region_selector" validate:"required"`
	RegionField     string `toml:"region_field" yaml:"region_field" json:"region_field" validate:"required"`
	CitySelector    string `toml:"city_selector" yaml:"city_selector" json:"city_selector" validate:"required"`
	CityField       string `toml:"city_field" yaml:"city_field" json:"city_field" validate:"required"`
}

// FieldSpec binds a record field to a form element
type FieldSpec struct {
	Name     string        `toml:"name" yaml:"name" json:"name" validate:"required"`
	Selector string        `toml:"selector" yaml:"selector" json:"selector" validate:"required_unless=Kind location"`
	Kind     FieldKind     `toml:"kind" yaml:"kind" json:"kind" validate:"required,oneof=text date boolean single-choice labeled-choice location attachment"`
	Order    FieldOrder    `toml:"order" yaml:"order" json:"order,omitempty" validate:"omitempty,oneof=leading trailing"`
	Location *LocationSpec `toml:"location" yaml:"location" json:"location,omitempty" validate:"required_if=Kind location"`
}

// Step is one page of a multi-step form
type Step struct {
	Number int         `toml:"-" yaml:"-" json:"number"`
	Name   string      `toml:"name" yaml:"name" json:"name"`
	Fields []FieldSpec `toml:"fields" yaml:"fields" json:"fields" validate:"dive"`
}

// FormControls are the selectors the step executor uses to move through the form
type FormControls struct {
	Advance         string `toml:"advance" yaml:"advance" json:"advance"`
	Finalize        string `toml:"finalize" yaml:"finalize" json:"finalize"`
	ValidationError string `toml:"validation_error" yaml:"validation_error" json:"validation_error"`
	Ready           string `toml:"ready" yaml:"ready" json:"ready"` // element that signals the page rendered
}

// DefaultFormControls returns the controls used when a definition omits them
func DefaultFormControls() FormControls {
	return FormControls{
		Advance:         "input[name='continue']",
		Finalize:        "input[type='submit'], input[name='save']",
		ValidationError: "div.alert.alert-danger",
		Ready:           "input",
	}
}

// FormDefinition is the externally supplied step sequence for one form
type FormDefinition struct {
	Name     string       `toml:"name" yaml:"name" json:"name" validate:"required"`
	EntryURL string       `toml:"entry_url" yaml:"entry_url" json:"entry_url" validate:"required,url"`
	Controls FormControls `toml:"controls" yaml:"controls" json:"controls"`
	Weights  []float64    `toml:"weights" yaml:"weights" json:"weights,omitempty" validate:"omitempty,dive,gte=0"`
	Steps    []Step       `toml:"steps" yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Normalize numbers the steps and fills in default controls
func (f *FormDefinition) Normalize() {
	defaults := DefaultFormControls()
	if f.Controls.Advance == "" {
		f.Controls.Advance = defaults.Advance
	}
	if f.Controls.Finalize == "" {
		f.Controls.Finalize = defaults.Finalize
	}
	if f.Controls.ValidationError == "" {
		f.Controls.ValidationError = defaults.ValidationError
	}
	if f.Controls.Ready == "" {
		f.Controls.Ready = defaults.Ready
	}
	for i := range f.Steps {
		f.Steps[i].Number = i + 1
		if f.Steps[i].Name == "" {
			f.Steps[i].Name = fmt.Sprintf("step-%d", i+1)
		}
	}
}

// IsTerminal reports whether step is the last one of the form
func (f *FormDefinition) IsTerminal(step Step) bool {
	return step.Number == len(f.Steps)
}
