package models

// FieldAssignment is one prepared value for the bulk field pass
type FieldAssignment struct {
	Name     string    `json:"name"`
	Selector string    `json:"selector"`
	Kind     FieldKind `json:"kind"`
	Value    string    `json:"value"`
}

// FieldFailure describes one field the bulk pass could not set
type FieldFailure struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
	Reason   string `json:"reason"`
}

// FieldLedger is the per-field result of a bulk pass
type FieldLedger struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []FieldFailure `json:"failed"`
}

// Option is one entry of a <select>
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}
