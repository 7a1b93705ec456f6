package templates

import "github.com/JonMunkholm/detalles/internal/core"

// FormView is everything the form page needs to render one session.
type FormView struct {
	Record core.Record
	Errors core.ErrorMap
	Phase  string // "draft", "confirming" or "submitting"
	Notice string // failure notice of the last confirm
}

// Confirming reports whether the summary should be shown instead of the form.
func (v FormView) Confirming() bool {
	return v.Phase == "confirming" || v.Phase == "submitting"
}

func fieldValue(rec core.Record, name string) string {
	v, _ := rec.Get(name)
	return v
}

func edadChecked(rec core.Record) bool {
	return rec.Edad != nil && *rec.Edad
}

func inputType(t core.FieldType) string {
	switch t {
	case core.FieldDate:
		return "date"
	case core.FieldEmail:
		return "email"
	}
	return "text"
}
