package ingest

// FormField names a logical input of the preset search form.
type FormField string

// Logical fields written by the preset search runner.
const (
	FieldDateFrom FormField = "date_from"
	FieldDateTo   FormField = "date_to"
	FieldMinPages FormField = "min_pages"
	FieldFreeText FormField = "free_text"
	FieldSubmit   FormField = "submit"
)

// FormFieldResolver returns every wire name a logical field may go by. The
// runner writes the value under all of them and relies on the server
// ignoring the names it does not know.
type FormFieldResolver interface {
	Candidates(field FormField) []string
}

// StaticFieldResolver resolves names from a fixed table.
type StaticFieldResolver map[FormField][]string

// Candidates implements FormFieldResolver.
func (r StaticFieldResolver) Candidates(field FormField) []string {
	return r[field]
}

// DefaultFieldResolver covers the ASP.NET naming containers seen on the
// Supreme Court search page plus the bare control ID.
func DefaultFieldResolver() StaticFieldResolver {
	return StaticFieldResolver{
		FieldDateFrom: aspNetCandidates("txtDateFrom"),
		FieldDateTo:   aspNetCandidates("txtDateTo"),
		FieldMinPages: aspNetCandidates("txtPagesFrom"),
		FieldFreeText: aspNetCandidates("txtFreeText"),
		FieldSubmit:   aspNetCandidates("btnSearch"),
	}
}

func aspNetCandidates(id string) []string {
	return []string{
		"ctl00$ContentPlaceHolder1$" + id,
		"ctl00$MainContent$" + id,
		id,
	}
}
