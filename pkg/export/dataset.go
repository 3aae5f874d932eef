package export

// Dataset defines tabular export content. Sheets carries nested tables
// rendered as extra worksheets or sections, keyed by a sheet title.
type Dataset struct {
	Title   string
	Headers []string
	Rows    []map[string]string
	Sheets  []Sheet
}

// Sheet is a nested table attached to a dataset.
type Sheet struct {
	Title   string
	Headers []string
	Rows    []map[string]string
}
