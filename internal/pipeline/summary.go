package pipeline

// UnitError is a failed unit and the reason it failed.
type UnitError struct {
	Unit  string `json:"unit"`
	Error string `json:"error"`
}

// Units lists unit identifiers by outcome, each in processing order.
type Units struct {
	Processed []string    `json:"processed"`
	Failed    []UnitError `json:"failed"`
	Skipped   []string    `json:"skipped"`
}

// Summary aggregates an incremental run.
type Summary struct {
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Units     Units `json:"units"`
}

func newSummary() Summary {
	return Summary{Units: Units{
		Processed: []string{},
		Failed:    []UnitError{},
		Skipped:   []string{},
	}}
}

func (s *Summary) succeed(unit string) {
	s.Processed++
	s.Units.Processed = append(s.Units.Processed, unit)
}

func (s *Summary) fail(unit string, err error) {
	s.Failed++
	s.Units.Failed = append(s.Units.Failed, UnitError{Unit: unit, Error: err.Error()})
}

func (s *Summary) skip(unit string) {
	s.Skipped++
	s.Units.Skipped = append(s.Units.Skipped, unit)
}
