package domain

// RecordStatus represents the processing state of an invoice record within a run
type RecordStatus string

const (
	StatusNew       RecordStatus = "NEW"
	StatusUpdated   RecordStatus = "UPDATED"
	StatusUnchanged RecordStatus = "UNCHANGED"
	StatusError     RecordStatus = "ERROR"
)

var validStatuses = map[RecordStatus]bool{
	StatusNew:       true,
	StatusUpdated:   true,
	StatusUnchanged: true,
	StatusError:     true,
}

// IsValid returns true if the status is a known record status
func (s RecordStatus) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status
func (s RecordStatus) String() string {
	return string(s)
}
