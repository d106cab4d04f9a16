package model

// Event is a single change notification for one remote table. The concrete
// variants are Insert, Update, Delete and Unknown; the feed decoder is the only
// place that builds them from wire payloads.
type Event interface {
	isEvent()
}

// Insert carries a newly created record.
type Insert struct {
	Record Record
}

// Update carries the fields of a changed record. Fields not present are left
// untouched when merged.
type Update struct {
	ID     string
	Fields Record
}

// Delete identifies a removed record by its prior-state id.
type Delete struct {
	ID string
}

// Unknown is an event whose operation could not be classified.
type Unknown struct {
	Type string
}

func (Insert) isEvent()  {}
func (Update) isEvent()  {}
func (Delete) isEvent()  {}
func (Unknown) isEvent() {}

// Operation returns the lower-case operation name of ev, for logs.
func Operation(ev Event) string {
	switch e := ev.(type) {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Unknown:
		if e.Type != "" {
			return "unknown(" + e.Type + ")"
		}
		return "unknown"
	default:
		return "unknown"
	}
}
