package index

import "strings"

const (
	FieldContent = "content"
	FieldName    = "name"
)

// Fields lists the searchable fields in a stable order.
var Fields = []string{FieldContent, FieldName}

var fieldAliases = map[string]string{
	"content":  FieldContent,
	"name":     FieldName,
	"filename": FieldName,
}

// ResolveField maps a user-facing field name to its canonical field.
func ResolveField(name string) (string, bool) {
	f, ok := fieldAliases[strings.ToLower(name)]
	return f, ok
}

// Document is the stored form of one indexed document. Lengths holds the
// normalized term count per field.
type Document struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Content     string         `json:"content"`
	Ordinal     uint32         `json:"ordinal"`
	Lengths     map[string]int `json:"lengths"`
	RawLength   int            `json:"raw_length"`
}

func (d *Document) FieldLength(field string) int {
	return d.Lengths[field]
}
