package state

import (
	"encoding/json"

	"github.com/alexjbarnes/docsync/internal/models"
)

func jsonIndent(doc models.SyncDoc) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	return string(data), err
}
