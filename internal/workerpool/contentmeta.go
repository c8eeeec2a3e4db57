package workerpool

import "encoding/json"

// contentMeta is the sidecar shape the Scanner stores in content_data;
// only the caption field matters to the Worker Pool's bypass rule.
type contentMeta struct {
	Caption string `json:"caption"`
}

// extractCaptionField reads a pre-authored caption out of a task's
// content_data, if present and well-formed.
func extractCaptionField(contentData []byte) (string, bool) {
	if len(contentData) == 0 {
		return "", false
	}
	var meta contentMeta
	if err := json.Unmarshal(contentData, &meta); err != nil {
		return "", false
	}
	return meta.Caption, meta.Caption != ""
}
