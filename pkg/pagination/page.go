package pagination

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pcastr/monitor-politico/pkg/record"
)

// Link is an entry of a response's links array.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// page is one decoded response.
type page struct {
	records record.Batch
	next    string
}

// decodePage extracts the records and the next link from a response body.
// Bodies may be a bare array of objects, a bare object (one record), or an
// object holding the records under keyData, which is itself an array or a
// single object.
func decodePage(body []byte, keyData string) (page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return page{}, fmt.Errorf("empty response body")
	}

	switch trimmed[0] {
	case '[':
		batch, err := record.DecodeBatch(trimmed)
		if err != nil {
			return page{}, err
		}
		return page{records: batch}, nil
	case '{':
	default:
		return page{}, fmt.Errorf("response body is neither an object nor an array")
	}

	if keyData == "" {
		rec, err := record.Decode(trimmed)
		if err != nil {
			return page{}, err
		}
		return page{records: record.Batch{rec}}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return page{}, fmt.Errorf("decode response: %w", err)
	}

	p := page{}
	if raw, ok := envelope["links"]; ok {
		next, err := nextLink(raw)
		if err != nil {
			return page{}, err
		}
		p.next = next
	}

	raw, ok := envelope[keyData]
	if !ok {
		return page{}, fmt.Errorf("response has no %q key", keyData)
	}
	raw = bytes.TrimSpace(raw)

	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '[':
		batch, err := record.DecodeBatch(raw)
		if err != nil {
			return page{}, err
		}
		p.records = batch
	case raw[0] == '{':
		rec, err := record.Decode(raw)
		if err != nil {
			return page{}, err
		}
		p.records = record.Batch{rec}
	default:
		return page{}, fmt.Errorf("%q holds neither an object nor an array", keyData)
	}

	return p, nil
}

func nextLink(raw json.RawMessage) (string, error) {
	var links []Link
	if err := json.Unmarshal(raw, &links); err != nil {
		return "", fmt.Errorf("decode links: %w", err)
	}
	for _, l := range links {
		if l.Rel == "next" && l.Href != "" {
			return l.Href, nil
		}
	}
	return "", nil
}
