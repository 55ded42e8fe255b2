// Package payloadschema defines the v1 news item line format read by newsitem
// sources and checked by the validate command.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "news_item.schema.json"

//go:embed news_item.schema.json
var newsItemSchemaJSON string

// NewsItem is one decoded v1 payload.
type NewsItem struct {
	PayloadVersion string         `json:"payload_version"`
	Source         string         `json:"source"`
	SourceItemID   string         `json:"source_item_id"`
	Title          string         `json:"title"`
	CanonicalURL   *string        `json:"canonical_url,omitempty"`
	PublishedAt    *string        `json:"published_at,omitempty"`
	BodyText       *string        `json:"body_text,omitempty"`
	Language       *string        `json:"language,omitempty"`
	SourceDomain   *string        `json:"source_domain,omitempty"`
	Authors        []string       `json:"authors,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

func (n *NewsItem) Published() (time.Time, bool) {
	if n == nil || n.PublishedAt == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*n.PublishedAt))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (n *NewsItem) URL() string      { return trimmed(n.CanonicalURL) }
func (n *NewsItem) Body() string     { return trimmed(n.BodyText) }
func (n *NewsItem) LangCode() string { return trimmed(n.Language) }

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// ItemError lists every content problem found in a payload that passed the
// structural schema.
type ItemError struct {
	Problems []string
}

func (e *ItemError) Error() string {
	return "invalid news item: " + strings.Join(e.Problems, "; ")
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaResource, strings.NewReader(newsItemSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaResource)
})

// ParseNewsItem decodes one payload, checks it against the embedded JSON schema
// and then against the content rules the schema cannot express.
func ParseNewsItem(raw []byte) (*NewsItem, error) {
	body := bytes.TrimSpace(raw)
	value, err := decodeSingle(body)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var item NewsItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if problems := contentProblems(&item); len(problems) > 0 {
		return nil, &ItemError{Problems: problems}
	}
	return &item, nil
}

// IsContentError reports whether err came from the content rules rather than
// from decoding or the schema.
func IsContentError(err error) bool {
	var itemErr *ItemError
	return errors.As(err, &itemErr)
}

func decodeSingle(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, errors.New("payload is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("payload contains trailing content")
	}
	return value, nil
}

func contentProblems(item *NewsItem) []string {
	var problems []string
	required := []struct {
		field string
		value string
	}{
		{"source", item.Source},
		{"source_item_id", item.SourceItemID},
		{"title", item.Title},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			problems = append(problems, r.field+" must not be empty")
		}
	}

	if item.CanonicalURL != nil {
		if err := checkArticleURL(*item.CanonicalURL); err != nil {
			problems = append(problems, "canonical_url "+err.Error())
		}
	}
	if item.PublishedAt != nil {
		if _, ok := item.Published(); !ok {
			problems = append(problems, "published_at must be RFC3339")
		}
	}
	if item.SourceDomain != nil {
		if err := checkDomain(*item.SourceDomain); err != nil {
			problems = append(problems, "source_domain "+err.Error())
		}
	}
	problems = append(problems, blankEntries("authors", item.Authors)...)
	problems = append(problems, blankEntries("tags", item.Tags)...)
	return problems
}

func blankEntries(field string, values []string) []string {
	var problems []string
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, fmt.Sprintf("%s[%d] must not be empty", field, i))
		}
	}
	return problems
}

func checkArticleURL(value string) error {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(value))
	if err != nil {
		return errors.New("is not a valid URI")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// checkDomain accepts a bare host such as reuters.com, the form domain tiers are keyed by.
func checkDomain(value string) error {
	host := strings.TrimSpace(value)
	if host == "" {
		return errors.New("must not be empty")
	}
	if strings.ContainsAny(host, "/:?# ") {
		return errors.New("must be a bare host name")
	}
	return nil
}
