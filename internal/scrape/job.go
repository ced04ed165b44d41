package scrape

import (
	"fmt"
	"time"

	"github.com/antchfx/xpath"
)

// SelectorType distinguishes the selector language of a Selector.
type SelectorType string

// Supported selector languages.
const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
)

// Selector locates elements in a parsed document.
type Selector struct {
	Type  SelectorType `mapstructure:"type" json:"type"`
	Value string       `mapstructure:"value" json:"value"`
}

// TransformerType names a value transformer applied after extraction.
type TransformerType string

// Supported transformers.
const (
	TransformStrip   TransformerType = "strip"
	TransformToFloat TransformerType = "to_float"
	TransformToInt   TransformerType = "to_int"
	TransformRegex   TransformerType = "regex"
	TransformReplace TransformerType = "replace"
)

// Transformer is one post-extraction value transformation.
type Transformer struct {
	Name TransformerType `mapstructure:"name" json:"name"`
	Args []string        `mapstructure:"args" json:"args,omitempty"`
}

// FieldSpec describes how to extract one named field. Selectors are tried in
// priority order; the first one that yields elements wins. When Attribute is
// set the attribute value is extracted instead of text content (a missing
// attribute yields the empty string). Children turn the matched elements into
// nested row scopes.
type FieldSpec struct {
	Name         string        `mapstructure:"name" json:"name"`
	Selectors    []Selector    `mapstructure:"selectors" json:"selectors"`
	Attribute    string        `mapstructure:"attribute" json:"attribute,omitempty"`
	IsList       bool          `mapstructure:"is_list" json:"is_list,omitempty"`
	Transformers []Transformer `mapstructure:"transformers" json:"transformers,omitempty"`
	Children     []FieldSpec   `mapstructure:"children" json:"children,omitempty"`
}

// InteractionType names a scripted browser action.
type InteractionType string

// Supported browser interactions.
const (
	InteractionWait   InteractionType = "wait"
	InteractionScroll InteractionType = "scroll"
	InteractionClick  InteractionType = "click"
	InteractionFill   InteractionType = "fill"
	InteractionPress  InteractionType = "press"
)

// Interaction is one step of the scripted UI sequence executed by the
// interactive fetcher before the document is captured.
type Interaction struct {
	Type       InteractionType `mapstructure:"type" json:"type"`
	Selector   string          `mapstructure:"selector" json:"selector,omitempty"`
	Value      string          `mapstructure:"value" json:"value,omitempty"`
	DurationMs int             `mapstructure:"duration_ms" json:"duration_ms,omitempty"`
}

// Pagination configures the "next page" chain followed in pages mode.
type Pagination struct {
	Selector  Selector `mapstructure:"selector" json:"selector"`
	Attribute string   `mapstructure:"attribute" json:"attribute"`
	MaxPages  int      `mapstructure:"max_pages" json:"max_pages"`
}

// Follow configures link expansion from completed pages.
type Follow struct {
	Enabled    bool     `mapstructure:"enabled" json:"enabled"`
	Selector   Selector `mapstructure:"selector" json:"selector"`
	Attribute  string   `mapstructure:"attribute" json:"attribute"`
	MaxPerPage int      `mapstructure:"max_per_page" json:"max_per_page"`
	MaxDepth   int      `mapstructure:"max_depth" json:"max_depth"`
}

// Auth configures bearer-token acquisition for authenticated sources.
type Auth struct {
	TokenURL      string            `mapstructure:"token_url" json:"token_url"`
	Form          map[string]string `mapstructure:"form" json:"form,omitempty"`
	RefreshMargin time.Duration     `mapstructure:"refresh_margin" json:"refresh_margin"`
}

// Job is the full definition of one scrape job.
type Job struct {
	Name            string            `mapstructure:"name" json:"name"`
	Mode            Mode              `mapstructure:"mode" json:"mode"`
	StartURLs       []string          `mapstructure:"start_urls" json:"start_urls"`
	Proxy           string            `mapstructure:"proxy" json:"proxy,omitempty"`
	Headers         map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	UseBrowser      bool              `mapstructure:"use_browser" json:"use_browser,omitempty"`
	WaitForSelector string            `mapstructure:"wait_for_selector" json:"wait_for_selector,omitempty"`
	Interactions    []Interaction     `mapstructure:"interactions" json:"interactions,omitempty"`
	Fields          []FieldSpec       `mapstructure:"fields" json:"fields"`
	Pagination      *Pagination       `mapstructure:"pagination" json:"pagination,omitempty"`
	Follow          *Follow           `mapstructure:"follow" json:"follow,omitempty"`
	Auth            *Auth             `mapstructure:"auth" json:"auth,omitempty"`
	MinDelay        time.Duration     `mapstructure:"min_delay" json:"min_delay,omitempty"`
	MaxDelay        time.Duration     `mapstructure:"max_delay" json:"max_delay,omitempty"`
}

// Defaults applied when the job definition leaves knobs unset.
const (
	DefaultFollowMaxPerPage = 5
	DefaultFollowMaxDepth   = 1
	DefaultMaxPages         = 5
	DefaultLinkAttribute    = "href"
	DefaultRefreshMargin    = 60 * time.Second
)

// Normalize fills defaults in place.
func (j *Job) Normalize() {
	if j.Mode == "" {
		j.Mode = ModeList
	}
	if j.Pagination != nil {
		if j.Pagination.Attribute == "" {
			j.Pagination.Attribute = DefaultLinkAttribute
		}
		if j.Pagination.MaxPages <= 0 {
			j.Pagination.MaxPages = DefaultMaxPages
		}
	}
	if j.Follow != nil {
		if j.Follow.Attribute == "" {
			j.Follow.Attribute = DefaultLinkAttribute
		}
		if j.Follow.MaxPerPage <= 0 {
			j.Follow.MaxPerPage = DefaultFollowMaxPerPage
		}
		if j.Follow.MaxDepth <= 0 {
			j.Follow.MaxDepth = DefaultFollowMaxDepth
		}
	}
	if j.Auth != nil && j.Auth.RefreshMargin <= 0 {
		j.Auth.RefreshMargin = DefaultRefreshMargin
	}
}

// Validate reports configuration errors that must abort the run.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if len(j.StartURLs) == 0 {
		return fmt.Errorf("job %q: at least one start url is required", j.Name)
	}
	switch j.Mode {
	case ModeList, ModePages:
	default:
		return fmt.Errorf("job %q: unknown mode %q", j.Name, j.Mode)
	}
	if j.Mode == ModePages && j.Pagination == nil {
		return fmt.Errorf("job %q: pages mode requires a pagination section", j.Name)
	}
	if len(j.Fields) == 0 {
		return fmt.Errorf("job %q: at least one field is required", j.Name)
	}
	for _, f := range j.Fields {
		if err := validateField(j.Name, f); err != nil {
			return err
		}
	}
	if j.Auth != nil && j.Auth.TokenURL == "" {
		return fmt.Errorf("job %q: auth requires token_url", j.Name)
	}
	if j.MinDelay < 0 || j.MaxDelay < 0 || j.MaxDelay < j.MinDelay {
		return fmt.Errorf("job %q: invalid delay range [%s, %s]", j.Name, j.MinDelay, j.MaxDelay)
	}
	return nil
}

func validateField(job string, f FieldSpec) error {
	if f.Name == "" {
		return fmt.Errorf("job %q: field without a name", job)
	}
	if len(f.Selectors) == 0 {
		return fmt.Errorf("job %q: field %q has no selectors", job, f.Name)
	}
	for _, s := range f.Selectors {
		if s.Type != SelectorCSS && s.Type != SelectorXPath {
			return fmt.Errorf("job %q: field %q: unknown selector type %q", job, f.Name, s.Type)
		}
		if s.Value == "" {
			return fmt.Errorf("job %q: field %q: empty selector", job, f.Name)
		}
		if s.Type == SelectorXPath {
			if _, err := xpath.Compile(s.Value); err != nil {
				return fmt.Errorf("job %q: field %q: invalid xpath %q: %w", job, f.Name, s.Value, err)
			}
		}
	}
	for _, c := range f.Children {
		if err := validateField(job, c); err != nil {
			return err
		}
	}
	return nil
}
