package model

import "strings"

// Fixture types accepted in Args.Fixtures.
const (
	FixtureImage           = "image"
	FixtureBackgroundImage = "background image"
	FixtureTitle           = "title"
	FixtureParagraph       = "paragraph"
	FixtureLargeParagraph  = "large paragraph"
)

// Args is the per-job configuration bag. Every directive is optional and
// its zero value means "do nothing".
type Args struct {
	Headers []Header `json:"headers,omitempty"`
	Cookies string   `json:"cookies,omitempty"`

	DelayBeforeScreenshot FlexInt `json:"delay_before_screenshot,omitempty"` // seconds
	ScrollStep            FlexInt `json:"scroll_step,omitempty"`             // pixels
	ScrollStepDelay       FlexInt `json:"scroll_step_delay,omitempty"`       // milliseconds

	CSSCode string `json:"css_code,omitempty"`
	JSCode  string `json:"js_code,omitempty"`

	CutElements []string  `json:"cut_elements,omitempty"`
	Elements    []string  `json:"elements,omitempty"` // masked, not removed
	Fixtures    []Fixture `json:"fixtures,omitempty"`
	Crop        string    `json:"crop,omitempty"`

	// Authentication flow.
	AuthURL            string `json:"url,omitempty"`
	UsernameSelector   string `json:"usernameSelector,omitempty"`
	PasswordSelector   string `json:"passwordSelector,omitempty"`
	SubmitSelector     string `json:"submitSelector,omitempty"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
	BeforeLoginCSS     string `json:"before_login_css,omitempty"`
	AfterLoginCheckCSS string `json:"after_login_check_css,omitempty"`
	Auth0              bool   `json:"auth0,omitempty"`

	NightMode     bool `json:"night_mode,omitempty"`
	RetinaImages  bool `json:"retina_images,omitempty"`
	Stabilization bool `json:"stabilization,omitempty"`
}

// Header is a single custom request header.
type Header struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// Fixture replaces the content of every element matching Selector.
type Fixture struct {
	Type     string `json:"type"`
	Selector string `json:"selector"`
	Content  string `json:"content,omitempty"`
}

// HasAuth reports whether the authentication flow is configured.
// The username selector is optional: some login forms only ask for a password.
func (a Args) HasAuth() bool {
	return a.AuthURL != "" && a.PasswordSelector != "" && a.SubmitSelector != "" && a.Password != ""
}

// UserAgent returns the custom user agent and whether one was requested.
// A user-agent header with an empty value falls back to DefaultUserAgent.
func (a Args) UserAgent() (string, bool) {
	for _, h := range a.Headers {
		if strings.EqualFold(strings.TrimSpace(h.Header), "user-agent") {
			if h.Value != "" {
				return h.Value, true
			}
			return DefaultUserAgent, true
		}
	}

	return "", false
}

// ExtraHeaders returns the custom headers as a map, skipping blank names.
func (a Args) ExtraHeaders() map[string]string {
	headers := make(map[string]string, len(a.Headers))
	for _, h := range a.Headers {
		name := strings.TrimSpace(h.Header)
		if name == "" {
			continue
		}
		headers[name] = h.Value
	}

	return headers
}

// DefaultUserAgent is used when a user-agent header is present but empty.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.11; rv:46.0) Gecko/20100101 Firefox/46.0"

// FixtureContent returns the canonical placeholder text for a text fixture
// type. Image fixtures have no text content.
func FixtureContent(fixtureType string) string {
	switch fixtureType {
	case FixtureTitle:
		return "Nullam dapibus lobortis nunc, eu mattis orci ultrices eu."
	case FixtureParagraph:
		return "Ut tellus quam, auctor et tristique at, hendrerit ut nunc. Proin massa dolor, ullamcorper nec dolor eget, elementum iaculis dui. Aliquam erat volutpat. Pellentesque ac hendrerit neque. Nunc quis augue felis. In a nunc vel orci luctus ullamcorper."
	case FixtureLargeParagraph:
		return "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Curabitur at felis semper tortor sollicitudin pharetra. Suspendisse augue diam, porta eget nunc et, auctor vestibulum diam. Nam quis lorem at nibh cursus ultrices. Morbi in semper est. Sed condimentum libero velit, at eleifend ex dapibus sit amet. Donec vulputate diam ut rutrum venenatis. Donec sit amet nisl at nunc sodales molestie in pellentesque risus. Sed finibus, mi ac congue lacinia, ipsum felis gravida velit, sed tincidunt purus ante pellentesque neque. Mauris sollicitudin semper egestas. Donec ut tortor nibh. In semper lacus vel arcu sodales ultrices. Aenean in nisi ornare, convallis leo venenatis, finibus eros. Duis quis enim luctus, pharetra massa id, fringilla est. Cras in mi ac dui ultrices iaculis. Nulla facilisi. Phasellus et tortor mollis, accumsan nisl a, ornare elit."
	default:
		return ""
	}
}
