package controlplane

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// Scroll settings of projects with scrolling enabled.
const (
	projectScrollStep      = 40
	projectScrollStepDelay = 200
)

// Authentication presets.
const (
	AuthDrupal    = "drupal"
	AuthWordPress = "wordpress"
	AuthAuth0     = "auth0"
)

// Project is the part of the project settings used to build jobs.
type Project struct {
	Name         string          `json:"name"`
	Production   string          `json:"production"`
	URLs         []string        `json:"urls"`
	Breakpoints  []model.FlexInt `json:"breakpoints"`
	Authenticate *Authenticate   `json:"authenticate"`
	Advanced     *Advanced       `json:"advanced"`
	Modify       *Modify         `json:"modify"`
}

// Authenticate holds the login settings of a project.
type Authenticate struct {
	Enabled              bool   `json:"enabled"`
	Type                 string `json:"type"`
	LoginURL             string `json:"loginURL"`
	UsernameSelector     string `json:"usernameSelector"`
	PasswordSelector     string `json:"passwordSelector"`
	SubmitSelector       string `json:"submitSelector"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	ClickElement         bool   `json:"clickElement"`
	ClickElementSelector string `json:"clickElementSelector"`
	AfterLoginSelector   string `json:"afterloginSelector"`
}

// Advanced holds the capture settings of a project. Every setting is
// guarded by its own switch.
type Advanced struct {
	Delay        bool            `json:"psScreenshotDelay"`
	DelaySec     model.FlexInt   `json:"psScreenshotDelaySec"`
	Stabilize    bool            `json:"psHeightStabilization"`
	Scroll       bool            `json:"psScreenshotScroll"`
	Headers      bool            `json:"psScreenshotHeaders"`
	HeadersList  []model.Header  `json:"psScreenshotHeadersList"`
	Cookies      bool            `json:"psScreenshotCookies"`
	CookiesValue string          `json:"psScreenshotCookiesString"`
	JS           bool            `json:"psScreenshotJs"`
	JSCode       string          `json:"psScreenshotJsCode"`
	CSS          bool            `json:"psScreenshotCss"`
	CSSCode      string          `json:"psScreenshotCssCode"`
	Fixtures     bool            `json:"psScreenshotFixtures"`
	FixturesList []model.Fixture `json:"psScreenshotFixturesList"`
}

// Modify holds the element selectors of a project, one per line.
type Modify struct {
	Crop    string `json:"psScreenshotCrop"`
	Exclude string `json:"psScreenshotExclude"`
	Cut     string `json:"psScreenshotCut"`
}

// PrepareJobs builds one job per project URL and breakpoint, with the
// project URLs moved onto baseURL.
func PrepareJobs(baseURL string, p Project) []model.Job {
	baseURL = strings.TrimRight(baseURL, "/")
	args := buildArgs(p, baseURL)

	uris := make([]string, 0, len(p.URLs))
	for _, u := range p.URLs {
		uris = append(uris, relativeURI(u, p.Production))
	}

	jobs := make([]model.Job, 0, len(uris)*len(p.Breakpoints))
	for _, uri := range uris {
		for _, bp := range p.Breakpoints {
			job := model.Job{
				URL:        baseURL + uri,
				URI:        uri,
				BaseURL:    baseURL,
				Breakpoint: int(bp),
				Args:       args,
			}
			if job.URI == "" {
				job.URI = "/"
			}
			jobs = append(jobs, job)
		}
	}

	zlog.Logger.Info().
		Int("urls", len(uris)).
		Int("breakpoints", len(p.Breakpoints)).
		Int("jobs", len(jobs)).
		Msg("prepared jobs")

	return jobs
}

// relativeURI strips the production domain, without credentials, from a
// project URL. URLs of another domain keep their path and query.
func relativeURI(raw, production string) string {
	domain := stripUserinfo(production)

	var uri string
	switch {
	case domain != "" && strings.Contains(raw, domain):
		uri = strings.Replace(raw, domain, "", 1)
	default:
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			uri = raw
			break
		}
		uri = u.RequestURI()
		if u.Fragment != "" {
			uri += "#" + u.Fragment
		}
	}

	return strings.TrimRight(uri, "/")
}

func stripUserinfo(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	return strings.Replace(raw, u.User.String()+"@", "", 1)
}

func buildArgs(p Project, baseURL string) model.Args {
	var args model.Args
	authArgs(&args, p.Authenticate, baseURL)
	advancedArgs(&args, p.Advanced)
	modifyArgs(&args, p.Modify)

	return args
}

func authArgs(args *model.Args, auth *Authenticate, baseURL string) {
	if auth == nil || !auth.Enabled {
		return
	}

	args.AuthURL = baseURL + "/" + strings.TrimLeft(auth.LoginURL, "/")
	args.UsernameSelector = auth.UsernameSelector
	args.PasswordSelector = auth.PasswordSelector
	args.SubmitSelector = auth.SubmitSelector
	args.Username = auth.Username
	args.Password = auth.Password

	if auth.ClickElement && auth.ClickElementSelector != "" {
		args.BeforeLoginCSS = auth.ClickElementSelector
	}

	switch auth.Type {
	case AuthAuth0:
		args.Auth0 = true
		if auth.AfterLoginSelector != "" {
			args.AfterLoginCheckCSS = auth.AfterLoginSelector
		}
	case AuthDrupal:
		args.AuthURL = baseURL + "/user"
		args.UsernameSelector = "#edit-name"
		args.PasswordSelector = "#edit-pass"
		args.SubmitSelector = "#edit-submit"
	case AuthWordPress:
		args.AuthURL = baseURL + "/wp-login.php"
		args.UsernameSelector = "#user_login"
		args.PasswordSelector = "#user_pass"
		args.SubmitSelector = "#wp-submit"
	}
}

func advancedArgs(args *model.Args, adv *Advanced) {
	if adv == nil {
		return
	}

	if adv.Delay && adv.DelaySec > 0 {
		args.DelayBeforeScreenshot = adv.DelaySec
	}
	if adv.Stabilize {
		args.Stabilization = true
	}
	if adv.Scroll {
		args.ScrollStep = projectScrollStep
		args.ScrollStepDelay = projectScrollStepDelay
	}
	if adv.Headers && len(adv.HeadersList) > 0 {
		args.Headers = adv.HeadersList
	}
	if c := strings.TrimSpace(adv.CookiesValue); adv.Cookies && c != "" {
		args.Cookies = c
	}
	if js := strings.TrimSpace(adv.JSCode); adv.JS && js != "" {
		args.JSCode = js
	}
	if css := strings.TrimSpace(adv.CSSCode); adv.CSS && css != "" {
		args.CSSCode = css
	}

	if !adv.Fixtures {
		return
	}
	for _, f := range adv.FixturesList {
		if strings.TrimSpace(f.Type) == "" || strings.TrimSpace(f.Selector) == "" {
			continue
		}
		args.Fixtures = append(args.Fixtures, model.Fixture{
			Type:     f.Type,
			Selector: f.Selector,
			Content:  model.FixtureContent(f.Type),
		})
	}
}

func modifyArgs(args *model.Args, mod *Modify) {
	if mod == nil {
		return
	}

	args.Crop = strings.TrimSpace(mod.Crop)
	args.Elements = selectorLines(mod.Exclude)
	args.CutElements = selectorLines(mod.Cut)
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// selectorLines splits a textarea value into selectors, one per line,
// with markup removed.
func selectorLines(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	lines := strings.Split(tagPattern.ReplaceAllString(s, ""), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}

	return lines
}
