package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// Stage names reported in stage errors and logs.
const (
	StageViewport   = "viewport"
	StageCookies    = "cookies"
	StageAuth       = "auth"
	StageNavigation = "navigation"
	StageAnimation  = "animation"
	StageInject     = "inject"
	StageScroll     = "scroll"
	StageStabilize  = "stabilize"
	StageHeight     = "height"
	StageCut        = "cut"
	StageHide       = "hide"
	StageFixtures   = "fixtures"
	StageCrop       = "crop"
	StageFinalize   = "finalize"
)

const (
	retinaScale      = 2
	shrinkHeight     = 100 // viewport height before re-measuring a page that may have shrunk
	maxSnapshotNodes = 20000
	injectDelay      = 2 * time.Second
	beforeLoginDelay = 2 * time.Second
	scrollTopDelay   = 500 * time.Millisecond
)

// ErrScrollLimit is recorded when auto-scroll stops at its cycle or time
// bound before the page stopped growing.
var ErrScrollLimit = errors.New("auto-scroll limit reached")

// Page is the browser tab the pipeline prepares.
type Page interface {
	SetViewport(ctx context.Context, width, height int, scale float64) error
	EmulateDarkMode(ctx context.Context, dark bool) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	SetUserAgent(ctx context.Context, ua string) error
	BypassCSP(ctx context.Context) error
	ClearCookies(ctx context.Context) error
	SetCookies(ctx context.Context, cookies []model.Cookie) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	ClickAndWaitLoad(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	WaitVisible(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, expr string, res any) error
	Call(ctx context.Context, fn string, res any, args ...any) error
}

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	ViewportHeight     int
	MaxPageHeight      int
	NavigationTimeout  time.Duration
	NavigationFallback time.Duration
	AuthTimeout        time.Duration
	ScrollDelay        time.Duration // pause between scroll steps without scroll_step_delay
	SettleDelay        time.Duration // pause after a resize or a content change
	MaxScrollCycles    int
	MaxScrollDuration  time.Duration
	StabilizeMinRatio  float64
	StabilizeMaxDepth  int
}

func (o Options) withDefaults() Options {
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 1000
	}
	if o.MaxPageHeight <= 0 {
		o.MaxPageHeight = 50000
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 120 * time.Second
	}
	if o.NavigationFallback <= 0 {
		o.NavigationFallback = 60 * time.Second
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 2 * time.Minute
	}
	if o.ScrollDelay <= 0 {
		o.ScrollDelay = 100 * time.Millisecond
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = time.Second
	}
	if o.MaxScrollCycles <= 0 {
		o.MaxScrollCycles = 1000
	}
	if o.MaxScrollDuration <= 0 {
		o.MaxScrollDuration = 2 * time.Minute
	}
	if o.StabilizeMinRatio <= 0 {
		o.StabilizeMinRatio = 0.4
	}
	if o.StabilizeMaxDepth <= 0 {
		o.StabilizeMaxDepth = 64
	}

	return o
}

// Outcome is what the pipeline measured on the prepared page.
type Outcome struct {
	Height      int     // final viewport height in CSS pixels
	Scale       float64 // device scale factor
	PageArea    int     // Height × breakpoint
	Crop        model.Rect
	AuthError   string
	StageErrors []model.StageError
}

// Pipeline brings a page into a stable, screenshot-ready state.
type Pipeline struct {
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a new Pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		opts:  opts.withDefaults(),
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run holds the state of one Prepare call.
type run struct {
	p   *Pipeline
	ctx context.Context
	pg  Page
	job model.Job
	out Outcome
	log zerolog.Logger
}

// Prepare runs the stages in order. Only validation, viewport setup and
// navigation failures abort the run; failures of other stages are collected
// in Outcome.StageErrors.
func (p *Pipeline) Prepare(ctx context.Context, page Page, job model.Job) (Outcome, error) {
	if err := job.Validate(); err != nil {
		return Outcome{}, err
	}

	r := &run{
		p:   p,
		ctx: ctx,
		pg:  page,
		job: job,
		out: Outcome{Scale: 1, Height: p.opts.ViewportHeight},
		log: zlog.Logger.With().
			Str("job_id", job.ID).
			Str("url", job.URL).
			Int("breakpoint", job.Breakpoint).
			Logger(),
	}
	if job.Args.RetinaImages {
		r.out.Scale = retinaScale
	}

	if err := r.setupViewport(); err != nil {
		return r.out, fmt.Errorf("%s: %w", StageViewport, err)
	}

	r.stage(StageCookies, r.injectCookies)
	r.authenticate()

	if err := r.navigate(); err != nil {
		return r.out, fmt.Errorf("%s: %w", StageNavigation, err)
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{StageAnimation, r.freezeAnimations},
		{StageInject, r.inject},
		{StageScroll, r.autoScroll},
		{StageStabilize, r.stabilize},
		{StageHeight, r.updateHeight},
		{StageCut, r.cut},
		{StageHide, r.hide},
		{StageFixtures, r.fixtures},
		{StageCrop, r.measureCrop},
		{StageFinalize, r.finalize},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r.out, err
		}
		r.stage(s.name, s.fn)
	}

	if err := ctx.Err(); err != nil {
		return r.out, err
	}

	r.out.PageArea = r.out.Height * job.Breakpoint

	return r.out, nil
}

// stage runs a best-effort stage and records its failure.
func (r *run) stage(name string, fn func() error) {
	if err := fn(); err != nil {
		r.log.Warn().Err(err).Str("stage", name).Msg("stage failed")
		r.out.StageErrors = append(r.out.StageErrors, model.NewStageError(name, err))
	}
}

func (r *run) args() model.Args {
	return r.job.Args
}

// setupViewport sizes the viewport and applies emulation and headers.
// Only the viewport itself is required; the rest is best-effort.
func (r *run) setupViewport() error {
	if err := r.pg.SetViewport(r.ctx, r.job.Breakpoint, r.p.opts.ViewportHeight, r.out.Scale); err != nil {
		return err
	}

	r.stage(StageViewport, func() error {
		var errs []error

		if err := r.pg.BypassCSP(r.ctx); err != nil {
			errs = append(errs, fmt.Errorf("bypass csp: %w", err))
		}

		if r.args().NightMode {
			if err := r.pg.EmulateDarkMode(r.ctx, true); err != nil {
				errs = append(errs, fmt.Errorf("dark mode: %w", err))
			}
		}

		if ua, ok := r.args().UserAgent(); ok {
			if err := r.pg.SetUserAgent(r.ctx, ua); err != nil {
				errs = append(errs, fmt.Errorf("user agent: %w", err))
			}
		}

		headers := r.args().ExtraHeaders()
		if ba := r.job.BasicAuth; ba != nil && ba.User != "" && ba.Password != "" {
			headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(ba.User+":"+ba.Password))
		}
		if len(headers) > 0 {
			if err := r.pg.SetExtraHeaders(r.ctx, headers); err != nil {
				errs = append(errs, fmt.Errorf("headers: %w", err))
			}
		}

		return errors.Join(errs...)
	})

	return nil
}

// injectCookies replaces browser cookies with the configured ones.
func (r *run) injectCookies() error {
	if r.args().Cookies == "" {
		return nil
	}

	if err := r.pg.ClearCookies(r.ctx); err != nil {
		return fmt.Errorf("clear cookies: %w", err)
	}

	cookies, err := ParseCookies(r.args().Cookies, r.job.URL, r.p.now())
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return nil
	}

	return r.pg.SetCookies(r.ctx, cookies)
}

// authenticate logs in through the configured form. A failure is reported
// as an auth error annotation and never stops the pipeline.
func (r *run) authenticate() {
	a := r.args()
	if !a.HasAuth() {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.p.opts.AuthTimeout)
	defer cancel()

	if err := r.login(ctx, a); err != nil {
		r.log.Warn().Err(err).Str("stage", StageAuth).Msg("authentication failed")
		r.out.AuthError = err.Error()
		return
	}

	r.log.Info().Str("stage", StageAuth).Msg("authentication completed")
}

func (r *run) login(ctx context.Context, a model.Args) error {
	if err := r.pg.Navigate(ctx, a.AuthURL, r.p.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	if a.BeforeLoginCSS != "" {
		if err := r.pg.Click(ctx, a.BeforeLoginCSS); err != nil {
			return fmt.Errorf("click before login element: %w", err)
		}
		if err := r.p.sleep(ctx, beforeLoginDelay); err != nil {
			return err
		}
	}

	if a.UsernameSelector != "" {
		if err := r.pg.WaitVisible(ctx, a.UsernameSelector); err != nil {
			return fmt.Errorf("wait username field: %w", err)
		}
		if err := r.pg.Type(ctx, a.UsernameSelector, a.Username); err != nil {
			return fmt.Errorf("type username: %w", err)
		}
	}

	if err := r.pg.WaitVisible(ctx, a.PasswordSelector); err != nil {
		return fmt.Errorf("wait password field: %w", err)
	}
	if err := r.pg.Type(ctx, a.PasswordSelector, a.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}

	if err := r.pg.WaitVisible(ctx, a.SubmitSelector); err != nil {
		return fmt.Errorf("wait submit button: %w", err)
	}
	if err := r.pg.ClickAndWaitLoad(ctx, a.SubmitSelector); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	if a.AfterLoginCheckCSS != "" {
		if err := r.pg.WaitVisible(ctx, a.AfterLoginCheckCSS); err != nil {
			return fmt.Errorf("login check %q: %w", a.AfterLoginCheckCSS, err)
		}
	}

	return nil
}

// navigate opens the target URL with a shorter fallback attempt, then waits
// for web fonts.
func (r *run) navigate() error {
	target, err := MergeURL(r.job.URL, r.job.BaseURL)
	if err != nil {
		return err
	}

	if err := r.pg.Navigate(r.ctx, target, r.p.opts.NavigationTimeout); err != nil {
		if r.ctx.Err() != nil {
			return err
		}
		r.log.Info().Err(err).Msg("page was not loaded, retrying")

		if err := r.pg.Navigate(r.ctx, target, r.p.opts.NavigationFallback); err != nil {
			return err
		}
	}

	r.stage(StageNavigation, func() error {
		if err := r.pg.Call(r.ctx, jsFontsReady, nil); err != nil {
			return fmt.Errorf("wait fonts: %w", err)
		}
		if err := r.pg.Call(r.ctx, jsTouchStart, nil); err != nil {
			return fmt.Errorf("dispatch touchstart: %w", err)
		}
		return nil
	})

	r.log.Info().Str("target", target).Msg("page loaded")

	return nil
}

func (r *run) freezeAnimations() error {
	var frozen int
	if err := r.pg.Call(r.ctx, jsFreezeAnimations, &frozen, animationCSS); err != nil {
		return err
	}

	if frozen > 0 {
		r.log.Debug().Int("gifs", frozen).Msg("animated images frozen")
	}

	return nil
}

// inject adds custom CSS, then custom JS, then waits the configured delay.
func (r *run) inject() error {
	a := r.args()
	var errs []error

	if a.CSSCode != "" {
		if err := r.pg.Call(r.ctx, jsAddStyle, nil, a.CSSCode); err != nil {
			errs = append(errs, fmt.Errorf("css: %w", err))
		} else if err := r.p.sleep(r.ctx, injectDelay); err != nil {
			return err
		}
	}

	if a.JSCode != "" {
		if err := r.pg.Evaluate(r.ctx, a.JSCode, nil); err != nil {
			errs = append(errs, fmt.Errorf("js: %w", err))
		} else if err := r.p.sleep(r.ctx, injectDelay); err != nil {
			return err
		}
	}

	if a.DelayBeforeScreenshot > 0 {
		if err := r.p.sleep(r.ctx, time.Duration(a.DelayBeforeScreenshot)*time.Second); err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

func (r *run) autoScroll() error {
	step := int(r.args().ScrollStep)
	if step <= 0 {
		return nil
	}

	delay := r.p.opts.ScrollDelay
	if r.args().ScrollStepDelay > 0 {
		delay = time.Duration(r.args().ScrollStepDelay) * time.Millisecond
	}

	cycles, err := r.p.scroll(r.ctx, r.pg, step, delay)
	r.log.Debug().Int("cycles", cycles).Msg("auto-scroll done")

	return err
}

// scroll measures the body height and scrolls by step until the scrolled
// distance covers the measured height, then returns to the top. Each cycle
// is one measurement and one scroll; the loop is bounded by the configured
// cycle count and duration.
func (p *Pipeline) scroll(ctx context.Context, page Page, step int, delay time.Duration) (int, error) {
	start := p.now()
	total, cycles := 0, 0

	var limitErr error
	for {
		if cycles >= p.opts.MaxScrollCycles || p.now().Sub(start) >= p.opts.MaxScrollDuration {
			limitErr = fmt.Errorf("%w after %d cycles", ErrScrollLimit, cycles)
			break
		}

		var height int
		if err := page.Call(ctx, jsBodyScrollHeight, &height); err != nil {
			return cycles, fmt.Errorf("measure height: %w", err)
		}

		if err := page.Call(ctx, jsScrollBy, nil, step); err != nil {
			return cycles, fmt.Errorf("scroll: %w", err)
		}
		total += step
		cycles++

		if err := p.sleep(ctx, delay); err != nil {
			return cycles, err
		}

		if total >= height {
			break
		}
	}

	if err := page.Call(ctx, jsScrollTop, nil); err != nil {
		return cycles, fmt.Errorf("scroll to top: %w", err)
	}
	if err := p.sleep(ctx, scrollTopDelay); err != nil {
		return cycles, err
	}

	return cycles, limitErr
}

// stabilize freezes the heights of large elements and masks embedded maps.
func (r *run) stabilize() error {
	if !r.args().Stabilization {
		return nil
	}

	var snapshot domSnapshot
	if err := r.pg.Call(r.ctx, jsStabilizeSnapshot, &snapshot, maxSnapshotNodes); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	// Rolled back freezes are replanned below the rejected elements. Every
	// pass settles each planned node, so the loop ends.
	for {
		plan := planFreeze(snapshot, r.p.opts.StabilizeMinRatio, r.p.opts.StabilizeMaxDepth)
		if len(plan) == 0 {
			break
		}

		var res applyResult
		if err := r.pg.Call(r.ctx, jsStabilizeApply, &res, plan); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		r.log.Debug().Int("planned", len(plan)).Int("applied", res.Applied).Int("rejected", len(res.Rejected)).Msg("heights frozen")

		if len(res.Rejected) == 0 {
			break
		}
		snapshot = snapshot.mark(plan, res)
	}

	var masked int
	if err := r.pg.Call(r.ctx, jsHide, &masked, []string{MapsSelector}); err != nil {
		return fmt.Errorf("mask maps: %w", err)
	}

	return nil
}

// maxHeight is the capture height limit of the current attempt. Retries
// after a timeout ask for a smaller capture area.
func (r *run) maxHeight() int {
	if r.job.Attempts > 0 {
		return r.p.opts.MaxPageHeight / r.job.Attempts
	}

	return r.p.opts.MaxPageHeight
}

// updateHeight resizes the viewport to the document height, clamped to
// maxHeight.
func (r *run) updateHeight() error {
	var height int
	if err := r.pg.Call(r.ctx, jsDocumentHeight, &height); err != nil {
		return fmt.Errorf("measure height: %w", err)
	}

	if limit := r.maxHeight(); height > limit {
		height = limit
	}
	if height <= 0 {
		height = r.p.opts.ViewportHeight
	}

	if err := r.pg.SetViewport(r.ctx, r.job.Breakpoint, height, r.out.Scale); err != nil {
		return fmt.Errorf("resize viewport: %w", err)
	}
	r.out.Height = height

	return r.p.sleep(r.ctx, r.p.opts.SettleDelay)
}

// remeasure shrinks the viewport first so a page that got shorter is
// measured at its new height.
func (r *run) remeasure() error {
	if err := r.pg.SetViewport(r.ctx, r.job.Breakpoint, shrinkHeight, r.out.Scale); err != nil {
		return fmt.Errorf("shrink viewport: %w", err)
	}

	return r.updateHeight()
}

func (r *run) cut() error {
	selectors := r.args().CutElements
	if len(selectors) == 0 {
		return nil
	}

	var removed int
	if err := r.pg.Call(r.ctx, jsCut, &removed, selectors); err != nil {
		return err
	}

	if removed == 0 {
		return nil
	}

	return r.remeasure()
}

func (r *run) hide() error {
	selectors := r.args().Elements
	if len(selectors) == 0 {
		return nil
	}

	var masked int
	return r.pg.Call(r.ctx, jsHide, &masked, selectors)
}

func (r *run) fixtures() error {
	fixtures := r.args().Fixtures
	if len(fixtures) == 0 {
		return nil
	}

	// Text fixtures without content get the canonical text of their type.
	prepared := make([]model.Fixture, 0, len(fixtures))
	for _, f := range fixtures {
		if f.Content == "" {
			f.Content = model.FixtureContent(f.Type)
		}
		prepared = append(prepared, f)
	}

	var pending int
	if err := r.pg.Call(r.ctx, jsFixtures, &pending, prepared, PlaceholderImageURL); err != nil {
		return err
	}

	return r.p.sleep(r.ctx, r.p.opts.SettleDelay)
}

type cropResult struct {
	Found bool `json:"found"`
	model.Rect
}

// measureCrop records the document box of the crop selector.
func (r *run) measureCrop() error {
	selector := r.args().Crop
	if selector == "" {
		return nil
	}

	var res cropResult
	if err := r.pg.Call(r.ctx, jsCropRect, &res, selector); err != nil {
		return err
	}

	if !res.Found || res.Rect.Empty() {
		r.out.Crop = model.Rect{}
		return fmt.Errorf("crop element %q not found", selector)
	}

	r.out.Crop = res.Rect

	return nil
}

// finalize scrolls through the page once more and re-measures its height,
// since cut, hide and fixtures may have changed it. The crop box is
// measured again when the height moved.
func (r *run) finalize() error {
	before := r.out.Height

	if err := r.remeasure(); err != nil {
		return err
	}

	var errs []error
	if err := r.autoScroll(); err != nil {
		errs = append(errs, err)
	}

	if err := r.updateHeight(); err != nil {
		return errors.Join(append(errs, err)...)
	}

	if r.out.Height != before && r.args().Crop != "" {
		if err := r.measureCrop(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
