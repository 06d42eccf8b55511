package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// fakePage records every call and answers scripts from configurable hooks.
type fakePage struct {
	mu    sync.Mutex
	calls []string

	viewports []int // heights passed to SetViewport
	cookies   []model.Cookie
	headers   map[string]string

	navigateErrs []error // consumed in order by Navigate
	failScripts  map[string]error
	visibleErr   error

	// docHeight answers jsDocumentHeight, given the current viewport height.
	docHeight func(viewport int) int
	// bodyHeight answers jsBodyScrollHeight, given the measurement number.
	bodyHeight func(n int) int
	bodyCalls  int
	scrolled   int

	cut      int
	crops    []cropResult
	snapshot domSnapshot
	applied  [][]freeze
	rejects  map[int]bool // freezes the page rolls back
	hidden   [][]string
	fixtures []model.Fixture
}

func newFakePage() *fakePage {
	return &fakePage{
		failScripts: map[string]error{},
		docHeight:   func(int) int { return 2400 },
		bodyHeight:  func(int) int { return 2400 },
	}
}

func (f *fakePage) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// called counts the calls equal to name or starting with name and a space.
func (f *fakePage) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == name || strings.HasPrefix(c, name+" ") {
			n++
		}
	}
	return n
}

func (f *fakePage) SetViewport(_ context.Context, width, height int, scale float64) error {
	f.record("viewport %d %d %.0f", width, height, scale)
	f.viewports = append(f.viewports, height)
	return nil
}

func (f *fakePage) EmulateDarkMode(context.Context, bool) error {
	f.record("dark")
	return nil
}

func (f *fakePage) SetExtraHeaders(_ context.Context, headers map[string]string) error {
	f.record("headers")
	f.headers = headers
	return nil
}

func (f *fakePage) SetUserAgent(_ context.Context, ua string) error {
	f.record("ua %s", ua)
	return nil
}

func (f *fakePage) BypassCSP(context.Context) error {
	f.record("csp")
	return nil
}

func (f *fakePage) ClearCookies(context.Context) error {
	f.record("clear cookies")
	return nil
}

func (f *fakePage) SetCookies(_ context.Context, cookies []model.Cookie) error {
	f.record("cookies %d", len(cookies))
	f.cookies = cookies
	return nil
}

func (f *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	f.record("navigate %s %s", url, timeout)
	if len(f.navigateErrs) > 0 {
		err := f.navigateErrs[0]
		f.navigateErrs = f.navigateErrs[1:]
		return err
	}
	return ctx.Err()
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	f.record("click %s", selector)
	return nil
}

func (f *fakePage) ClickAndWaitLoad(_ context.Context, selector string) error {
	f.record("submit %s", selector)
	return nil
}

func (f *fakePage) Type(_ context.Context, selector, _ string) error {
	f.record("type %s", selector)
	return nil
}

func (f *fakePage) WaitVisible(_ context.Context, selector string) error {
	f.record("wait %s", selector)
	return f.visibleErr
}

func (f *fakePage) Evaluate(_ context.Context, expr string, _ any) error {
	f.record("eval %s", expr)
	return f.failScripts[expr]
}

func (f *fakePage) Call(_ context.Context, fn string, res any, args ...any) error {
	if err := f.failScripts[fn]; err != nil {
		f.record("call failed")
		return err
	}

	var out any
	switch fn {
	case jsDocumentHeight:
		f.record("measure document")
		out = f.docHeight(f.viewports[len(f.viewports)-1])
	case jsBodyScrollHeight:
		f.record("measure body")
		out = f.bodyHeight(f.bodyCalls)
		f.bodyCalls++
	case jsScrollBy:
		f.record("scroll by %v", args[0])
		f.scrolled++
		out = true
	case jsScrollTop:
		f.record("scroll top")
		out = true
	case jsFontsReady:
		f.record("fonts")
		out = true
	case jsTouchStart:
		f.record("touchstart")
		out = true
	case jsFreezeAnimations:
		f.record("animations")
		out = 0
	case jsAddStyle:
		f.record("css")
		out = true
	case jsCut:
		f.record("cut")
		out = f.cut
	case jsHide:
		f.record("hide")
		f.hidden = append(f.hidden, args[0].([]string))
		out = 1
	case jsFixtures:
		f.record("fixtures")
		f.fixtures = args[0].([]model.Fixture)
		out = 0
	case jsCropRect:
		f.record("crop")
		if len(f.crops) == 0 {
			out = cropResult{}
			break
		}
		out = f.crops[0]
		if len(f.crops) > 1 {
			f.crops = f.crops[1:]
		}
	case jsStabilizeSnapshot:
		f.record("snapshot")
		out = f.snapshot
	case jsStabilizeApply:
		f.record("apply")
		plan := args[0].([]freeze)
		f.applied = append(f.applied, plan)
		var res applyResult
		var kept []freeze
		for _, fr := range plan {
			if f.rejects[fr.ID] {
				res.Rejected = append(res.Rejected, fr.ID)
				continue
			}
			kept = append(kept, fr)
		}
		res.Applied = len(kept)
		f.snapshot = apply(f.snapshot, kept)
		out = res
	default:
		return fmt.Errorf("unexpected script")
	}

	if res == nil {
		return nil
	}

	// Round-trip through JSON like the browser does.
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}
