package supervisor

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/screenshot-worker/internal/capture"
	"github.com/aliskhannn/screenshot-worker/internal/model"
	"github.com/aliskhannn/screenshot-worker/internal/pipeline"
	"github.com/aliskhannn/screenshot-worker/internal/processor"
)

// stubPage answers every browser call successfully unless told otherwise.
type stubPage struct {
	png         []byte
	hang        bool // Navigate blocks until its context is done
	navigateErr error
	closeErr    error
	closed      atomic.Int32
}

func (p *stubPage) SetViewport(context.Context, int, int, float64) error { return nil }
func (p *stubPage) EmulateDarkMode(context.Context, bool) error { return nil }
func (p *stubPage) SetExtraHeaders(context.Context, map[string]string) error { return nil }
func (p *stubPage) SetUserAgent(context.Context, string) error { return nil }
func (p *stubPage) BypassCSP(context.Context) error { return nil }
func (p *stubPage) ClearCookies(context.Context) error { return nil }
func (p *stubPage) SetCookies(context.Context, []model.Cookie) error { return nil }
func (p *stubPage) Click(context.Context, string) error { return nil }
func (p *stubPage) ClickAndWaitLoad(context.Context, string) error { return nil }
func (p *stubPage) Type(context.Context, string, string) error { return nil }
func (p *stubPage) WaitVisible(context.Context, string) error { return nil }
func (p *stubPage) Evaluate(context.Context, string, any) error { return nil }
func (p *stubPage) Call(context.Context, string, any, ...any) error { return nil }
func (p *stubPage) HTML(context.Context) (string, error) { return "<html></html>", nil }
func (p *stubPage) MHTML(context.Context) (string, error) { return "", nil }
func (p *stubPage) Console() ([]model.ConsoleMessage, int) { return []model.ConsoleMessage{}, 0 }
func (p *stubPage) Screenshot(context.Context) ([]byte, error) { return p.png, nil }

func (p *stubPage) Navigate(ctx context.Context, _ string, _ time.Duration) error {
	if p.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.navigateErr
}

func (p *stubPage) Close() error {
	p.closed.Add(1)
	return p.closeErr
}

type recordingDeliverer struct {
	mu      sync.Mutex
	results []Result
}

func (d *recordingDeliverer) Deliver(_ context.Context, job model.Job, res Result) (model.JobResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.results = append(d.results, res)
	if res.Kind == KindSuccess {
		return model.JobResult{Job: job, Status: true}, nil
	}
	return model.JobResult{Job: job}, nil
}

func newSupervisor(t *testing.T, page *stubPage, d Deliverer, timeout time.Duration) *Supervisor {
	t.Helper()

	proc, err := processor.New(processor.Options{})
	require.NoError(t, err)

	open := func(context.Context) (Page, error) { return page, nil }
	p := pipeline.New(pipeline.Options{SettleDelay: time.Millisecond})

	return New(open, p, capture.New(proc), d, timeout)
}

func screenshot(t *testing.T) []byte {
	t.Helper()

	buf := bytes.NewBuffer(nil)
	require.NoError(t, imaging.Encode(buf, imaging.New(1024, 1000, color.White), imaging.PNG))

	return buf.Bytes()
}

func job() model.Job {
	return model.Job{ID: "42", URL: "https://example.com", Breakpoint: 1024}
}

func TestRun_Success(t *testing.T) {
	page := &stubPage{png: screenshot(t)}
	d := &recordingDeliverer{}

	res, err := newSupervisor(t, page, d, time.Minute).Run(context.Background(), job())
	require.NoError(t, err)

	assert.True(t, res.Status)
	require.Len(t, d.results, 1)
	assert.Equal(t, KindSuccess, d.results[0].Kind)
	require.NotNil(t, d.results[0].Capture)
	assert.Equal(t, 1000*1024, d.results[0].Capture.Data.PageArea)
	assert.EqualValues(t, 1, page.closed.Load())
}

func TestRun_NavigationFailure(t *testing.T) {
	page := &stubPage{navigateErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	d := &recordingDeliverer{}

	_, err := newSupervisor(t, page, d, time.Minute).Run(context.Background(), job())
	require.NoError(t, err)

	require.Len(t, d.results, 1)
	assert.Equal(t, KindFailure, d.results[0].Kind)
	assert.ErrorContains(t, d.results[0].Err, "ERR_CONNECTION_REFUSED")
	assert.EqualValues(t, 1, page.closed.Load())
}

func TestRun_Timeout(t *testing.T) {
	page := &stubPage{hang: true}
	d := &recordingDeliverer{}

	start := time.Now()
	_, err := newSupervisor(t, page, d, 50*time.Millisecond).Run(context.Background(), job())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, d.results, 1)
	assert.Equal(t, KindTimeout, d.results[0].Kind)
	assert.ErrorIs(t, d.results[0].Err, model.ErrTimeout)
	assert.EqualValues(t, 1, page.closed.Load())
}

func TestRun_InvalidJob(t *testing.T) {
	page := &stubPage{}
	d := &recordingDeliverer{}

	_, err := newSupervisor(t, page, d, time.Minute).Run(context.Background(), model.Job{ID: "1"})
	require.NoError(t, err)

	require.Len(t, d.results, 1)
	assert.Equal(t, KindInvalid, d.results[0].Kind)
	assert.ErrorIs(t, d.results[0].Err, model.ErrInvalidJob)
	// No page is opened for a job that cannot run.
	assert.Zero(t, page.closed.Load())
}

func TestRun_CloseErrorIsNotEscalated(t *testing.T) {
	page := &stubPage{png: screenshot(t), closeErr: errors.New("already closed")}
	d := &recordingDeliverer{}

	res, err := newSupervisor(t, page, d, time.Minute).Run(context.Background(), job())
	require.NoError(t, err)
	assert.True(t, res.Status)
}

func TestRun_OpenPageFails(t *testing.T) {
	d := &recordingDeliverer{}
	s := newSupervisor(t, &stubPage{}, d, time.Minute)
	s.open = func(context.Context) (Page, error) { return nil, errors.New("browser crashed") }

	_, err := s.Run(context.Background(), job())
	require.NoError(t, err)

	require.Len(t, d.results, 1)
	assert.Equal(t, KindFailure, d.results[0].Kind)
}
