package updater

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/manifest"
	"github.com/SteelMorgan/mc-bridge/internal/panel"
	"github.com/SteelMorgan/mc-bridge/internal/store"
)

type fakeManifest struct {
	release     manifest.Release
	latestErr   error
	downloadErr error
	payload     string
	downloads   int
}

func (m *fakeManifest) Latest(context.Context) (manifest.Release, error) {
	return m.release, m.latestErr
}

func (m *fakeManifest) Download(_ context.Context, _ manifest.Release, w io.Writer) (int64, error) {
	m.downloads++
	if m.downloadErr != nil {
		return 0, m.downloadErr
	}
	n, err := io.WriteString(w, m.payload)
	return int64(n), err
}

type fakeTarget struct {
	attrs     panel.Attributes
	serverErr error
	powerErr  map[panel.Signal]error
	signals   []panel.Signal
	state     string
	onPower   func(panel.Signal)
}

func (t *fakeTarget) Server(context.Context) (panel.Attributes, error) {
	return t.attrs, t.serverErr
}

func (t *fakeTarget) Power(_ context.Context, signal panel.Signal) error {
	t.signals = append(t.signals, signal)
	if t.onPower != nil {
		t.onPower(signal)
	}
	return t.powerErr[signal]
}

func (t *fakeTarget) Status(context.Context) (string, error) {
	return t.state, nil
}

type fakeUploader struct {
	err      error
	uploaded []string
	remote   string
}

func (u *fakeUploader) Put(ctx context.Context, localPath, remotePath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if u.err != nil {
		return 0, u.err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	u.uploaded = append(u.uploaded, string(data))
	u.remote = remotePath
	return int64(len(data)), nil
}

type fakeConsole struct {
	commands []string
}

func (c *fakeConsole) Command(_ context.Context, command string) (string, error) {
	c.commands = append(c.commands, command)
	return "", nil
}

type fixture struct {
	db       *store.DB
	manifest *fakeManifest
	target   *fakeTarget
	files    *fakeUploader
	console  *fakeConsole
	scratch  string
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		manifest: &fakeManifest{release: manifest.Release{ID: "1.21.0", DownloadURL: "https://example.invalid/server.jar"}, payload: "jar-bytes"},
		target:   &fakeTarget{attrs: panel.Attributes{IsMinecraft: true}, powerErr: map[panel.Signal]error{}},
		files:    &fakeUploader{},
		console:  &fakeConsole{},
		scratch:  t.TempDir(),
	}
	cfg := Config{Enabled: true, RemoteBinaryPath: "server.jar", ScratchDir: f.scratch, Announce: true}
	f.orch = New(cfg, db, f.manifest, f.target, f.files, f.console)
	return f
}

func (f *fixture) recorded(t *testing.T) (string, bool) {
	t.Helper()
	v, found, err := f.orch.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	return v, found
}

func TestCheckAndDeploy_FullDeploy(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil {
		t.Fatalf("CheckAndDeploy: %v", err)
	}
	if res.Kind != KindDeployed || res.VersionID != "1.21.0" {
		t.Fatalf("result = %+v, want Deployed(1.21.0)", res)
	}
	if res.RunID == "" {
		t.Error("expected run ID")
	}

	want := []panel.Signal{panel.SignalStop, panel.SignalStart}
	if len(f.target.signals) != 2 || f.target.signals[0] != want[0] || f.target.signals[1] != want[1] {
		t.Errorf("signals = %v, want %v", f.target.signals, want)
	}
	if len(f.files.uploaded) != 1 || f.files.uploaded[0] != "jar-bytes" || f.files.remote != "server.jar" {
		t.Errorf("uploaded %q to %q", f.files.uploaded, f.files.remote)
	}
	if len(f.console.commands) != 1 {
		t.Errorf("expected one announcement, got %q", f.console.commands)
	}
	if v, found := f.recorded(t); !found || v != "1.21.0" {
		t.Errorf("recorded version = %q (found %v)", v, found)
	}

	entries, err := os.ReadDir(f.scratch)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir has %d leftover files", len(entries))
	}
}

func TestCheckAndDeploy_NoOpOnMatch(t *testing.T) {
	f := newFixture(t)
	if err := f.db.PutString(versionBucket, versionKey, "1.21.0"); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil {
		t.Fatalf("CheckAndDeploy: %v", err)
	}
	if res.Kind != KindUpToDate {
		t.Fatalf("Kind = %s, want up_to_date", res.Kind)
	}
	if f.manifest.downloads != 0 || len(f.target.signals) != 0 || len(f.files.uploaded) != 0 {
		t.Errorf("side effects on match: downloads=%d signals=%v uploads=%d",
			f.manifest.downloads, f.target.signals, len(f.files.uploaded))
	}
}

func TestCheckAndDeploy_OlderLatestStillDeploys(t *testing.T) {
	f := newFixture(t)
	if err := f.db.PutString(versionBucket, versionKey, "1.22.0"); err != nil {
		t.Fatalf("seed version: %v", err)
	}

	res, _ := f.orch.CheckAndDeploy(context.Background())
	if res.Kind != KindDeployed {
		t.Errorf("Kind = %s, want deployed (ids compare by equality only)", res.Kind)
	}
}

func TestCheckAndDeploy_StopFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.target.powerErr[panel.SignalStop] = errors.New("already stopped")

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil {
		t.Fatalf("CheckAndDeploy: %v", err)
	}
	if res.Kind != KindDeployed {
		t.Fatalf("Kind = %s, want deployed", res.Kind)
	}
	if len(f.files.uploaded) != 1 {
		t.Errorf("expected upload after failed stop")
	}
}

func TestCheckAndDeploy_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantStage domain.Stage
		wantStart bool
	}{
		{
			name:      "inspect",
			setup:     func(f *fixture) { f.target.serverErr = errors.New("401") },
			wantStage: domain.StageInspect,
		},
		{
			name: "manifest",
			setup: func(f *fixture) {
				f.manifest.latestErr = &domain.ParseError{Source: "manifest", Err: errors.New("bad json")}
			},
			wantStage: domain.StageManifest,
		},
		{
			name:      "download",
			setup:     func(f *fixture) { f.manifest.downloadErr = manifest.ErrChecksumMismatch },
			wantStage: domain.StageDownload,
		},
		{
			name:      "upload",
			setup:     func(f *fixture) { f.files.err = &domain.TransportError{Op: "sftp create", Err: errors.New("eof")} },
			wantStage: domain.StageUpload,
		},
		{
			name:      "start",
			setup:     func(f *fixture) { f.target.powerErr[panel.SignalStart] = errors.New("500") },
			wantStage: domain.StageStart,
			wantStart: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res, err := f.orch.CheckAndDeploy(context.Background())
			if res.Kind != KindFailed || res.Stage != tt.wantStage {
				t.Fatalf("result = %+v, want failed at %s", res, tt.wantStage)
			}

			var stageErr *domain.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != tt.wantStage {
				t.Errorf("err = %v, want StageError(%s)", err, tt.wantStage)
			}

			started := false
			for _, s := range f.target.signals {
				if s == panel.SignalStart {
					started = true
				}
			}
			if started != tt.wantStart {
				t.Errorf("start signal sent = %v, want %v", started, tt.wantStart)
			}

			if _, found := f.recorded(t); found {
				t.Error("version recorded after failed deploy")
			}
		})
	}
}

func TestCheckAndDeploy_Skips(t *testing.T) {
	f := newFixture(t)
	f.target.attrs.IsMinecraft = false

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindSkipped {
		t.Errorf("non game server: result=%+v err=%v", res, err)
	}
	if f.manifest.downloads != 0 {
		t.Error("downloaded for non game server")
	}

	disabled := New(Config{}, f.db, f.manifest, f.target, f.files, nil)
	res, err = disabled.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindSkipped {
		t.Errorf("disabled: result=%+v err=%v", res, err)
	}

	unconfigured := New(Config{Enabled: true}, f.db, nil, nil, nil, nil)
	res, err = unconfigured.CheckAndDeploy(context.Background())
	if !errors.Is(err, domain.ErrNotConfigured) || res.Kind != KindSkipped {
		t.Errorf("unconfigured: result=%+v err=%v", res, err)
	}
}

func TestCheckAndDeploy_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.files.err = errors.New("connection lost")

	if res, _ := f.orch.CheckAndDeploy(context.Background()); res.Kind != KindFailed {
		t.Fatalf("first pass Kind = %s, want failed", res.Kind)
	}

	f.files.err = nil
	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindDeployed {
		t.Fatalf("second pass result=%+v err=%v", res, err)
	}
	if f.manifest.downloads != 2 {
		t.Errorf("downloads = %d, want 2", f.manifest.downloads)
	}
}

func TestWaitOffline(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.StopTimeout = 50 * time.Millisecond
	f.orch.statusPollInterval = time.Millisecond
	f.target.state = "offline"

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindDeployed {
		t.Fatalf("result=%+v err=%v", res, err)
	}

	f.target.state = "running"
	f.db.PutString(versionBucket, versionKey, "old")
	res, err = f.orch.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindDeployed {
		t.Fatalf("timeout path result=%+v err=%v", res, err)
	}
}

func TestCheckAndDeploy_CallerCancelDuringStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.target.onPower = func(signal panel.Signal) {
		if signal == panel.SignalStop {
			cancel()
		}
	}

	res, err := f.orch.CheckAndDeploy(ctx)
	if err != nil || res.Kind != KindDeployed {
		t.Fatalf("result=%+v err=%v, want deployed despite cancellation", res, err)
	}
	if len(f.target.signals) != 2 || f.target.signals[1] != panel.SignalStart {
		t.Errorf("signals = %v, want stop then start", f.target.signals)
	}
	if v, found := f.recorded(t); !found || v != "1.21.0" {
		t.Errorf("recorded version = %q (found %v)", v, found)
	}
}

func TestCheckAndDeploy_SuspendedTarget(t *testing.T) {
	f := newFixture(t)
	f.target.attrs.IsSuspended = true

	res, err := f.orch.CheckAndDeploy(context.Background())
	if err != nil || res.Kind != KindSkipped {
		t.Fatalf("result=%+v err=%v, want skipped", res, err)
	}
	if f.manifest.downloads != 0 || len(f.target.signals) != 0 {
		t.Errorf("suspended target touched: downloads=%d signals=%v", f.manifest.downloads, f.target.signals)
	}
}
