package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/manifest"
	"github.com/SteelMorgan/mc-bridge/internal/observability"
	"github.com/SteelMorgan/mc-bridge/internal/panel"
	"github.com/SteelMorgan/mc-bridge/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	versionBucket = "release"
	versionKey    = "current_version"
)

// Manifest resolves and downloads server releases
type Manifest interface {
	Latest(ctx context.Context) (manifest.Release, error)
	Download(ctx context.Context, rel manifest.Release, w io.Writer) (int64, error)
}

// Target controls the remote server process
type Target interface {
	Server(ctx context.Context) (panel.Attributes, error)
	Power(ctx context.Context, signal panel.Signal) error
	Status(ctx context.Context) (string, error)
}

// Uploader pushes a local file to the server host
type Uploader interface {
	Put(ctx context.Context, localPath, remotePath string) (int64, error)
}

// Console runs one command on the game process
type Console interface {
	Command(ctx context.Context, command string) (string, error)
}

// Config holds update orchestrator settings
type Config struct {
	Enabled          bool
	RemoteBinaryPath string
	ScratchDir       string
	// StopTimeout bounds the wait for the server to report offline after
	// the stop signal. Zero skips the wait.
	StopTimeout time.Duration
	// Announce broadcasts a restart notice to players before the stop signal
	Announce bool
}

// Kind is the outcome of one check
type Kind string

const (
	KindDeployed Kind = "deployed"
	KindUpToDate Kind = "up_to_date"
	KindSkipped  Kind = "skipped"
	KindFailed   Kind = "failed"
)

// Result describes how a check ended
type Result struct {
	Kind      Kind         `json:"kind"`
	VersionID string       `json:"version_id,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Stage     domain.Stage `json:"stage,omitempty"`
	RunID     string       `json:"run_id"`
}

// Orchestrator checks the manifest and deploys new releases.
// Manual and scheduled checks share one lock and never overlap.
type Orchestrator struct {
	cfg      Config
	db       *store.DB
	manifest Manifest
	target   Target
	files    Uploader
	console  Console

	statusPollInterval time.Duration
	mu                 sync.Mutex
}

// New creates an orchestrator. Nil collaborators make CheckAndDeploy skip
// with domain.ErrNotConfigured; console may be nil.
func New(cfg Config, db *store.DB, m Manifest, target Target, files Uploader, console Console) *Orchestrator {
	if cfg.RemoteBinaryPath == "" {
		cfg.RemoteBinaryPath = "server.jar"
	}
	return &Orchestrator{
		cfg:                cfg,
		db:                 db,
		manifest:           m,
		target:             target,
		files:              files,
		console:            console,
		statusPollInterval: 2 * time.Second,
	}
}

// CurrentVersion returns the recorded version; found is false on first run
func (o *Orchestrator) CurrentVersion() (version string, found bool, err error) {
	return o.db.String(versionBucket, versionKey)
}

// CheckAndDeploy runs one pass of the update state machine.
// A non-nil error accompanies Failed results and ErrNotConfigured skips.
func (o *Orchestrator) CheckAndDeploy(ctx context.Context) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	runID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "updater.check", attribute.String("run_id", runID))

	res, err := o.run(ctx, runID)

	span.SetAttributes(attribute.String("result", string(res.Kind)))
	if res.VersionID != "" {
		span.SetAttributes(attribute.String("version_id", res.VersionID))
	}
	if res.Kind == KindFailed {
		observability.EndSpan(span, err)
	} else {
		observability.EndSpan(span, nil)
	}
	observability.UpdateChecks.WithLabelValues(string(res.Kind)).Inc()

	logger := log.With().Str("run_id", runID).Str("result", string(res.Kind)).Logger()
	switch res.Kind {
	case KindFailed:
		observability.StageFailures.WithLabelValues(string(res.Stage)).Inc()
		logger.Error().
			Err(err).
			Str("stage", string(res.Stage)).
			Str("version_id", res.VersionID).
			Msg("Deploy failed, operator intervention may be required")
	case KindDeployed:
		logger.Info().Str("version_id", res.VersionID).Msg("Server release deployed")
	case KindSkipped:
		logger.Debug().Str("reason", res.Reason).Msg("Update check skipped")
	default:
		logger.Debug().Str("version_id", res.VersionID).Msg("Server is up to date")
	}

	return res, err
}

func (o *Orchestrator) run(ctx context.Context, runID string) (Result, error) {
	if !o.cfg.Enabled {
		return Result{Kind: KindSkipped, Reason: "updater disabled", RunID: runID}, nil
	}
	if o.manifest == nil || o.target == nil || o.files == nil {
		return Result{Kind: KindSkipped, Reason: "updater endpoints not configured", RunID: runID},
			fmt.Errorf("updater: %w", domain.ErrNotConfigured)
	}

	failed := func(stage domain.Stage, version string, err error) (Result, error) {
		return Result{Kind: KindFailed, Stage: stage, VersionID: version, RunID: runID},
			&domain.StageError{Stage: stage, Err: err}
	}

	// INSPECT: never deploy onto something that is not a game server
	attrs, err := o.target.Server(ctx)
	if err != nil {
		return failed(domain.StageInspect, "", err)
	}
	if !attrs.IsMinecraft {
		return Result{Kind: KindSkipped, Reason: "target is not a game server", RunID: runID}, nil
	}
	if attrs.IsSuspended {
		return Result{Kind: KindSkipped, Reason: "target is suspended", RunID: runID}, nil
	}

	// FETCH_MANIFEST
	rel, err := o.manifest.Latest(ctx)
	if err != nil {
		return failed(domain.StageManifest, "", err)
	}

	// COMPARE
	current, found, err := o.CurrentVersion()
	if err != nil {
		return failed(domain.StageCompare, rel.ID, err)
	}
	if found && current == rel.ID {
		return Result{Kind: KindUpToDate, VersionID: rel.ID, RunID: runID}, nil
	}

	log.Info().
		Str("run_id", runID).
		Str("current_version", current).
		Str("latest_version", rel.ID).
		Msg("New server release available")

	// DOWNLOAD
	binaryPath, err := o.download(ctx, rel)
	if binaryPath != "" {
		defer os.Remove(binaryPath)
	}
	if err != nil {
		return failed(domain.StageDownload, rel.ID, err)
	}

	// From here on the remote server is being changed; caller cancellation
	// must not leave it stopped halfway through.
	ctx = context.WithoutCancel(ctx)

	// STOP_SERVER is best-effort: an already stopped server must not block the deploy
	o.announce(ctx, rel.ID)
	if err := o.stage(ctx, domain.StageStop, func(ctx context.Context) error {
		return o.target.Power(ctx, panel.SignalStop)
	}); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("Stop signal failed, continuing with upload")
	} else {
		o.waitOffline(ctx)
	}

	// UPLOAD
	if err := o.stage(ctx, domain.StageUpload, func(ctx context.Context) error {
		_, err := o.files.Put(ctx, binaryPath, o.cfg.RemoteBinaryPath)
		return err
	}); err != nil {
		return failed(domain.StageUpload, rel.ID, err)
	}

	// START_SERVER
	if err := o.stage(ctx, domain.StageStart, func(ctx context.Context) error {
		return o.target.Power(ctx, panel.SignalStart)
	}); err != nil {
		return failed(domain.StageStart, rel.ID, err)
	}

	// RECORD_VERSION only after a successful start
	if err := o.db.PutString(versionBucket, versionKey, rel.ID); err != nil {
		return failed(domain.StageRecord, rel.ID, err)
	}

	return Result{Kind: KindDeployed, VersionID: rel.ID, RunID: runID}, nil
}

// download writes the release to a scratch file and returns its path.
// The path is returned even on failure so the caller can remove it.
func (o *Orchestrator) download(ctx context.Context, rel manifest.Release) (string, error) {
	f, err := os.CreateTemp(o.cfg.ScratchDir, "server-*.jar")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	path := f.Name()

	err = o.stage(ctx, domain.StageDownload, func(ctx context.Context) error {
		n, err := o.manifest.Download(ctx, rel, f)
		if err != nil {
			return err
		}
		log.Info().Str("version_id", rel.ID).Int64("bytes", n).Msg("Server release downloaded")
		return nil
	})

	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close scratch file: %w", closeErr)
	}
	return path, err
}

func (o *Orchestrator) stage(ctx context.Context, stage domain.Stage, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "updater.stage", attribute.String("stage", string(stage)))
	started := time.Now()

	err := fn(ctx)

	observability.EndSpan(span, err)
	log.Debug().
		Str("stage", string(stage)).
		Dur("duration", time.Since(started)).
		Bool("ok", err == nil).
		Msg("Deploy stage finished")
	return err
}

func (o *Orchestrator) announce(ctx context.Context, version string) {
	if o.console == nil || !o.cfg.Announce {
		return
	}
	cmd := fmt.Sprintf("say Updating server to %s, restarting now", version)
	if _, err := o.console.Command(ctx, cmd); err != nil {
		log.Debug().Err(err).Msg("Pre-stop announcement failed")
	}
}

// waitOffline polls the server state until it reports offline or StopTimeout passes
func (o *Orchestrator) waitOffline(ctx context.Context) {
	if o.cfg.StopTimeout <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout)
	defer cancel()

	ticker := time.NewTicker(o.statusPollInterval)
	defer ticker.Stop()

	for {
		state, err := o.target.Status(ctx)
		if err == nil && state == "offline" {
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Warn().
					Str("last_state", state).
					Dur("timeout", o.cfg.StopTimeout).
					Msg("Server did not report offline in time, uploading anyway")
			}
			return
		case <-ticker.C:
		}
	}
}
