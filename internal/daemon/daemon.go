// internal/daemon/daemon.go

// Package daemon orchestrates the control plane, public plane, store,
// event router, rpc registry and supervisor into one long-lived process:
// lock acquisition, state file ownership, the heartbeat/self-upgrade
// loop and orderly shutdown.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/remcli/internal/auth"
	"github.com/user/remcli/internal/config"
	"github.com/user/remcli/internal/control"
	"github.com/user/remcli/internal/public"
	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/rpc"
	"github.com/user/remcli/internal/store"
	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/tmux"
	"github.com/user/remcli/internal/types"
)

// tmuxSessionName is the multiplexer session owning all daemon-spawned
// windows.
const tmuxSessionName = "remcli"

// shutdownWatchdog forces exit 1 when orderly shutdown stalls.
const shutdownWatchdog = time.Second

// Daemon is one running generation.
type Daemon struct {
	cfg     *config.Config
	version string

	secret []byte
	token  string

	store      *store.Store
	events     *router.Router
	registry   *rpc.Registry
	runner     tmux.Runner
	supervisor *supervisor.Supervisor
	control    *control.Server
	public     *public.Server
	self       *machineClient
	machineID  types.MachineID
	tunnel     Tunnel
	tunnelURL  string
	lock       *Lock

	cron          *cron.Cron
	heartbeatBusy atomic.Bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	fatal        atomic.Bool
}

// Run starts a daemon generation and blocks until shutdown. A nil error
// means exit 0 — including the case where a matching daemon is already
// running or the lock is held by a live process.
func Run(cfg *config.Config, version string) error {
	if err := cfg.EnsureHome(); err != nil {
		return err
	}

	// Step 1: reconcile with any previous generation via its state file.
	if done, err := reconcilePrevious(cfg, version); err != nil {
		return err
	} else if done {
		return nil
	}

	// Step 2: the exclusive lock decides who runs.
	clearStaleLock(cfg.LockFilePath())
	lock, err := AcquireLock(cfg.LockFilePath())
	if err != nil {
		if err == ErrLockHeld {
			slog.Info("another daemon holds the lock", "pid", LockOwner(cfg.LockFilePath()))
			return nil
		}
		return err
	}

	d := &Daemon{
		cfg:        cfg,
		version:    version,
		lock:       lock,
		runner:     tmux.NewCLI(tmuxSessionName),
		tunnel:     noTunnel{},
		shutdownCh: make(chan struct{}),
	}

	if err := d.start(); err != nil {
		lock.Release()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("signal received", "signal", sig)
			d.RequestShutdown(false)
		case <-d.shutdownCh:
		}
	}()

	<-d.shutdownCh
	if d.fatal.Load() {
		return fmt.Errorf("daemon terminated after fatal condition")
	}
	return nil
}

func (d *Daemon) start() error {
	// Step 3: previous-generation children live in our tmux session; a
	// fresh generation owns none.
	if err := d.runner.KillAll(); err != nil {
		slog.Warn("orphan sweep failed", "error", err)
	}

	// Step 4: without a multiplexer there are no PTYs to offer.
	if err := d.runner.Available(); err != nil {
		return fmt.Errorf("terminal multiplexer unavailable: %w", err)
	}

	// Step 5: secret and component graph.
	secret, err := auth.GenerateSecret()
	if err != nil {
		return err
	}
	d.secret = secret
	d.token = auth.DeriveToken(secret)

	d.store = store.New()
	d.store.Load(d.cfg.SnapshotPath())
	d.store.EnableSnapshot(d.cfg.SnapshotPath())

	d.events = router.New(d.store, func() int64 { return time.Now().UnixMilli() })
	d.registry = rpc.New()

	cliPath, err := os.Executable()
	if err != nil {
		cliPath = os.Args[0]
	}
	d.supervisor = supervisor.New(d.runner, cliPath, d.cfg.CredentialsDir())

	d.control = control.NewServer(d.supervisor, func() { d.RequestShutdown(false) })
	if err := d.control.Start(); err != nil {
		return err
	}
	d.supervisor.SetControlURL(d.control.URL())

	d.public = public.NewServer(secret, d.store, d.events, d.registry, d.cfg.WebBundleDir)
	if err := d.public.Start(); err != nil {
		return err
	}

	// Step 6: the state file makes this generation discoverable.
	if err := d.writeStateFile(0); err != nil {
		return err
	}

	// Step 7: register ourselves as a machine-scoped client so RPC
	// dispatches reach the supervisor through the same registry as any
	// remote machine.
	hostname, _ := os.Hostname()
	d.machineID = types.MachineID(hostname)
	metadata, _ := json.Marshal(map[string]string{"host": hostname, "platform": "workstation"})
	selfURL := fmt.Sprintf("ws://127.0.0.1:%d/v1/updates", d.public.Port())
	self, err := startMachineClient(machineClientConfig{
		URL:       selfURL,
		Token:     d.token,
		MachineID: d.machineID,
		Metadata:  base64.StdEncoding.EncodeToString(metadata),
	}, d.supervisor, func() { d.RequestShutdown(false) })
	if err != nil {
		return fmt.Errorf("register self machine client: %w", err)
	}
	d.self = self

	// Step 8: optional public tunnel.
	if d.cfg.Tunnel {
		url, err := d.tunnel.Start(context.Background(), d.public.Port())
		if err != nil {
			slog.Warn("tunnel startup failed", "error", err)
		} else if url != "" {
			d.tunnelURL = url
			if err := d.writeStateFile(0); err != nil {
				slog.Warn("state file refresh failed", "error", err)
			}
		}
	}

	// Step 9: pairing QR.
	connectURL, err := ConnectURL(LANHost(), d.public.Port(), auth.EncodeSecret(d.secret), d.tunnelURL)
	if err != nil {
		return err
	}
	PrintConnectQR(os.Stdout, connectURL)

	d.startHeartbeat()
	if d.cfg.InhibitSleep {
		// TODO: hook up a sleep inhibitor; for now active sessions only
		// keep the daemon busy, not the machine awake.
		slog.Warn("sleep inhibition requested but not supported on this platform")
	}
	slog.Info("daemon running",
		"version", d.version,
		"pid", os.Getpid(),
		"http_port", d.control.Port(),
		"p2p_port", d.public.Port(),
		"variant", d.cfg.Variant,
		"experimental", d.cfg.Experimental,
	)
	return nil
}

func (d *Daemon) writeStateFile(lastHeartbeat int64) error {
	state := &StateFile{
		PID:                   os.Getpid(),
		HTTPPort:              d.control.Port(),
		P2PPort:               d.public.Port(),
		P2PHost:               LANHost(),
		P2PSharedSecret:       auth.EncodeSecret(d.secret),
		TunnelURL:             d.tunnelURL,
		StartTime:             time.Now().UnixMilli(),
		StartedWithCLIVersion: d.version,
		LastHeartbeat:         lastHeartbeat,
		LogPath:               d.cfg.LogsDir(),
	}
	return WriteStateFile(d.cfg.StateFilePath(), state)
}

// startHeartbeat schedules the non-overlapping heartbeat tick.
func (d *Daemon) startHeartbeat() {
	d.cron = cron.New()
	spec := fmt.Sprintf("@every %s", d.cfg.HeartbeatInterval)
	if _, err := d.cron.AddFunc(spec, d.heartbeat); err != nil {
		slog.Error("invalid heartbeat schedule", "spec", spec, "error", err)
		return
	}
	d.cron.Start()
}

// heartbeat prunes dead children, checks for a self-upgrade, verifies
// state-file ownership and refreshes the heartbeat stamp.
func (d *Daemon) heartbeat() {
	if !d.heartbeatBusy.CompareAndSwap(false, true) {
		return
	}
	defer d.heartbeatBusy.Store(false)

	d.supervisor.Prune()

	if diskVersion := readDiskVersion(d.cfg.VersionFilePath()); diskVersion != "" && diskVersion != d.version {
		slog.Info("newer version on disk, handing over", "disk", diskVersion, "running", d.version)
		d.handOver()
		return
	}

	state, err := ReadStateFile(d.cfg.StateFilePath())
	if err == nil && state != nil && state.PID != os.Getpid() {
		slog.Error("state file owned by another pid, terminating", "owner", state.PID)
		d.RequestShutdown(true)
		return
	}

	if err := d.writeStateFile(time.Now().UnixMilli()); err != nil {
		slog.Warn("heartbeat state write failed", "error", err)
	}

	d.events.EmitEphemeral(&types.MachineStatusEphemeral{
		Type:      types.EphemeralMachineStatus,
		MachineID: d.machineID,
		Status:    "running",
		Timestamp: time.Now().UnixMilli(),
	}, router.MachineScoped(d.machineID), nil)
}

// readDiskVersion reads the package version file that can be replaced on
// disk independently of the running binary. Empty means no file, which
// disables the upgrade check.
func readDiskVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// handOver spawns a fresh CLI daemon and parks this process. The new
// generation reads our state file, notices the version mismatch, stops
// us and takes the lock.
func (d *Daemon) handOver() {
	cliPath, err := os.Executable()
	if err != nil {
		cliPath = os.Args[0]
	}
	cmd := exec.Command(cliPath, "daemon", "start")
	cmd.Env = os.Environ()
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		slog.Error("spawn replacement daemon failed", "error", err)
		return
	}
	_ = cmd.Process.Release()

	// Hang until the replacement kills us.
	select {}
}

// RequestShutdown begins orderly teardown exactly once. fatal marks the
// shutdown as caused by an invariant violation so the process exits 1.
func (d *Daemon) RequestShutdown(fatal bool) {
	d.shutdownOnce.Do(func() {
		if fatal {
			d.fatal.Store(true)
		}
		go d.shutdown()
	})
}

func (d *Daemon) shutdown() {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-time.After(shutdownWatchdog):
			slog.Error("orderly shutdown stalled, forcing exit")
			os.Exit(1)
		}
	}()

	slog.Info("shutting down")
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.self != nil {
		d.self.Close()
	}
	d.supervisor.StopAll()
	if err := d.runner.KillAll(); err != nil {
		slog.Warn("multiplexer teardown failed", "error", err)
	}
	if err := d.tunnel.Stop(); err != nil {
		slog.Warn("tunnel stop failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWatchdog/2)
	defer cancel()
	if d.public != nil {
		_ = d.public.Shutdown(ctx)
	}
	if d.control != nil {
		_ = d.control.Shutdown(ctx)
	}

	d.store.Close()
	if err := RemoveStateFile(d.cfg.StateFilePath()); err != nil {
		slog.Warn("state file removal failed", "error", err)
	}
	if err := d.lock.Release(); err != nil {
		slog.Warn("lock release failed", "error", err)
	}

	close(done)
	close(d.shutdownCh)
}

// reconcilePrevious compares the persisted generation's version with
// ours. Matching and alive means nothing to do; mismatched means the old
// daemon is stopped (control stop, then OS kill) before we continue.
func reconcilePrevious(cfg *config.Config, version string) (done bool, err error) {
	state, err := ReadStateFile(cfg.StateFilePath())
	if err != nil {
		slog.Warn("unreadable state file, ignoring", "error", err)
		return false, nil
	}
	if state == nil {
		return false, nil
	}

	client := control.NewClient(fmt.Sprintf("http://127.0.0.1:%d", state.HTTPPort))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	alive := client.Health(ctx)

	if !alive {
		return false, nil
	}
	if state.StartedWithCLIVersion == version {
		slog.Info("daemon already running with matching version", "pid", state.PID, "version", version)
		return true, nil
	}

	slog.Info("stopping previous generation", "pid", state.PID,
		"old_version", state.StartedWithCLIVersion, "new_version", version)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := client.Stop(stopCtx); err != nil {
		slog.Warn("control stop failed, killing", "pid", state.PID, "error", err)
		_ = syscall.Kill(state.PID, syscall.SIGKILL)
	}

	// Wait for the old generation to vacate the lock.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(state.PID, 0) != nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if syscall.Kill(state.PID, 0) == nil {
		_ = syscall.Kill(state.PID, syscall.SIGKILL)
	}
	return false, nil
}

// clearStaleLock removes a lock left behind by a crashed generation: a
// lock whose recorded owner no longer exists.
func clearStaleLock(path string) {
	owner := LockOwner(path)
	if owner == 0 {
		return
	}
	if syscall.Kill(owner, 0) == syscall.ESRCH {
		slog.Warn("clearing stale lock", "owner", owner)
		_ = os.Remove(path)
	}
}
