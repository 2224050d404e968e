package worker

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// statusErrorLimit caps how many recent failures a status report carries.
const statusErrorLimit = 50

// StatusReport is the control-surface view: the lease row plus recent
// failures.
type StatusReport struct {
	Status *models.CrawlerStatus  `json:"status"`
	Errors []*models.ArticleError `json:"errors"`
}

// Start spawns a detached worker process running one cycle and records its
// PID as the lease holder. The child gets its own process group so Stop can
// signal the whole tree.
func Start(storage interfaces.StorageManager, configPaths []string, logger arbor.ILogger) (int, error) {
	status, err := storage.Status().Get()
	if err != nil {
		return 0, fmt.Errorf("failed to read crawler status: %w", err)
	}
	if status.IsCrawling && status.WorkerPID != nil && pidAlive(*status.WorkerPID) {
		return 0, fmt.Errorf("worker already running with PID %d", *status.WorkerPID)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"-worker"}
	for _, path := range configPaths {
		args = append(args, "-config", path)
	}

	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	// Hold the lease under our own PID before spawning. Writing it after
	// Start races a fast child: its teardown could land first and then be
	// overwritten with a stale lease row. The child accepts a lease naming
	// its parent and takes it over.
	now := time.Now()
	crawling := true
	task := "Starting"
	self := os.Getpid()
	err = storage.Status().Update(&models.StatusPatch{
		IsCrawling:  &crawling,
		WorkerPID:   &self,
		LastRun:     &now,
		CurrentTask: &task,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write lease: %w", err)
	}

	if err := cmd.Start(); err != nil {
		clearLease(storage)
		return 0, fmt.Errorf("failed to spawn worker: %w", err)
	}
	pid := cmd.Process.Pid

	// Reap the child when it exits so it never lingers as a zombie
	common.SafeGo(logger, "worker-reaper", func() { cmd.Wait() })

	logger.Info().Int("pid", pid).Msg("Worker process started")
	return pid, nil
}

// Stop signals the worker's process group, then the process itself, and
// clears the lease.
func Stop(storage interfaces.StorageManager, logger arbor.ILogger) error {
	status, err := storage.Status().Get()
	if err != nil {
		return fmt.Errorf("failed to read crawler status: %w", err)
	}
	if status.WorkerPID == nil {
		logger.Info().Msg("No worker PID recorded, nothing to stop")
		return clearLease(storage)
	}

	pid := *status.WorkerPID
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		logger.Debug().Err(err).Int("pgid", pid).Msg("Process group signal failed")
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		logger.Debug().Err(err).Int("pid", pid).Msg("Process signal failed")
	}

	logger.Info().Int("pid", pid).Msg("Stop signal sent to worker")
	return clearLease(storage)
}

// Status returns the lease row and the latest failures.
func Status(storage interfaces.StorageManager) (*StatusReport, error) {
	status, err := storage.Status().Get()
	if err != nil {
		return nil, fmt.Errorf("failed to read crawler status: %w", err)
	}
	errors, err := storage.Errors().Latest(statusErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent errors: %w", err)
	}
	return &StatusReport{Status: status, Errors: errors}, nil
}

func clearLease(storage interfaces.StorageManager) error {
	crawling := false
	task := "Idle"
	return storage.Status().Update(&models.StatusPatch{
		IsCrawling:     &crawling,
		CurrentTask:    &task,
		ClearWorkerPID: true,
	})
}
