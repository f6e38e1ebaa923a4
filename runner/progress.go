package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// ProgressIndicator interface for UI updates
type ProgressIndicator interface {
	StartRun(totalTests int)
	StartTest(testName string)
	UpdateTest(testName string, status types.TestStatus)
	CompleteRun()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) StartRun(totalTests int)                             {}
func (n *noOpProgressIndicator) StartTest(testName string)                           {}
func (n *noOpProgressIndicator) UpdateTest(testName string, status types.TestStatus) {}
func (n *noOpProgressIndicator) CompleteRun()                                        {}

// consoleProgressIndicator periodically logs how far the run has got
type consoleProgressIndicator struct {
	logger   log.Logger
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex

	completed int
	total     int
	counts    map[types.TestStatus]int
	startTime time.Time

	// test name -> start time
	running map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that shows updates in the console
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}
	return &consoleProgressIndicator{
		logger:   logger,
		interval: updateInterval,
		stopCh:   make(chan struct{}),
		counts:   make(map[types.TestStatus]int),
		running:  make(map[string]time.Time),
	}
}

func (c *consoleProgressIndicator) StartRun(totalTests int) {
	c.mu.Lock()
	c.total = totalTests
	c.completed = 0
	c.startTime = time.Now()
	c.ticker = time.NewTicker(c.interval)
	c.mu.Unlock()

	c.logger.Info("Starting run", "totalTests", totalTests)
	go c.progressReporter()
}

// StartTest tracks when a test starts running
func (c *consoleProgressIndicator) StartTest(testName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[testName] = time.Now()
	c.logger.Debug("Test started", "test", testName, "runningTests", len(c.running))
}

func (c *consoleProgressIndicator) UpdateTest(testName string, status types.TestStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, testName)
	c.completed++
	c.counts[status]++
	c.logger.Debug("Test completed", "test", testName, "status", status, "completed", c.completed, "total", c.total)
}

func (c *consoleProgressIndicator) CompleteRun() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.ticker != nil {
			c.ticker.Stop()
		}
		c.logger.Info("Completed run", "completed", c.completed, "total", c.total,
			"duration", time.Since(c.startTime).Truncate(time.Millisecond))
	})
}

func (c *consoleProgressIndicator) progressReporter() {
	c.mu.RLock()
	ticker := c.ticker
	c.mu.RUnlock()
	for {
		select {
		case <-ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var percentComplete float64
	if c.total > 0 {
		percentComplete = float64(c.completed) * 100.0 / float64(c.total)
	}
	c.logger.Info("Progress update",
		"completed", c.completed,
		"total", c.total,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"failed", c.counts[types.TestStatusFailed]+c.counts[types.TestStatusTimedOut],
		"numRunning", len(c.running),
		"longestRunning", formatRunningTests(c.running, 3),
	)
}

// formatRunningTests lists the longest running tests first
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}
	type runningTest struct {
		name     string
		duration time.Duration
	}
	var running []runningTest
	now := time.Now()
	for name, start := range runningTests {
		running = append(running, runningTest{name: name, duration: now.Sub(start)})
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].duration == running[j].duration {
			return running[i].name < running[j].name
		}
		return running[i].duration > running[j].duration
	})

	var parts []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(running)-maxShow))
	}
	return strings.Join(parts, ", ")
}
