package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressPrinterLifecycle(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter("Reading sample", "Connecting")
	p.out = &buf

	p.Start()
	time.Sleep(150 * time.Millisecond)
	p.Callback()("Sampling")
	time.Sleep(150 * time.Millisecond)
	p.Stop()
	p.Stop() // repeat Stop is a no-op

	out := buf.String()
	assert.Contains(t, out, "Reading sample (Connecting")
	assert.Contains(t, out, "Reading sample (Sampling")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"), "the line is cleared on Stop")
}

func TestProgressPrinterStopPhase(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter("Scanning", "Scanning", "Processing results")
	p.out = &buf

	p.Start()
	p.Callback()("Processing results")

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("printer kept running after its stop phase")
	}
}

func TestProgressPrinterCountdownSeconds(t *testing.T) {
	p := NewCountdownProgressPrinter("Scanning", "Scanning", 10*time.Second)
	p.startedAt = time.Now()
	assert.Equal(t, 10, p.seconds())
}
